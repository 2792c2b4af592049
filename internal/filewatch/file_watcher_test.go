package filewatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for FileWatcher:
// - NewFileWatcher creates watcher successfully with a valid root
// - NewFileWatcher returns error with invalid root
// - NewFileWatcher returns error on an invalid glob pattern
// - Single file change fires callback after debounce
// - Multiple file changes are batched into one callback
// - Debouncing works (rapid changes coalesced into single callback)
// - Pause/Resume behavior (accumulate during pause, fire on resume)
// - File created triggers callback
// - File deleted triggers callback
// - File renamed triggers callback (may appear as delete + create)
// - Directory added triggers recursive watch
// - Stop() cleanup (no goroutine leaks)
// - Context cancellation stops watcher
// - Include/exclude glob filtering (only in-scope paths trigger callback)
// - The daemon's own state directory is always ignored, even if included
// - Deduplication (same file modified twice appears once in batch)
// - Concurrent Stop() calls are safe
// - Zero Limits falls back to DefaultLimits

func newTestWatcher(t *testing.T, root string, include, exclude []string) FileWatcher {
	t.Helper()
	w, err := NewFileWatcher(root, include, exclude, Limits{})
	require.NoError(t, err)
	return w
}

func TestNewFileWatcher_Success(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	watcher := newTestWatcher(t, tempDir, []string{"**/*.go", "**/*.ts", "**/*.md"}, nil)
	require.NotNil(t, watcher)
	require.NoError(t, watcher.Stop())
}

func TestNewFileWatcher_InvalidDirectory(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	nonexistent := filepath.Join(tempDir, "nonexistent")

	watcher, err := NewFileWatcher(nonexistent, []string{"**/*.go"}, nil, Limits{})
	assert.Error(t, err)
	assert.Nil(t, watcher)
}

func TestNewFileWatcher_InvalidGlobPattern(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	watcher, err := NewFileWatcher(tempDir, []string{"[invalid"}, nil, Limits{})
	assert.Error(t, err)
	assert.Nil(t, watcher)
}

func TestFileWatcher_SingleFileChange(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	watcher := newTestWatcher(t, tempDir, []string{"**/*.go"}, nil)
	defer watcher.Stop()

	var callbackMu sync.Mutex
	var callbackFiles []string
	callbackCalled := make(chan struct{})

	callback := func(files []string) {
		callbackMu.Lock()
		callbackFiles = files
		callbackMu.Unlock()
		callbackCalled <- struct{}{}
	}

	ctx := context.Background()
	require.NoError(t, watcher.Start(ctx, callback))

	time.Sleep(100 * time.Millisecond)

	testFile := filepath.Join(tempDir, "test.go")
	require.NoError(t, os.WriteFile(testFile, []byte("package main"), 0644))

	select {
	case <-callbackCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("Callback not called after timeout")
	}

	callbackMu.Lock()
	defer callbackMu.Unlock()
	assert.Equal(t, 1, len(callbackFiles))
	assert.Contains(t, callbackFiles, testFile)
}

func TestFileWatcher_MultipleFileChanges(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	watcher := newTestWatcher(t, tempDir, []string{"**/*.go"}, nil)
	defer watcher.Stop()

	var callbackMu sync.Mutex
	var callbackFiles []string
	callbackCalled := make(chan struct{})

	callback := func(files []string) {
		callbackMu.Lock()
		callbackFiles = files
		callbackMu.Unlock()
		callbackCalled <- struct{}{}
	}

	ctx := context.Background()
	require.NoError(t, watcher.Start(ctx, callback))
	time.Sleep(100 * time.Millisecond)

	file1 := filepath.Join(tempDir, "file1.go")
	file2 := filepath.Join(tempDir, "file2.go")
	file3 := filepath.Join(tempDir, "file3.go")

	require.NoError(t, os.WriteFile(file1, []byte("package main"), 0644))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(file2, []byte("package main"), 0644))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(file3, []byte("package main"), 0644))

	select {
	case <-callbackCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("Callback not called after timeout")
	}

	callbackMu.Lock()
	defer callbackMu.Unlock()
	assert.Equal(t, 3, len(callbackFiles))
	assert.Contains(t, callbackFiles, file1)
	assert.Contains(t, callbackFiles, file2)
	assert.Contains(t, callbackFiles, file3)
}

func TestFileWatcher_Debouncing(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	watcher := newTestWatcher(t, tempDir, []string{"**/*.go"}, nil)
	defer watcher.Stop()

	fw := watcher.(*fileWatcher)
	fw.debounceTime = 200 * time.Millisecond

	callbackCount := 0
	var countMu sync.Mutex
	callbackCalled := make(chan struct{}, 10)

	callback := func(files []string) {
		countMu.Lock()
		callbackCount++
		countMu.Unlock()
		callbackCalled <- struct{}{}
	}

	ctx := context.Background()
	require.NoError(t, watcher.Start(ctx, callback))
	time.Sleep(100 * time.Millisecond)

	testFile := filepath.Join(tempDir, "test.go")
	require.NoError(t, os.WriteFile(testFile, []byte("package main\n// v1"), 0644))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(testFile, []byte("package main\n// v2"), 0644))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(testFile, []byte("package main\n// v3"), 0644))

	select {
	case <-callbackCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("Callback not called after timeout")
	}

	time.Sleep(500 * time.Millisecond)

	countMu.Lock()
	defer countMu.Unlock()
	assert.Equal(t, 1, callbackCount, "Should have exactly one callback due to debouncing")
}

func TestFileWatcher_PauseResume(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	watcher := newTestWatcher(t, tempDir, []string{"**/*.go"}, nil)
	defer watcher.Stop()

	var callbackMu sync.Mutex
	var callbackFiles []string
	callbackCalled := make(chan struct{}, 10)

	callback := func(files []string) {
		callbackMu.Lock()
		callbackFiles = append(callbackFiles, files...)
		callbackMu.Unlock()
		callbackCalled <- struct{}{}
	}

	ctx := context.Background()
	require.NoError(t, watcher.Start(ctx, callback))
	time.Sleep(100 * time.Millisecond)

	watcher.Pause()

	pausedFile := filepath.Join(tempDir, "paused.go")
	require.NoError(t, os.WriteFile(pausedFile, []byte("package main"), 0644))

	time.Sleep(1 * time.Second)

	callbackMu.Lock()
	countWhilePaused := len(callbackFiles)
	callbackMu.Unlock()
	assert.Equal(t, 0, countWhilePaused, "No callbacks should fire while paused")

	watcher.Resume()

	select {
	case <-callbackCalled:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Callback not called after Resume()")
	}

	callbackMu.Lock()
	defer callbackMu.Unlock()
	assert.Contains(t, callbackFiles, pausedFile)
}

func TestFileWatcher_FileCreated(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	watcher := newTestWatcher(t, tempDir, []string{"**/*.go"}, nil)
	defer watcher.Stop()

	callbackCalled := make(chan struct{})
	var receivedFile string

	callback := func(files []string) {
		if len(files) > 0 {
			receivedFile = files[0]
			callbackCalled <- struct{}{}
		}
	}

	ctx := context.Background()
	require.NoError(t, watcher.Start(ctx, callback))
	time.Sleep(100 * time.Millisecond)

	newFile := filepath.Join(tempDir, "new.go")
	require.NoError(t, os.WriteFile(newFile, []byte("package main"), 0644))

	select {
	case <-callbackCalled:
		assert.Equal(t, newFile, receivedFile)
	case <-time.After(2 * time.Second):
		t.Fatal("Callback not called after file creation")
	}
}

func TestFileWatcher_FileDeleted(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test.go")
	require.NoError(t, os.WriteFile(testFile, []byte("package main"), 0644))

	watcher := newTestWatcher(t, tempDir, []string{"**/*.go"}, nil)
	defer watcher.Stop()

	callbackCalled := make(chan struct{})
	var receivedFile string

	callback := func(files []string) {
		if len(files) > 0 {
			receivedFile = files[0]
			callbackCalled <- struct{}{}
		}
	}

	ctx := context.Background()
	require.NoError(t, watcher.Start(ctx, callback))
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.Remove(testFile))

	select {
	case <-callbackCalled:
		assert.Equal(t, testFile, receivedFile)
	case <-time.After(2 * time.Second):
		t.Fatal("Callback not called after file deletion")
	}
}

func TestFileWatcher_FileRenamed(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	oldFile := filepath.Join(tempDir, "old.go")
	require.NoError(t, os.WriteFile(oldFile, []byte("package main"), 0644))

	watcher := newTestWatcher(t, tempDir, []string{"**/*.go"}, nil)
	defer watcher.Stop()

	var callbackMu sync.Mutex
	var callbackFiles []string
	callbackCalled := make(chan struct{})

	callback := func(files []string) {
		callbackMu.Lock()
		callbackFiles = files
		callbackMu.Unlock()
		callbackCalled <- struct{}{}
	}

	ctx := context.Background()
	require.NoError(t, watcher.Start(ctx, callback))
	time.Sleep(100 * time.Millisecond)

	newFile := filepath.Join(tempDir, "new.go")
	require.NoError(t, os.Rename(oldFile, newFile))

	select {
	case <-callbackCalled:
		callbackMu.Lock()
		assert.NotEmpty(t, callbackFiles)
		callbackMu.Unlock()
	case <-time.After(2 * time.Second):
		t.Fatal("Callback not called after file rename")
	}
}

func TestFileWatcher_DirectoryAdded(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	watcher := newTestWatcher(t, tempDir, []string{"**/*.go"}, nil)
	defer watcher.Stop()

	var callbackMu sync.Mutex
	var allCallbackFiles []string
	callbackCalled := make(chan struct{}, 10)

	callback := func(files []string) {
		callbackMu.Lock()
		allCallbackFiles = append(allCallbackFiles, files...)
		callbackMu.Unlock()
		callbackCalled <- struct{}{}
	}

	ctx := context.Background()
	require.NoError(t, watcher.Start(ctx, callback))
	time.Sleep(100 * time.Millisecond)

	newDir := filepath.Join(tempDir, "newdir")
	require.NoError(t, os.Mkdir(newDir, 0755))

	time.Sleep(300 * time.Millisecond)

	fileInNewDir := filepath.Join(newDir, "test.go")
	require.NoError(t, os.WriteFile(fileInNewDir, []byte("package main"), 0644))

	select {
	case <-callbackCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("Callback not called for file in new directory")
	}

	callbackMu.Lock()
	defer callbackMu.Unlock()
	assert.Contains(t, allCallbackFiles, fileInNewDir)
}

func TestFileWatcher_StopCleanup(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	watcher := newTestWatcher(t, tempDir, []string{"**/*.go"}, nil)

	callback := func(files []string) {}

	ctx := context.Background()
	require.NoError(t, watcher.Start(ctx, callback))
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, watcher.Stop())
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond)

	// Calling Stop() again should be safe
	require.NoError(t, watcher.Stop())
}

func TestFileWatcher_ContextCancellation(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	watcher := newTestWatcher(t, tempDir, []string{"**/*.go"}, nil)
	defer watcher.Stop()

	callback := func(files []string) {}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, watcher.Start(ctx, callback))
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	cancel()

	fw := watcher.(*fileWatcher)
	<-fw.doneCh
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond)
}

// Test: include/exclude glob filtering mirrors internal/discovery's
// semantics instead of a flat extension set.
func TestFileWatcher_IncludeExcludeFiltering(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	watcher := newTestWatcher(t, tempDir, []string{"**/*.go", "**/*.md"}, []string{"vendor/**"})
	defer watcher.Stop()

	require.NoError(t, os.MkdirAll(filepath.Join(tempDir, "vendor"), 0755))

	var callbackMu sync.Mutex
	var callbackFiles []string
	callbackCalled := make(chan struct{}, 10)

	callback := func(files []string) {
		callbackMu.Lock()
		callbackFiles = append(callbackFiles, files...)
		callbackMu.Unlock()
		callbackCalled <- struct{}{}
	}

	ctx := context.Background()
	require.NoError(t, watcher.Start(ctx, callback))
	time.Sleep(100 * time.Millisecond)

	goFile := filepath.Join(tempDir, "test.go")
	mdFile := filepath.Join(tempDir, "README.md")
	txtFile := filepath.Join(tempDir, "notes.txt")
	vendoredFile := filepath.Join(tempDir, "vendor", "dep.go")

	require.NoError(t, os.WriteFile(goFile, []byte("package main"), 0644))
	require.NoError(t, os.WriteFile(mdFile, []byte("# Title"), 0644))
	require.NoError(t, os.WriteFile(txtFile, []byte("notes"), 0644))
	require.NoError(t, os.WriteFile(vendoredFile, []byte("package dep"), 0644))

	select {
	case <-callbackCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("Callback not called")
	}

	time.Sleep(300 * time.Millisecond)

	callbackMu.Lock()
	defer callbackMu.Unlock()
	assert.Contains(t, callbackFiles, goFile)
	assert.Contains(t, callbackFiles, mdFile)
	assert.NotContains(t, callbackFiles, txtFile)
	assert.NotContains(t, callbackFiles, vendoredFile)
}

// Test: the daemon's own state directory is never watched, even when an
// overly broad include pattern would otherwise match it.
func TestFileWatcher_AlwaysIgnoresStateDir(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tempDir, ".code-indexer"), 0755))

	watcher := newTestWatcher(t, tempDir, []string{"**/*"}, nil)
	defer watcher.Stop()

	var callbackMu sync.Mutex
	var callbackFiles []string
	callbackCalled := make(chan struct{}, 10)

	callback := func(files []string) {
		callbackMu.Lock()
		callbackFiles = append(callbackFiles, files...)
		callbackMu.Unlock()
		callbackCalled <- struct{}{}
	}

	ctx := context.Background()
	require.NoError(t, watcher.Start(ctx, callback))
	time.Sleep(100 * time.Millisecond)

	ignoredFile := filepath.Join(tempDir, ".code-indexer", "metadata.json")
	require.NoError(t, os.WriteFile(ignoredFile, []byte("{}"), 0644))

	normalFile := filepath.Join(tempDir, "main.go")
	require.NoError(t, os.WriteFile(normalFile, []byte("package main"), 0644))

	select {
	case <-callbackCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("Callback not called")
	}

	callbackMu.Lock()
	defer callbackMu.Unlock()
	assert.Contains(t, callbackFiles, normalFile)
	assert.NotContains(t, callbackFiles, ignoredFile)
}

func TestFileWatcher_Deduplication(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	watcher := newTestWatcher(t, tempDir, []string{"**/*.go"}, nil)
	defer watcher.Stop()

	var callbackMu sync.Mutex
	var callbackFiles []string
	callbackCalled := make(chan struct{})

	callback := func(files []string) {
		callbackMu.Lock()
		callbackFiles = files
		callbackMu.Unlock()
		callbackCalled <- struct{}{}
	}

	ctx := context.Background()
	require.NoError(t, watcher.Start(ctx, callback))
	time.Sleep(100 * time.Millisecond)

	testFile := filepath.Join(tempDir, "test.go")
	require.NoError(t, os.WriteFile(testFile, []byte("package main\n// v1"), 0644))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(testFile, []byte("package main\n// v2"), 0644))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(testFile, []byte("package main\n// v3"), 0644))

	select {
	case <-callbackCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("Callback not called")
	}

	callbackMu.Lock()
	defer callbackMu.Unlock()
	assert.Equal(t, 1, len(callbackFiles), "File should appear only once despite multiple modifications")
	assert.Equal(t, testFile, callbackFiles[0])
}

func TestFileWatcher_ConcurrentStop(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	watcher := newTestWatcher(t, tempDir, []string{"**/*.go"}, nil)

	callback := func(files []string) {}

	ctx := context.Background()
	require.NoError(t, watcher.Start(ctx, callback))
	time.Sleep(100 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			watcher.Stop()
		}()
	}

	wg.Wait()
}

func TestNewFileWatcher_ZeroLimitsUsesDefaults(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	watcher, err := NewFileWatcher(tempDir, []string{"**/*.go"}, nil, Limits{})
	require.NoError(t, err)
	defer watcher.Stop()

	fw := watcher.(*fileWatcher)
	assert.Equal(t, DefaultLimits.MaxDirectories, fw.limits.MaxDirectories)
	assert.Equal(t, DefaultLimits.MaxDepth, fw.limits.MaxDepth)
}
