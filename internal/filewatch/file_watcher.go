package filewatch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// Limits bounds how many directories a fileWatcher will register with the
// OS-level watcher and how deep it will recurse, mirroring
// config.ResourceLimits (spec.md §4.K) rather than switching on whether
// the process happens to be running under `go test`.
type Limits struct {
	MaxDirectories int
	MaxDepth       int
}

// DefaultLimits is used whenever a caller passes a zero Limits, matching
// config.Default()'s resource-limit values.
var DefaultLimits = Limits{MaxDirectories: 1000, MaxDepth: 10}

// fileWatcher implements FileWatcher interface.
type fileWatcher struct {
	watcher *fsnotify.Watcher
	root    string // project root every watched path is relative to

	include []glob.Glob // discovery include patterns (config.Paths.Include)
	exclude []glob.Glob // discovery exclude patterns (config.Paths.Exclude)

	debounceTime    time.Duration        // Quiet period before firing callback
	callback        func(files []string) // Callback to invoke with changed files
	ctx             context.Context      // Context for lifecycle management
	cancel          context.CancelFunc   // Cancel function for internal context
	paused          bool                 // Whether watching is paused
	pausedMu        sync.RWMutex         // Protects paused flag
	accumulated     map[string]bool      // Accumulated file changes
	accumulatedMu   sync.Mutex           // Protects accumulated map
	debounceTimer   *time.Timer          // Current debounce timer
	timerMu         sync.Mutex           // Protects debounce timer
	stopOnce        sync.Once            // Ensures Stop() is idempotent
	doneCh          chan struct{}        // Signals watch goroutine has finished
	limits          Limits
	watchedDirCount int // Number of directories currently watched
	countMu         sync.Mutex
}

// NewFileWatcher creates a file watcher rooted at root, applying the same
// include/exclude glob patterns as internal/discovery (spec.md §4.K's
// paths.include/paths.exclude), so a project's indexing scope and its
// watch scope can never silently drift apart the way a duplicated
// extension list would let them.
func NewFileWatcher(root string, includePatterns, excludePatterns []string, limits Limits) (FileWatcher, error) {
	if limits.MaxDirectories <= 0 {
		limits.MaxDirectories = DefaultLimits.MaxDirectories
	}
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = DefaultLimits.MaxDepth
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	include, err := compileGlobs(includePatterns)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}
	exclude, err := compileGlobs(excludePatterns)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}

	fw := &fileWatcher{
		watcher:     watcher,
		root:        root,
		include:     include,
		exclude:     exclude,
		debounceTime: 500 * time.Millisecond,
		accumulated: make(map[string]bool),
		doneCh:      make(chan struct{}),
		limits:      limits,
	}

	if err := fw.addDirectoriesRecursively(root, 0); err != nil {
		watcher.Close()
		return nil, err
	}

	return fw, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	var out []glob.Glob
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		out = append(out, g)
		if rest, ok := strings.CutPrefix(p, "**/"); ok {
			out = append(out, glob.MustCompile(rest, '/'))
		}
	}
	return out, nil
}

// Start begins watching for file changes.
func (fw *fileWatcher) Start(ctx context.Context, callback func(files []string)) error {
	if callback == nil {
		return nil
	}

	fw.callback = callback
	fw.ctx, fw.cancel = context.WithCancel(ctx)

	go fw.watch()
	return nil
}

// Stop stops the file watcher.
func (fw *fileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		// Cancel context to signal goroutine
		if fw.cancel != nil {
			fw.cancel()

			// Wait for goroutine to finish (only if Start() was called)
			<-fw.doneCh
		} else {
			// Never started, close doneCh manually
			close(fw.doneCh)
		}

		// Close watcher
		err = fw.watcher.Close()
	})
	return err
}

// Pause stops firing callbacks but continues accumulating events.
func (fw *fileWatcher) Pause() {
	fw.pausedMu.Lock()
	defer fw.pausedMu.Unlock()
	fw.paused = true
}

// Resume resumes firing callbacks. If events accumulated during pause, fires immediately.
func (fw *fileWatcher) Resume() {
	fw.pausedMu.Lock()
	wasPaused := fw.paused
	fw.paused = false
	fw.pausedMu.Unlock()

	// If we were paused and have accumulated events, fire callback immediately
	if wasPaused {
		fw.accumulatedMu.Lock()
		if len(fw.accumulated) > 0 {
			// Copy accumulated files
			files := make([]string, 0, len(fw.accumulated))
			for file := range fw.accumulated {
				files = append(files, file)
			}
			// Clear accumulated
			fw.accumulated = make(map[string]bool)
			fw.accumulatedMu.Unlock()

			// Fire callback
			if fw.callback != nil {
				fw.callback(files)
			}
		} else {
			fw.accumulatedMu.Unlock()
		}
	}
}

// watch is the main event loop.
func (fw *fileWatcher) watch() {
	defer close(fw.doneCh)

	reindexCh := make(chan struct{}, 1)

	for {
		select {
		case <-fw.ctx.Done():
			// Context cancelled - clean shutdown
			fw.stopDebounceTimer()
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			// Handle new directories - add them to watcher
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// Start at depth 0 - the function will enforce limits
					if err := fw.addDirectoriesRecursively(event.Name, 0); err != nil {
						log.Printf("Warning: failed to watch new directory %s: %v", event.Name, err)
					}
				}
			}

			// Filter events by the project's discovery patterns
			if !fw.shouldProcessEvent(event) {
				continue
			}

			// Accumulate file change
			fw.accumulatedMu.Lock()
			fw.accumulated[event.Name] = true
			fw.accumulatedMu.Unlock()

			// Reset debounce timer
			fw.resetDebounceTimer(reindexCh)

		case <-reindexCh:
			// Debounce period expired - fire callback if not paused
			fw.handleDebounceExpired()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("File watcher error: %v", err)
		}
	}
}

// handleDebounceExpired is called when the debounce timer expires.
func (fw *fileWatcher) handleDebounceExpired() {
	fw.pausedMu.RLock()
	paused := fw.paused
	fw.pausedMu.RUnlock()

	if paused {
		// Paused - keep accumulating, don't fire callback
		return
	}

	// Not paused - fire callback with accumulated files
	fw.accumulatedMu.Lock()
	if len(fw.accumulated) == 0 {
		fw.accumulatedMu.Unlock()
		return
	}

	files := make([]string, 0, len(fw.accumulated))
	for file := range fw.accumulated {
		files = append(files, file)
	}
	// Clear accumulated
	fw.accumulated = make(map[string]bool)
	fw.accumulatedMu.Unlock()

	// Fire callback
	if fw.callback != nil {
		fw.callback(files)
	}
}

// resetDebounceTimer resets the debounce timer, properly stopping the old one.
func (fw *fileWatcher) resetDebounceTimer(reindexCh chan struct{}) {
	fw.timerMu.Lock()
	defer fw.timerMu.Unlock()

	// Stop and drain existing timer
	if fw.debounceTimer != nil {
		if !fw.debounceTimer.Stop() {
			// Timer already fired, drain the channel
			select {
			case <-fw.debounceTimer.C:
			default:
			}
		}
	}

	// Create new timer
	fw.debounceTimer = time.AfterFunc(fw.debounceTime, func() {
		// Send reindex signal (non-blocking)
		select {
		case reindexCh <- struct{}{}:
		default:
		}
	})
}

// stopDebounceTimer stops the debounce timer if it exists.
func (fw *fileWatcher) stopDebounceTimer() {
	fw.timerMu.Lock()
	defer fw.timerMu.Unlock()

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
		fw.debounceTimer = nil
	}
}

// shouldProcessEvent reports whether an fsnotify event names a path inside
// the project's indexing scope: same include/exclude glob evaluation as
// internal/discovery.Discovery, applied to the path relative to root.
func (fw *fileWatcher) shouldProcessEvent(event fsnotify.Event) bool {
	// Only care about WRITE, CREATE, and REMOVE events
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
		return false
	}

	rel, err := filepath.Rel(fw.root, event.Name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	if isIgnoredPath(rel) || matchesAny(fw.exclude, rel) {
		return false
	}
	if len(fw.include) > 0 && !matchesAny(fw.include, rel) {
		return false
	}
	return true
}

// isIgnoredPath mirrors internal/discovery's unconditional skip of the
// daemon's own state directory and git metadata, regardless of what the
// project's include/exclude patterns say.
func isIgnoredPath(rel string) bool {
	return rel == ".git" || strings.HasPrefix(rel, ".git/") ||
		rel == ".code-indexer" || strings.HasPrefix(rel, ".code-indexer/")
}

func matchesAny(patterns []glob.Glob, path string) bool {
	for _, p := range patterns {
		if p.Match(path) {
			return true
		}
	}
	return false
}

// addDirectoriesRecursively adds all directories in the tree to the
// watcher, skipping the daemon's own state directory, git metadata, and
// anything the project's exclude patterns name.
// depth: current depth level (0 for root directories)
func (fw *fileWatcher) addDirectoriesRecursively(rootPath string, depth int) error {
	// Check depth limit
	if depth > fw.limits.MaxDepth {
		return fmt.Errorf("max depth %d exceeded at path %s", fw.limits.MaxDepth, rootPath)
	}

	if rel, err := filepath.Rel(fw.root, rootPath); err == nil {
		rel = filepath.ToSlash(rel)
		if rel != "." && (isIgnoredPath(rel) || matchesAny(fw.exclude, rel+"/**") || matchesAny(fw.exclude, rel)) {
			return nil
		}
	}

	// Check directory count limit
	fw.countMu.Lock()
	if fw.watchedDirCount >= fw.limits.MaxDirectories {
		count := fw.watchedDirCount
		fw.countMu.Unlock()
		return fmt.Errorf("directory limit reached: %d directories already watched (max: %d)", count, fw.limits.MaxDirectories)
	}
	fw.countMu.Unlock()

	// Read directory entries
	entries, err := os.ReadDir(rootPath)
	if err != nil {
		return err
	}

	// Add this directory to watcher
	fw.countMu.Lock()
	fw.watchedDirCount++
	currentCount := fw.watchedDirCount
	fw.countMu.Unlock()

	if err := fw.watcher.Add(rootPath); err != nil {
		fw.countMu.Lock()
		fw.watchedDirCount--
		fw.countMu.Unlock()
		return fmt.Errorf("failed to watch directory %s: %w", rootPath, err)
	}

	// Log warning if approaching limit
	if currentCount >= fw.limits.MaxDirectories*9/10 {
		log.Printf("Warning: watching %d directories (approaching limit of %d)", currentCount, fw.limits.MaxDirectories)
	}

	// Recursively add subdirectories
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		subPath := filepath.Join(rootPath, entry.Name())
		if err := fw.addDirectoriesRecursively(subPath, depth+1); err != nil {
			// Log but continue with other directories
			log.Printf("Warning: %v", err)
		}
	}

	return nil
}
