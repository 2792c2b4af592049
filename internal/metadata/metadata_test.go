package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartAndResumeTimestamp(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)

	require.Equal(t, float64(0), store.GetResumeTimestamp(60))

	require.NoError(t, store.Start("voyage-ai", "voyage-code-3", GitState{
		Available: true,
		ProjectID: "abc123",
		Branch:    "main",
	}))
	require.NoError(t, store.MarkFileCompleted("a.go", 3))

	ts := store.GetResumeTimestamp(60)
	require.GreaterOrEqual(t, ts, float64(0))
}

func TestMarkFileCompletedDeduplicates(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)

	require.NoError(t, store.SetFilesToIndex([]string{"a.go", "b.go"}))
	require.NoError(t, store.MarkFileCompleted("a.go", 2))
	require.NoError(t, store.MarkFileCompleted("a.go", 2))

	stats := store.GetStats()
	require.Equal(t, 1, stats.FilesProcessed)
	require.Equal(t, 4, stats.ChunksIndexed)
}

func TestCanResumeInterrupted(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)

	require.False(t, store.CanResumeInterrupted())

	require.NoError(t, store.Start("local", "bge-small", GitState{}))
	require.NoError(t, store.SetFilesToIndex([]string{"a.go", "b.go", "c.go"}))
	require.NoError(t, store.MarkFileCompleted("a.go", 1))

	require.True(t, store.CanResumeInterrupted())

	require.NoError(t, store.MarkFileCompleted("b.go", 1))
	require.NoError(t, store.MarkFileCompleted("c.go", 1))

	require.False(t, store.CanResumeInterrupted())
}

func TestShouldForceFullIndex(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)

	git := GitState{Available: true, ProjectID: "p1"}
	require.NoError(t, store.Start("local", "bge-small", git))

	require.False(t, store.ShouldForceFullIndex("local", "bge-small", git))
	require.True(t, store.ShouldForceFullIndex("local", "bge-large", git))
	require.True(t, store.ShouldForceFullIndex("local", "bge-small", GitState{Available: true, ProjectID: "p2"}))
}

func TestReopenPersistsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Start("local", "bge-small", GitState{ProjectID: "p1"}))
	require.NoError(t, store.SetFilesToIndex([]string{"a.go"}))
	require.NoError(t, store.MarkFileCompleted("a.go", 5))
	require.NoError(t, store.Complete())

	reopened, err := Open(path)
	require.NoError(t, err)
	stats := reopened.GetStats()
	require.Equal(t, StatusCompleted, stats.Status)
	require.Equal(t, 5, stats.ChunksIndexed)
}

func TestCorruptMetadataFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")
	require.NoError(t, writeFile(path, "{not json"))

	store, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, StatusNotStarted, store.GetStats().Status)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
