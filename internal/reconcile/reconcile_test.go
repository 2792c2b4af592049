package reconcile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/codeindexd/internal/discovery"
	"github.com/mvp-joe/codeindexd/internal/vectorstore"
)

func TestBuildDetectsMissingAndModified(t *testing.T) {
	store, err := vectorstore.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection("proj", 2))

	now := time.Now()
	_, err = store.UpsertPoints("proj", []vectorstore.Point{
		{ID: "1", Vector: []float32{0.1, 0.2}, FilePath: "up_to_date.go", FilesystemMTime: now.Add(-time.Hour)},
		{ID: "2", Vector: []float32{0.1, 0.2}, FilePath: "stale.go", FilesystemMTime: now.Add(-time.Hour)},
	})
	require.NoError(t, err)

	discovered := []discovery.File{
		{Path: "up_to_date.go", AbsPath: filepath.Join("/proj", "up_to_date.go"), ModTime: now.Add(-time.Hour).Unix()},
		{Path: "stale.go", AbsPath: filepath.Join("/proj", "stale.go"), ModTime: now.Unix()},
		{Path: "new.go", AbsPath: filepath.Join("/proj", "new.go"), ModTime: now.Unix()},
	}

	plan, err := Build(store, "proj", discovered)
	require.NoError(t, err)
	require.Equal(t, 1, plan.Missing)
	require.Equal(t, 1, plan.Modified)

	var paths []string
	for _, f := range plan.ToReindex {
		paths = append(paths, f.Path)
	}
	require.Equal(t, []string{"stale.go", "new.go"}, paths)
}

func TestBuildToleratesOneSecondDrift(t *testing.T) {
	store, err := vectorstore.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection("proj", 2))

	now := time.Now()
	_, err = store.UpsertPoints("proj", []vectorstore.Point{
		{ID: "1", Vector: []float32{0.1, 0.2}, FilePath: "a.go", FilesystemMTime: now},
	})
	require.NoError(t, err)

	discovered := []discovery.File{
		{Path: "a.go", ModTime: now.Unix()},
	}
	plan, err := Build(store, "proj", discovered)
	require.NoError(t, err)
	require.Equal(t, 0, plan.Modified)
	require.Empty(t, plan.ToReindex)
}
