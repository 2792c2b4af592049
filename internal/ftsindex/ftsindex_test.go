package ftsindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexAndSearch(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "fts"))
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.IndexBatch([]Document{
		{ID: "1", FilePath: "auth.go", Language: "go", Content: "func AuthenticateUser handles login"},
		{ID: "2", FilePath: "db.py", Language: "python", Content: "def connect_database establishes a pool"},
	}))

	results, err := idx.Search("AuthenticateUser", SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "auth.go", results[0].FilePath)
}

func TestSearchLanguageFilter(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "fts"))
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.IndexBatch([]Document{
		{ID: "1", FilePath: "a.go", Language: "go", Content: "connection pool setup"},
		{ID: "2", FilePath: "b.py", Language: "python", Content: "connection pool setup"},
	}))

	results, err := idx.Search("connection pool", SearchOptions{Limit: 10, Languages: []string{"python"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b.py", results[0].FilePath)
}

func TestDeleteByFileAndUpdateIncremental(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "fts"))
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.IndexBatch([]Document{
		{ID: "1", FilePath: "a.go", Language: "go", Content: "widget factory"},
	}))
	require.NoError(t, idx.DeleteByFile("a.go"))

	results, err := idx.Search("widget", SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Empty(t, results)

	require.NoError(t, idx.UpdateIncremental(nil, []Document{
		{ID: "2", FilePath: "b.go", Language: "go", Content: "widget factory reborn"},
	}, nil))

	results, err = idx.Search("widget", SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestPathFilters(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "fts"))
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.IndexBatch([]Document{
		{ID: "1", FilePath: "internal/auth/login.go", Language: "go", Content: "token validation"},
		{ID: "2", FilePath: "internal/db/conn.go", Language: "go", Content: "token validation"},
	}))

	results, err := idx.Search("token validation", SearchOptions{Limit: 10, PathFilters: []string{"internal/auth/**"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "internal/auth/login.go", results[0].FilePath)
}
