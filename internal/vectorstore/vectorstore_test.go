package vectorstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateUpsertSearch(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.CreateCollection("code_proj_voyage_v3", 4))

	ok, err := store.UpsertPoints("code_proj_voyage_v3", []Point{
		{ID: "1", Vector: []float32{1, 0, 0, 0}, FilePath: "a.go", Language: "go", IndexedAt: time.Now()},
		{ID: "2", Vector: []float32{0, 1, 0, 0}, FilePath: "b.py", Language: "python", IndexedAt: time.Now()},
	})
	require.NoError(t, err)
	require.True(t, ok)

	results, err := store.Search("code_proj_voyage_v3", []float32{1, 0, 0, 0}, 5, 50, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "1", results[0].Point.ID)
}

func TestSearchFilterByLanguage(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection("coll", 2))

	_, err = store.UpsertPoints("coll", []Point{
		{ID: "1", Vector: []float32{1, 0}, FilePath: "a.go", Language: "go"},
		{ID: "2", Vector: []float32{1, 0}, FilePath: "b.py", Language: "python"},
	})
	require.NoError(t, err)

	results, err := store.Search("coll", []float32{1, 0}, 5, 50, Filter{Languages: []string{"python"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b.py", results[0].Point.FilePath)
}

func TestClearCollectionBumpsRebuildStamp(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection("coll", 2))

	before, err := store.Meta("coll")
	require.NoError(t, err)

	require.NoError(t, store.ClearCollection("coll"))

	after, err := store.Meta("coll")
	require.NoError(t, err)
	require.NotEqual(t, before.RebuildID, after.RebuildID)
}

func TestScrollPoints(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection("coll", 2))

	_, err = store.UpsertPoints("coll", []Point{
		{ID: "1", Vector: []float32{1, 0}, FilePath: "a.go"},
		{ID: "2", Vector: []float32{0, 1}, FilePath: "b.go"},
	})
	require.NoError(t, err)

	page, err := store.ScrollPoints("coll", 1000, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
}

func TestCollectionNameAndSlug(t *testing.T) {
	require.Equal(t, "voyage_ai", Slug("Voyage AI"))
	name := CollectionName("code-indexer", "/abs/project", "VoyageAI", "voyage-code-3")
	require.Contains(t, name, "code_indexer_")
	require.Contains(t, name, "voyageai")
	require.Contains(t, name, "voyage_code_3")
}

func TestAccuracyToEF(t *testing.T) {
	require.Equal(t, 50, AccuracyToEF("fast"))
	require.Equal(t, 100, AccuracyToEF("balanced"))
	require.Equal(t, 200, AccuracyToEF("high"))
	require.Equal(t, 100, AccuracyToEF("bogus"))
}
