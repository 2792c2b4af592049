package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type closeTracker struct {
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestEntryExpiry(t *testing.T) {
	e := New("/proj", 20*time.Millisecond)
	require.False(t, e.IsExpired())
	time.Sleep(30 * time.Millisecond)
	require.True(t, e.IsExpired())

	e.UpdateAccess()
	require.False(t, e.IsExpired())
}

func TestInvalidatePreservesAccessCounters(t *testing.T) {
	e := New("/proj", time.Minute)
	e.UpdateAccess()
	e.UpdateAccess()

	ann := &closeTracker{}
	e.SetSemantic(ann, map[string]string{"0": "a.go"}, "coll", 768, "v1")
	e.Invalidate()

	require.True(t, ann.closed)
	require.Nil(t, e.ANN)
	require.Equal(t, 2, e.GetStats().AccessCount)
}

func TestInvalidateTemporalIndependentOfHead(t *testing.T) {
	e := New("/proj", time.Minute)
	e.SetSemantic(&closeTracker{}, nil, "coll", 768, "v1")
	e.TemporalANN = &closeTracker{}
	e.TemporalIndexVersion = "t1"

	e.InvalidateTemporal()

	require.Nil(t, e.TemporalANN)
	require.NotNil(t, e.ANN)
}

func writeCollectionMeta(t *testing.T, dir, stamp string) {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"vector_size": 768,
		"hnsw_index":  map[string]string{"index_rebuild_uuid": stamp},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "collection_meta.json"), data, 0o644))
}

func TestIsStaleAfterRebuild(t *testing.T) {
	dir := t.TempDir()
	writeCollectionMeta(t, dir, "uuid-1")

	e := New("/proj", time.Minute)
	e.ANNIndexVersion = "uuid-1"
	require.False(t, e.IsStaleAfterRebuild(dir))

	e.ANNIndexVersion = "uuid-old"
	require.True(t, e.IsStaleAfterRebuild(dir))
}

func TestLoadTemporalIndexesIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeCollectionMeta(t, dir, "uuid-t1")

	e := New("/proj", time.Minute)
	calls := 0
	load := func(collectionPath string, vectorDim, maxElements int) (ANNIndex, map[string]string, error) {
		calls++
		return &closeTracker{}, map[string]string{"0": "a.go"}, nil
	}

	require.NoError(t, e.LoadTemporalIndexes(dir, load))
	require.NoError(t, e.LoadTemporalIndexes(dir, load))
	require.Equal(t, 1, calls)
	require.Equal(t, "uuid-t1", e.TemporalIndexVersion)
}
