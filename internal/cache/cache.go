// Package cache implements the daemon's in-memory per-project cache entry
// (spec.md §3 CacheEntry, §4.B) and its TTL eviction loop (§4.C). Indexes
// are held as opaque handles so this package has no dependency on the
// concrete vector-store or full-text-index implementations; it only needs
// to know how to close them and how to read a collection's rebuild stamp
// off disk.
package cache

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maypok86/otter"
)

// ANNIndex is the subset of a loaded vector index the cache needs to
// manage its lifecycle.
type ANNIndex interface {
	io.Closer
}

// FTSIndex is the subset of a loaded full-text index the cache needs to
// manage its lifecycle.
type FTSIndex interface {
	io.Closer
}

// collectionMeta mirrors the on-disk collection_meta.json written by the
// vector store: vector dimensionality plus a rebuild stamp that changes
// every time the collection is rebuilt from scratch.
type collectionMeta struct {
	VectorSize int `json:"vector_size"`
	HNSWIndex  struct {
		IndexRebuildUUID string `json:"index_rebuild_uuid"`
	} `json:"hnsw_index"`
}

// stampRecord is what gets cached per collection directory.
type stampRecord struct {
	rebuildID string
	vectorDim int
}

// stampCache is a small, short-TTL front for collection_meta.json reads.
// Every query re-derives the collection's rebuild stamp to detect an
// out-of-process rebuild (spec.md §4.J.2), which means one stat+read per
// query without this. A 2s TTL bounds that cost for bursts of queries
// against the same project while staying well under anything a human
// would notice as stale; it is a hot-path optimization only — correctness
// still comes from the mandatory comparison against whatever the cache
// returns, not from the cache itself.
var (
	stampCacheOnce sync.Once
	stampCacheVal  otter.Cache[string, stampRecord]
)

func getStampCache() otter.Cache[string, stampRecord] {
	stampCacheOnce.Do(func() {
		c, err := otter.MustBuilder[string, stampRecord](256).
			WithTTL(2 * time.Second).
			Build()
		if err != nil {
			panic(err)
		}
		stampCacheVal = c
	})
	return stampCacheVal
}

func readRebuildStamp(collectionPath string) (string, int, error) {
	c := getStampCache()
	if rec, ok := c.Get(collectionPath); ok {
		return rec.rebuildID, rec.vectorDim, nil
	}

	data, err := os.ReadFile(filepath.Join(collectionPath, "collection_meta.json"))
	if err != nil {
		return "", 0, err
	}
	var m collectionMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return "", 0, err
	}
	rec := stampRecord{rebuildID: m.HNSWIndex.IndexRebuildUUID, vectorDim: m.VectorSize}
	c.Set(collectionPath, rec)
	return rec.rebuildID, rec.vectorDim, nil
}

// Entry is one project's live in-memory cache: HEAD (workspace) indexes,
// full-text index, and temporal (git-history) indexes, plus access
// tracking and the TTL clock. Readers take the shared side of RWMu; any
// structural mutation takes both WriteMu and the exclusive side of RWMu,
// per spec.md §3's writers-hold-both invariant.
type Entry struct {
	ProjectPath string
	TTL         time.Duration

	RWMu    sync.RWMutex
	WriteMu sync.Mutex

	lastAccessed time.Time
	accessCount  int

	// HEAD indexes
	ANN             ANNIndex
	IDMapping       map[string]string
	CollectionName  string
	VectorDim       int
	ANNIndexVersion string

	// Full-text index
	FTS          FTSIndex
	FTSAvailable bool

	// Temporal (git-history) indexes
	TemporalANN          ANNIndex
	TemporalIDMapping    map[string]string
	TemporalIndexVersion string
}

// New creates a cache entry for projectPath with the given TTL. Access
// tracking starts immediately so a freshly created, never-queried entry
// does not appear expired before its first real use.
func New(projectPath string, ttl time.Duration) *Entry {
	return &Entry{
		ProjectPath:  projectPath,
		TTL:          ttl,
		lastAccessed: time.Now(),
	}
}

// UpdateAccess bumps the last-accessed clock and access counter. Callers
// must hold at least the read side of RWMu.
func (e *Entry) UpdateAccess() {
	e.lastAccessed = time.Now()
	e.accessCount++
}

// IsExpired reports whether the entry has gone TTL seconds without a
// query.
func (e *Entry) IsExpired() bool {
	return time.Since(e.lastAccessed) >= e.TTL
}

// SetSemantic installs the HEAD vector index and its id mapping, closing
// whatever was previously loaded.
func (e *Entry) SetSemantic(ann ANNIndex, idMapping map[string]string, collectionName string, vectorDim int, version string) {
	if e.ANN != nil {
		_ = e.ANN.Close()
	}
	e.ANN = ann
	e.IDMapping = idMapping
	e.CollectionName = collectionName
	e.VectorDim = vectorDim
	e.ANNIndexVersion = version
}

// SetFTS installs the full-text index, closing whatever was previously
// loaded.
func (e *Entry) SetFTS(index FTSIndex) {
	if e.FTS != nil {
		_ = e.FTS.Close()
	}
	e.FTS = index
	e.FTSAvailable = index != nil
}

// Invalidate clears HEAD fields (semantic + FTS) but preserves
// access-tracking counters, per spec.md §3.
func (e *Entry) Invalidate() {
	if e.ANN != nil {
		_ = e.ANN.Close()
	}
	if e.FTS != nil {
		_ = e.FTS.Close()
	}
	e.ANN = nil
	e.IDMapping = nil
	e.CollectionName = ""
	e.VectorDim = 0
	e.ANNIndexVersion = ""
	e.FTS = nil
	e.FTSAvailable = false
}

// InvalidateTemporal clears only the temporal fields; HEAD and temporal
// caches are independent.
func (e *Entry) InvalidateTemporal() {
	if e.TemporalANN != nil {
		_ = e.TemporalANN.Close()
	}
	e.TemporalANN = nil
	e.TemporalIDMapping = nil
	e.TemporalIndexVersion = ""
}

// LoadTemporalIndexesFunc loads a temporal ANN index and its id mapping
// for the given collection path, dimensionality, and max element count.
// Supplied by the caller (internal/vectorstore) to keep this package free
// of a hard dependency on the concrete vector-store backend.
type LoadTemporalIndexesFunc func(collectionPath string, vectorDim int, maxElements int) (ANNIndex, map[string]string, error)

// LoadTemporalIndexes is idempotent: if the temporal cache is already
// populated it is a no-op, matching the Python cache's contract that a
// second call against an already-warm cache costs nothing.
func (e *Entry) LoadTemporalIndexes(collectionPath string, load LoadTemporalIndexesFunc) error {
	if e.TemporalANN != nil {
		return nil
	}
	stamp, dim, err := readRebuildStamp(collectionPath)
	if err != nil {
		return err
	}
	ann, idMapping, err := load(collectionPath, dim, 100_000)
	if err != nil {
		return err
	}
	e.TemporalANN = ann
	e.TemporalIDMapping = idMapping
	e.TemporalIndexVersion = stamp
	return nil
}

// IsStaleAfterRebuild reports whether the on-disk rebuild stamp for the
// HEAD collection differs from the cached ANNIndexVersion. A missing or
// unreadable metadata file is treated as "not stale" — the dispatcher
// falls back to loading the index fresh, which will set the version.
func (e *Entry) IsStaleAfterRebuild(collectionPath string) bool {
	stamp, _, err := readRebuildStamp(collectionPath)
	if err != nil {
		return false
	}
	return stamp != e.ANNIndexVersion
}

// IsTemporalStaleAfterRebuild is IsStaleAfterRebuild's temporal twin.
func (e *Entry) IsTemporalStaleAfterRebuild(collectionPath string) bool {
	stamp, _, err := readRebuildStamp(collectionPath)
	if err != nil {
		return false
	}
	return stamp != e.TemporalIndexVersion
}

// Stats is the JSON-serializable snapshot returned by GetStats and
// surfaced in the daemon's status RPC.
type Stats struct {
	ProjectPath   string    `json:"project_path"`
	AccessCount   int       `json:"access_count"`
	TTLSeconds    float64   `json:"ttl_seconds"`
	LastAccessed  time.Time `json:"last_accessed"`
	SemanticReady bool      `json:"semantic_loaded"`
	FTSReady      bool      `json:"fts_loaded"`
	Expired       bool      `json:"expired"`
}

// GetStats returns a snapshot of the entry's current state.
func (e *Entry) GetStats() Stats {
	return Stats{
		ProjectPath:   e.ProjectPath,
		AccessCount:   e.accessCount,
		TTLSeconds:    e.TTL.Seconds(),
		LastAccessed:  e.lastAccessed,
		SemanticReady: e.ANN != nil,
		FTSReady:      e.FTSAvailable,
		Expired:       e.IsExpired(),
	}
}
