// Package query implements the daemon's progressive query pipeline
// (spec.md §4.J): take the cache mutex, load or validate the cache entry
// for the target project, resolve the provider-aware collection name,
// build filters, search, and enrich semantic hits with a best-effort
// staleness detector. Grounded on the teacher's internal/cache +
// internal/storage pairing, generalized because the concrete
// vectorstore.Store has no "loaded index" object to hand the cache the
// way an in-process hnswlib index would: each Search opens and closes
// its own sqlite connection, so the cache's ANNIndex/FTSIndex slots hold
// a trivial io.Closer marker purely to drive the rebuild-stamp staleness
// bookkeeping spec.md §3 and §4.J describe, while the real search calls
// go straight to *vectorstore.Store and *ftsindex.Index.
package query

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/mvp-joe/codeindexd/internal/cache"
	"github.com/mvp-joe/codeindexd/internal/embed"
	"github.com/mvp-joe/codeindexd/internal/errkind"
	"github.com/mvp-joe/codeindexd/internal/ftsindex"
	"github.com/mvp-joe/codeindexd/internal/vectorstore"
)

// staleTolerance mirrors the 1s mtime tolerance internal/reconcile applies
// (spec.md §4.L): a file whose mtime is within a second of its indexed
// timestamp is not worth flagging as stale.
const staleTolerance = 1 * time.Second

// Service answers queries for a single project against a single cache
// entry, the same "one project per daemon" scope internal/cache.Store
// enforces.
type Service struct {
	Cache          *cache.Store
	Vectors        *vectorstore.Store
	FTS            *ftsindex.Index
	Provider       embed.Provider
	ProviderName   string
	CollectionBase string
	TTL            time.Duration
}

// QueryOptions mirrors the `query`/`query_temporal` RPC option bag
// (spec.md §4.G).
type QueryOptions struct {
	Limit            int
	Languages        []string
	ExcludeLanguages []string
	PathFilter       []string
	ExcludePaths     []string
	MinScore         float64
	Accuracy         string
}

// Hit is one semantic search result, enriched with staleness.
type Hit struct {
	FilePath              string    `json:"file_path"`
	Language              string    `json:"language"`
	ChunkType             string    `json:"chunk_type"`
	Content               string    `json:"content"`
	Score                 float64   `json:"score"`
	IndexedAt             time.Time `json:"indexed_at"`
	IsStale               bool      `json:"is_stale"`
	StalenessIndicator    string    `json:"staleness_indicator"`
	StalenessDeltaSeconds float64   `json:"staleness_delta_seconds"`
}

// Result is the plain, serializable outcome of a semantic query
// (spec.md §4.J.8: "no opaque proxies over the wire").
type Result struct {
	Hits     []Hit   `json:"results"`
	TimingMS float64 `json:"timing_ms"`
}

// FTSResult is the plain outcome of a full-text query.
type FTSResult struct {
	Hits     []ftsindex.Result `json:"results"`
	TimingMS float64           `json:"timing_ms"`
}

// HybridResult runs `query` and `query_fts` back to back and returns both
// result sets (spec.md §4.G `query_hybrid`).
type HybridResult struct {
	Semantic Result    `json:"semantic"`
	FTS      FTSResult `json:"fts"`
}

// annHandle is the trivial io.Closer marker described in the package doc:
// it carries no state because vectorstore.Store has no per-call
// connection to keep open between queries.
type annHandle struct{}

func (annHandle) Close() error { return nil }

// Query runs a semantic search: ensures the cache is loaded and fresh,
// embeds queryText, searches the provider-aware collection, and applies
// the staleness detector to the results (spec.md §4.J).
func (s *Service) Query(ctx context.Context, projectPath, queryText string, opts QueryOptions) (Result, error) {
	s.Cache.Mu.Lock()
	defer s.Cache.Mu.Unlock()

	entry := s.Cache.Get(projectPath, s.TTL)
	collection := vectorstore.CollectionName(s.CollectionBase, projectPath, s.ProviderName, s.Provider.Model())
	if err := s.reloadSemantic(entry, collection); err != nil {
		return Result{}, err
	}
	s.reloadFTS(entry)
	entry.UpdateAccess()

	limit := opts.Limit
	if limit <= 0 {
		limit = 15
	}
	ef := vectorstore.AccuracyToEF(opts.Accuracy)

	vectors, err := s.Provider.Embed(ctx, []string{queryText}, embed.EmbedModeQuery)
	if err != nil {
		return Result{}, errkind.Wrap(errkind.NetworkError, err)
	}
	if len(vectors) == 0 {
		return Result{}, errkind.New(errkind.Internal, "embedding provider returned no vectors for query")
	}

	started := time.Now()
	hits, err := s.Vectors.Search(collection, vectors[0], limit, ef, buildFilter(opts))
	if err != nil {
		return Result{}, errkind.Wrap(errkind.Internal, err)
	}
	took := time.Since(started)

	out := make([]Hit, len(hits))
	for i, r := range hits {
		out[i] = Hit{
			FilePath:  r.Point.FilePath,
			Language:  r.Point.Language,
			ChunkType: r.Point.ChunkType,
			Content:   r.Point.Content,
			Score:     r.Score,
			IndexedAt: r.Point.IndexedAt,
		}
	}
	detectStaleness(projectPath, out)

	return Result{Hits: out, TimingMS: msSince(took)}, nil
}

// QueryFTS runs a full-text search against the project's FTS index.
func (s *Service) QueryFTS(queryText string, opts ftsindex.SearchOptions) (FTSResult, error) {
	if s.FTS == nil {
		return FTSResult{}, errkind.New(errkind.MissingCollection, "full-text index is not configured")
	}
	started := time.Now()
	hits, err := s.FTS.Search(queryText, opts)
	if err != nil {
		return FTSResult{}, errkind.Wrap(errkind.Internal, err)
	}
	return FTSResult{Hits: hits, TimingMS: msSince(time.Since(started))}, nil
}

// QueryHybrid runs Query and QueryFTS back to back (spec.md §4.G
// `query_hybrid`).
func (s *Service) QueryHybrid(ctx context.Context, projectPath, queryText string, opts QueryOptions, ftsOpts ftsindex.SearchOptions) (HybridResult, error) {
	semantic, err := s.Query(ctx, projectPath, queryText, opts)
	if err != nil {
		return HybridResult{}, err
	}
	fts, err := s.QueryFTS(queryText, ftsOpts)
	if err != nil {
		return HybridResult{}, err
	}
	return HybridResult{Semantic: semantic, FTS: fts}, nil
}

// TemporalOptions extends QueryOptions with the chunk-type filter
// `query_temporal` accepts (spec.md §4.G).
type TemporalOptions struct {
	QueryOptions
	ChunkType string
}

// QueryTemporal searches a project's temporal (git-history) collection,
// restricted to timeRange (spec.md §4.G: "all", "last-N-days", or
// "YYYY-MM-DD..YYYY-MM-DD"). The temporal collection shares the point
// schema of the HEAD collection; FilesystemMTime on a temporal point
// carries the commit's authored time rather than a working-tree mtime,
// so the time-range and chunk-type filters are applied client-side after
// an over-fetch, since vectorstore.Filter has no time-range predicate.
func (s *Service) QueryTemporal(ctx context.Context, projectPath, queryText, timeRange string, opts TemporalOptions) (Result, error) {
	tr, err := ParseTimeRange(timeRange)
	if err != nil {
		return Result{}, err
	}

	s.Cache.Mu.Lock()
	defer s.Cache.Mu.Unlock()

	entry := s.Cache.Get(projectPath, s.TTL)
	collection := vectorstore.CollectionName(s.CollectionBase+"_temporal", projectPath, s.ProviderName, s.Provider.Model())
	collDir := s.Vectors.CollectionDir(collection)
	if entry.TemporalANN == nil || entry.IsTemporalStaleAfterRebuild(collDir) {
		load := func(collectionPath string, vectorDim, maxElements int) (cache.ANNIndex, map[string]string, error) {
			return annHandle{}, nil, nil
		}
		if err := entry.LoadTemporalIndexes(collDir, load); err != nil {
			return Result{}, errkind.Wrap(errkind.MissingCollection, err)
		}
	}
	entry.UpdateAccess()

	limit := opts.Limit
	if limit <= 0 {
		limit = 15
	}
	ef := vectorstore.AccuracyToEF(opts.Accuracy)

	vectors, err := s.Provider.Embed(ctx, []string{queryText}, embed.EmbedModeQuery)
	if err != nil {
		return Result{}, errkind.Wrap(errkind.NetworkError, err)
	}
	if len(vectors) == 0 {
		return Result{}, errkind.New(errkind.Internal, "embedding provider returned no vectors for query")
	}

	started := time.Now()
	// Over-fetch: the time-range and chunk-type filters below run
	// client-side, after the ANN search has already applied language/path/
	// score filters.
	hits, err := s.Vectors.Search(collection, vectors[0], limit*4, ef, buildFilter(opts.QueryOptions))
	if err != nil {
		return Result{}, errkind.Wrap(errkind.Internal, err)
	}
	took := time.Since(started)

	out := make([]Hit, 0, limit)
	for _, r := range hits {
		if !tr.Includes(r.Point.FilesystemMTime) {
			continue
		}
		if opts.ChunkType != "" && r.Point.ChunkType != opts.ChunkType {
			continue
		}
		out = append(out, Hit{
			FilePath:  r.Point.FilePath,
			Language:  r.Point.Language,
			ChunkType: r.Point.ChunkType,
			Content:   r.Point.Content,
			Score:     r.Score,
			IndexedAt: r.Point.IndexedAt,
		})
		if len(out) >= limit {
			break
		}
	}
	detectStaleness(projectPath, out)

	return Result{Hits: out, TimingMS: msSince(took)}, nil
}

// TimeRange is a parsed `query_temporal` time window.
type TimeRange struct {
	All   bool
	Start time.Time
	End   time.Time
}

// Includes reports whether t falls within the range.
func (tr TimeRange) Includes(t time.Time) bool {
	if tr.All {
		return true
	}
	return !t.Before(tr.Start) && !t.After(tr.End)
}

// ParseTimeRange parses the three forms spec.md §4.G documents for
// `query_temporal`'s time_range argument.
func ParseTimeRange(s string) (TimeRange, error) {
	switch {
	case s == "" || s == "all":
		return TimeRange{All: true}, nil
	case strings.HasPrefix(s, "last-") && strings.HasSuffix(s, "-days"):
		mid := strings.TrimSuffix(strings.TrimPrefix(s, "last-"), "-days")
		n, err := strconv.Atoi(mid)
		if err != nil || n <= 0 {
			return TimeRange{}, errkind.New(errkind.InvalidTimeRange, "invalid time range: "+s)
		}
		end := time.Now()
		return TimeRange{Start: end.AddDate(0, 0, -n), End: end}, nil
	case strings.Contains(s, ".."):
		parts := strings.SplitN(s, "..", 2)
		start, err1 := time.Parse("2006-01-02", strings.TrimSpace(parts[0]))
		end, err2 := time.Parse("2006-01-02", strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil || end.Before(start) {
			return TimeRange{}, errkind.New(errkind.InvalidTimeRange, "invalid time range: "+s)
		}
		return TimeRange{Start: start, End: end.Add(24*time.Hour - time.Nanosecond)}, nil
	default:
		return TimeRange{}, errkind.New(errkind.InvalidTimeRange, "invalid time range: "+s)
	}
}

// reloadSemantic reloads the HEAD semantic index handle when the cache is
// cold, belongs to a different collection, or the on-disk rebuild stamp
// has moved past what's cached (spec.md §4.J.2).
func (s *Service) reloadSemantic(entry *cache.Entry, collection string) error {
	collDir := s.Vectors.CollectionDir(collection)
	if entry.ANN != nil && entry.CollectionName == collection && !entry.IsStaleAfterRebuild(collDir) {
		return nil
	}
	meta, err := s.Vectors.Meta(collection)
	if err != nil {
		return errkind.Wrap(errkind.MissingCollection, err)
	}
	entry.SetSemantic(annHandle{}, nil, collection, meta.VectorSize, meta.RebuildID)
	return nil
}

// reloadFTS installs the shared FTS index handle on first use; the FTS
// index isn't versioned by a per-collection rebuild stamp the way the
// vector store is, so it's loaded once per cache entry.
func (s *Service) reloadFTS(entry *cache.Entry) {
	if entry.FTS == nil && s.FTS != nil {
		entry.SetFTS(s.FTS)
	}
}

// buildFilter composes a vectorstore.Filter per spec.md §4.G's "filter
// construction": language inclusion/exclusion passes straight through
// since points carry a resolved language already, and path
// inclusion/exclusion compiles to glob matchers.
func buildFilter(opts QueryOptions) vectorstore.Filter {
	f := vectorstore.Filter{
		Languages:        opts.Languages,
		ExcludeLanguages: opts.ExcludeLanguages,
		MinScore:         opts.MinScore,
	}
	if len(opts.PathFilter) > 0 {
		globs := compileGlobs(opts.PathFilter)
		f.PathMatch = func(p string) bool { return matchesAny(globs, p) }
	}
	if len(opts.ExcludePaths) > 0 {
		globs := compileGlobs(opts.ExcludePaths)
		f.ExcludePathMatch = func(p string) bool { return matchesAny(globs, p) }
	}
	return f
}

func compileGlobs(patterns []string) []glob.Glob {
	var out []glob.Glob
	for _, p := range patterns {
		if g, err := glob.Compile(p, '/'); err == nil {
			out = append(out, g)
		}
	}
	return out
}

func matchesAny(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// detectStaleness applies the best-effort staleness detector (spec.md
// §4.J.7): for each hit, stat the file on disk and compare its current
// mtime against the timestamp the chunk was indexed at. Enrichment is
// keyed by file path, not index, since a result set may reorder hits
// before this step runs, and several hits can share one file.
type stalenessVerdict struct {
	indicator string
	delta     float64
}

func detectStaleness(projectPath string, hits []Hit) {
	byPath := map[string]stalenessVerdict{}
	for i := range hits {
		h := &hits[i]
		v, ok := byPath[h.FilePath]
		if !ok {
			abs := filepath.Join(projectPath, h.FilePath)
			info, err := os.Stat(abs)
			switch {
			case err != nil:
				v = stalenessVerdict{indicator: "unknown"}
			case info.ModTime().After(h.IndexedAt.Add(staleTolerance)):
				v = stalenessVerdict{indicator: "stale", delta: info.ModTime().Sub(h.IndexedAt).Seconds()}
			default:
				v = stalenessVerdict{indicator: "fresh"}
			}
			byPath[h.FilePath] = v
		}
		h.StalenessIndicator = v.indicator
		h.IsStale = v.indicator == "stale"
		h.StalenessDeltaSeconds = v.delta
	}
}

func msSince(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
