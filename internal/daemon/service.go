// Package daemon also hosts the RPC service spec.md §4.G names: the
// single shared object every accepted connection dispatches into (§4.H
// "a single service object is shared across all connections"), wiring
// together the cache, vector store, full-text index, watch manager, and
// smart indexer behind internal/rpcwire.Server. Grounded on the
// teacher's daemon package shape (bind/ensure/singleton helpers already
// adapted in lock.go/ensure.go), generalized from the teacher's
// connect-rpc embed-daemon surface to this project's framed-JSON RPC
// operations.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/mvp-joe/codeindexd/internal/cache"
	"github.com/mvp-joe/codeindexd/internal/discovery"
	"github.com/mvp-joe/codeindexd/internal/errkind"
	"github.com/mvp-joe/codeindexd/internal/filewatch"
	"github.com/mvp-joe/codeindexd/internal/ftsindex"
	"github.com/mvp-joe/codeindexd/internal/gittopology"
	"github.com/mvp-joe/codeindexd/internal/metadata"
	"github.com/mvp-joe/codeindexd/internal/query"
	"github.com/mvp-joe/codeindexd/internal/rpcwire"
	"github.com/mvp-joe/codeindexd/internal/smartindex"
	"github.com/mvp-joe/codeindexd/internal/vectorstore"
	"github.com/mvp-joe/codeindexd/internal/watchmgr"
)

// indexStatus is one of get_index_progress's `status` sentinels.
type indexStatus string

const (
	indexStatusIdle      indexStatus = "idle"
	indexStatusIndexing  indexStatus = "indexing"
	indexStatusCompleted indexStatus = "completed"
	indexStatusError     indexStatus = "error"
)

// indexState is the background-indexing bookkeeping `indexing_lock_internal`
// protects (spec.md §5): a single background job's progress, guarded by its
// own mutex so a `get_index_progress` poll never has to wait on the cache
// lock a concurrent query holds.
type indexState struct {
	mu             sync.Mutex
	running        bool
	status         indexStatus
	filesProcessed int
	totalFiles     int
	message        string
	stats          *smartindex.Result
}

// Service is the single RPC-dispatch target every accepted connection on
// the daemon's socket shares (spec.md §4.H).
type Service struct {
	ProjectPath     string
	CollectionBase  string
	IncludePatterns []string
	ExcludePatterns []string
	WatchLimits     filewatch.Limits

	Cache    *cache.Store
	Vectors  *vectorstore.Store
	FTS      *ftsindex.Index
	Metadata *metadata.Store
	Git      gittopology.Service
	Watch    *watchmgr.Manager
	Runner   *smartindex.Runner
	Query    *query.Service

	shutdownOnce sync.Once
	shutdownFn   func()

	idx indexState
}

// Register binds every spec.md §4.G operation to srv.
func (svc *Service) Register(srv *rpcwire.Server) {
	srv.Handle("ping", svc.handlePing)
	srv.Handle("get_status", svc.handleGetStatus)
	srv.Handle("status", svc.handleGetStatus)
	srv.Handle("clear_cache", svc.handleClearCache)
	srv.Handle("shutdown", svc.handleShutdown)
	srv.Handle("query", svc.handleQuery)
	srv.Handle("query_fts", svc.handleQueryFTS)
	srv.Handle("query_hybrid", svc.handleQueryHybrid)
	srv.Handle("query_temporal", svc.handleQueryTemporal)
	srv.Handle("index_blocking", svc.handleIndexBlocking)
	srv.Handle("index", svc.handleIndex)
	srv.Handle("get_index_progress", svc.handleGetIndexProgress)
	srv.Handle("watch_start", svc.handleWatchStart)
	srv.Handle("watch_stop", svc.handleWatchStop)
	srv.Handle("watch_status", svc.handleWatchStatus)
	srv.Handle("clean", svc.handleClean)
	srv.Handle("clean_data", svc.handleCleanData)
	srv.Handle("rebuild_fts_index", svc.handleRebuildFTSIndex)
}

// OnShutdown registers the hook handleShutdown invokes after tearing down
// in-process state (unlinking the socket and exiting, in internal/cli's
// `daemon start` command).
func (svc *Service) OnShutdown(fn func()) {
	svc.shutdownFn = fn
}

func (svc *Service) handlePing(ctx context.Context, call *rpcwire.Call) (any, error) {
	return map[string]string{"status": "ok"}, nil
}

// statusResult is the plain, JSON-shaped answer to get_status/status
// (spec.md §4.G: "Aggregated cache + indexing + watch status.").
type statusResult struct {
	Cache *cache.Stats    `json:"cache,omitempty"`
	Watch watchmgr.Stats  `json:"watch"`
	Index indexProgress   `json:"index"`
}

func (svc *Service) handleGetStatus(ctx context.Context, call *rpcwire.Call) (any, error) {
	var stats *cache.Stats
	svc.Cache.Mu.Lock()
	if e := svc.Cache.Peek(); e != nil {
		s := e.GetStats()
		stats = &s
	}
	svc.Cache.Mu.Unlock()

	return statusResult{
		Cache: stats,
		Watch: svc.Watch.GetStats(),
		Index: svc.snapshotIndexProgress(),
	}, nil
}

func (svc *Service) handleClearCache(ctx context.Context, call *rpcwire.Call) (any, error) {
	svc.Cache.Mu.Lock()
	svc.Cache.Drop()
	svc.Cache.Mu.Unlock()
	return map[string]string{"status": "ok"}, nil
}

func (svc *Service) handleShutdown(ctx context.Context, call *rpcwire.Call) (any, error) {
	svc.shutdownOnce.Do(func() {
		if svc.Watch.IsRunning() {
			_ = svc.Watch.Stop()
		}
		svc.Cache.Mu.Lock()
		svc.Cache.Drop()
		svc.Cache.Mu.Unlock()
		svc.Cache.StopEvictionLoop()
		if svc.shutdownFn != nil {
			go svc.shutdownFn()
		}
	})
	return map[string]string{"status": "ok"}, nil
}

// queryParams mirrors the `query`/`query_hybrid` RPC's argument shape
// (spec.md §4.G). List-typed fields are always lists end-to-end per the
// filter-construction note in §4.G — json.Unmarshal already enforces that,
// since a bare string fails to decode into []string rather than silently
// splatting into single-character entries.
type queryParams struct {
	Project          string   `json:"project"`
	QueryText        string   `json:"query_text"`
	Limit            int      `json:"limit"`
	Languages        []string `json:"languages"`
	ExcludeLanguages []string `json:"exclude_languages"`
	PathFilter       []string `json:"path_filter"`
	ExcludePaths     []string `json:"exclude_paths"`
	MinScore         float64  `json:"min_score"`
	Accuracy         string   `json:"accuracy"`
}

func (p queryParams) toQueryOptions() query.QueryOptions {
	return query.QueryOptions{
		Limit:            p.Limit,
		Languages:        p.Languages,
		ExcludeLanguages: p.ExcludeLanguages,
		PathFilter:       p.PathFilter,
		ExcludePaths:     p.ExcludePaths,
		MinScore:         p.MinScore,
		Accuracy:         p.Accuracy,
	}
}

func (svc *Service) handleQuery(ctx context.Context, call *rpcwire.Call) (any, error) {
	var p queryParams
	if err := call.Bind(&p); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err)
	}
	return svc.Query.Query(ctx, svc.projectOrDefault(p.Project), p.QueryText, p.toQueryOptions())
}

// ftsParams mirrors `query_fts`'s argument shape (spec.md §4.G).
type ftsParams struct {
	Project          string   `json:"project"`
	QueryText        string   `json:"query_text"`
	Limit            int      `json:"limit"`
	EditDistance     int      `json:"edit_distance"`
	CaseSensitive    bool     `json:"case_sensitive"`
	UseRegex         bool     `json:"use_regex"`
	SnippetLines     int      `json:"snippet_lines"`
	Languages        []string `json:"languages"`
	ExcludeLanguages []string `json:"exclude_languages"`
	PathFilters      []string `json:"path_filters"`
	ExcludePaths     []string `json:"exclude_paths"`
}

func (p ftsParams) toSearchOptions() ftsindex.SearchOptions {
	return ftsindex.SearchOptions{
		Limit:            p.Limit,
		EditDistance:     p.EditDistance,
		CaseSensitive:    p.CaseSensitive,
		UseRegex:         p.UseRegex,
		SnippetLines:     p.SnippetLines,
		Languages:        p.Languages,
		ExcludeLanguages: p.ExcludeLanguages,
		PathFilters:      p.PathFilters,
		ExcludePaths:     p.ExcludePaths,
	}
}

func (svc *Service) handleQueryFTS(ctx context.Context, call *rpcwire.Call) (any, error) {
	var p ftsParams
	if err := call.Bind(&p); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err)
	}
	return svc.Query.QueryFTS(p.QueryText, p.toSearchOptions())
}

// hybridParams mirrors `query_hybrid`'s argument shape: semantic query
// fields plus the full-text-only option bag, flattened rather than
// embedded since queryParams and ftsParams share several JSON field names
// (project, query_text) that would otherwise collide and be dropped by
// encoding/json's ambiguous-promoted-field rule.
type hybridParams struct {
	Project          string   `json:"project"`
	QueryText        string   `json:"query_text"`
	Limit            int      `json:"limit"`
	Languages        []string `json:"languages"`
	ExcludeLanguages []string `json:"exclude_languages"`
	PathFilter       []string `json:"path_filter"`
	ExcludePaths     []string `json:"exclude_paths"`
	MinScore         float64  `json:"min_score"`
	Accuracy         string   `json:"accuracy"`

	EditDistance  int  `json:"edit_distance"`
	CaseSensitive bool `json:"case_sensitive"`
	UseRegex      bool `json:"use_regex"`
	SnippetLines  int  `json:"snippet_lines"`
}

func (p hybridParams) toQueryOptions() query.QueryOptions {
	return query.QueryOptions{
		Limit:            p.Limit,
		Languages:        p.Languages,
		ExcludeLanguages: p.ExcludeLanguages,
		PathFilter:       p.PathFilter,
		ExcludePaths:     p.ExcludePaths,
		MinScore:         p.MinScore,
		Accuracy:         p.Accuracy,
	}
}

func (p hybridParams) toSearchOptions() ftsindex.SearchOptions {
	return ftsindex.SearchOptions{
		Limit:            p.Limit,
		EditDistance:     p.EditDistance,
		CaseSensitive:    p.CaseSensitive,
		UseRegex:         p.UseRegex,
		SnippetLines:     p.SnippetLines,
		Languages:        p.Languages,
		ExcludeLanguages: p.ExcludeLanguages,
		PathFilters:      p.PathFilter,
		ExcludePaths:     p.ExcludePaths,
	}
}

func (svc *Service) handleQueryHybrid(ctx context.Context, call *rpcwire.Call) (any, error) {
	var p hybridParams
	if err := call.Bind(&p); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err)
	}
	project := svc.projectOrDefault(p.Project)
	return svc.Query.QueryHybrid(ctx, project, p.QueryText, p.toQueryOptions(), p.toSearchOptions())
}

// temporalParams mirrors `query_temporal`'s argument shape (spec.md §4.G).
type temporalParams struct {
	queryParams
	TimeRange string `json:"time_range"`
	ChunkType string `json:"chunk_type"`
}

func (svc *Service) handleQueryTemporal(ctx context.Context, call *rpcwire.Call) (any, error) {
	var p temporalParams
	if err := call.Bind(&p); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err)
	}
	opts := query.TemporalOptions{QueryOptions: p.queryParams.toQueryOptions(), ChunkType: p.ChunkType}
	project := svc.projectOrDefault(p.queryParams.Project)
	return svc.Query.QueryTemporal(ctx, project, p.QueryText, p.TimeRange, opts)
}

// indexParams mirrors `index`/`index_blocking`'s options bag (spec.md
// §4.G, §4.E).
type indexParams struct {
	Project             string   `json:"project"`
	ForceFull           bool     `json:"force_full"`
	Reconcile           bool     `json:"reconcile"`
	IncludePatterns     []string `json:"include_patterns"`
	ExcludePatterns     []string `json:"exclude_patterns"`
	BatchSize           int      `json:"batch_size"`
	SafetyBufferSeconds int      `json:"safety_buffer_seconds"`
}

func (p indexParams) toOptions() smartindex.Options {
	return smartindex.Options{
		ForceFull:           p.ForceFull,
		Reconcile:           p.Reconcile,
		IncludePatterns:     p.IncludePatterns,
		ExcludePatterns:     p.ExcludePatterns,
		BatchSize:           p.BatchSize,
		SafetyBufferSeconds: p.SafetyBufferSeconds,
	}
}

// handleIndexBlocking runs smart_index synchronously, invalidating the
// cache before and after (spec.md §4.G, §5 "an indexing job invalidates
// the cache before starting and after completing"), and streams progress
// through the RPC's reverse callback.
func (svc *Service) handleIndexBlocking(ctx context.Context, call *rpcwire.Call) (any, error) {
	var p indexParams
	if err := call.Bind(&p); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err)
	}

	svc.invalidateCache()
	result, err := svc.Runner.Run(ctx, p.toOptions(), func(info string) string {
		reply, cbErr := call.Progress(info)
		if cbErr != nil {
			return ""
		}
		return reply
	})
	svc.invalidateCache()
	if err != nil {
		return nil, err
	}
	return result, nil
}

// handleIndex starts smart_index on a background goroutine and returns
// immediately (spec.md §4.G), guarded by indexState so exactly one of two
// concurrent calls proceeds (spec.md §5).
func (svc *Service) handleIndex(ctx context.Context, call *rpcwire.Call) (any, error) {
	var p indexParams
	if err := call.Bind(&p); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err)
	}

	svc.idx.mu.Lock()
	if svc.idx.running {
		svc.idx.mu.Unlock()
		return map[string]string{"status": "already_running"}, nil
	}
	svc.idx.running = true
	svc.idx.status = indexStatusIndexing
	svc.idx.filesProcessed = 0
	svc.idx.totalFiles = 0
	svc.idx.message = ""
	svc.idx.stats = nil
	svc.idx.mu.Unlock()

	svc.invalidateCache()
	bgCtx := context.Background()
	go func() {
		result, err := svc.Runner.Run(bgCtx, p.toOptions(), func(info string) string {
			svc.idx.mu.Lock()
			svc.idx.message = info
			svc.idx.mu.Unlock()
			return ""
		})
		svc.invalidateCache()

		svc.idx.mu.Lock()
		svc.idx.running = false
		if err != nil {
			svc.idx.status = indexStatusError
			svc.idx.message = err.Error()
		} else {
			svc.idx.status = indexStatusCompleted
			svc.idx.filesProcessed = result.FilesProcessed
			svc.idx.stats = &result
		}
		svc.idx.mu.Unlock()
	}()

	return map[string]string{"status": "started"}, nil
}

// indexProgress is get_index_progress's plain result shape (spec.md
// §4.G).
type indexProgress struct {
	Running        bool                `json:"running"`
	Status         indexStatus         `json:"status"`
	FilesProcessed int                 `json:"files_processed,omitempty"`
	TotalFiles     int                 `json:"total_files,omitempty"`
	Stats          *smartindex.Result  `json:"stats,omitempty"`
	Message        string              `json:"message,omitempty"`
}

func (svc *Service) snapshotIndexProgress() indexProgress {
	svc.idx.mu.Lock()
	defer svc.idx.mu.Unlock()
	status := svc.idx.status
	if status == "" {
		status = indexStatusIdle
	}
	return indexProgress{
		Running:        svc.idx.running,
		Status:         status,
		FilesProcessed: svc.idx.filesProcessed,
		TotalFiles:     svc.idx.totalFiles,
		Stats:          svc.idx.stats,
		Message:        svc.idx.message,
	}
}

func (svc *Service) handleGetIndexProgress(ctx context.Context, call *rpcwire.Call) (any, error) {
	return svc.snapshotIndexProgress(), nil
}

func (svc *Service) handleWatchStart(ctx context.Context, call *rpcwire.Call) (any, error) {
	if err := svc.Watch.Start(svc.ProjectPath, svc.IncludePatterns, svc.ExcludePatterns, svc.WatchLimits, svc.Runner); err != nil {
		return nil, err
	}
	return map[string]string{"status": "ok"}, nil
}

func (svc *Service) handleWatchStop(ctx context.Context, call *rpcwire.Call) (any, error) {
	if err := svc.Watch.Stop(); err != nil {
		return nil, err
	}
	return map[string]string{"status": "ok"}, nil
}

func (svc *Service) handleWatchStatus(ctx context.Context, call *rpcwire.Call) (any, error) {
	return svc.Watch.GetStats(), nil
}

// collectionParams names the optional collection override `clean` and
// `clean_data` accept (spec.md §4.G): empty means the project's default
// HEAD collection.
type collectionParams struct {
	Project    string `json:"project"`
	Collection string `json:"collection"`
}

func (svc *Service) resolveCollection(name string) string {
	if name != "" {
		return name
	}
	return vectorstore.CollectionName(svc.CollectionBase, svc.ProjectPath, svc.Query.ProviderName, svc.Query.Provider.Model())
}

// handleClean clears a collection's vectors, invalidating the cache first
// (spec.md §4.G, §5: writes to the vector store only happen after a cache
// invalidation).
func (svc *Service) handleClean(ctx context.Context, call *rpcwire.Call) (any, error) {
	var p collectionParams
	if err := call.Bind(&p); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err)
	}
	svc.invalidateCache()
	if err := svc.Vectors.ClearCollection(svc.resolveCollection(p.Collection)); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err)
	}
	return map[string]string{"status": "ok"}, nil
}

// handleCleanData deletes one collection, or every collection this
// project owns when none is named, invalidating the cache first.
func (svc *Service) handleCleanData(ctx context.Context, call *rpcwire.Call) (any, error) {
	var p collectionParams
	if err := call.Bind(&p); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err)
	}
	svc.invalidateCache()
	if p.Collection != "" {
		if err := svc.Vectors.DeleteCollection(p.Collection); err != nil {
			return nil, errkind.Wrap(errkind.Internal, err)
		}
		return map[string]string{"status": "ok"}, nil
	}
	for _, suffix := range []string{"", "_temporal"} {
		name := vectorstore.CollectionName(svc.CollectionBase+suffix, svc.ProjectPath, svc.Query.ProviderName, svc.Query.Provider.Model())
		if err := svc.Vectors.DeleteCollection(name); err != nil {
			return nil, errkind.Wrap(errkind.Internal, err)
		}
	}
	return map[string]string{"status": "ok"}, nil
}

// rebuildFTSResult is rebuild_fts_index's plain result shape.
type rebuildFTSResult struct {
	FilesIndexed int `json:"files_indexed"`
}

// handleRebuildFTSIndex walks the project's discovered files and rebuilds
// the full-text index from scratch, reporting progress every 25 files
// (spec.md §4.G). Unlike smart_index's strategies, this never touches the
// embedding provider or vector store: full-text search only needs the raw
// chunk text.
func (svc *Service) handleRebuildFTSIndex(ctx context.Context, call *rpcwire.Call) (any, error) {
	if svc.FTS == nil {
		return nil, errkind.New(errkind.MissingCollection, "full-text index is not configured")
	}

	disc, err := discovery.New(svc.ProjectPath, nil, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err)
	}
	files, err := disc.Discover()
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err)
	}

	if err := svc.FTS.DeleteAll(); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err)
	}

	indexed := 0
	const batchSize = 200
	var batch []ftsindex.Document
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := svc.FTS.IndexBatch(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for i, f := range files {
		content, readErr := os.ReadFile(f.AbsPath)
		if readErr != nil {
			// A file that vanished between discovery and read is skipped,
			// same tolerance internal/reconcile applies (spec.md §4.L).
			continue
		}
		for _, c := range smartindex.ChunkFile(f.Path, f.Language, string(content)) {
			batch = append(batch, ftsindex.Document{
				ID:        fmt.Sprintf("%s#%d", f.Path, c.Index),
				FilePath:  f.Path,
				Language:  f.Language,
				ChunkType: "code",
				Content:   c.Text,
			})
		}
		indexed++
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return nil, errkind.Wrap(errkind.Internal, err)
			}
		}
		if i%25 == 0 {
			if reply, err := call.Progress(fmt.Sprintf("%d/%d files", i+1, len(files))); err == nil && reply == smartindex.Interrupt {
				break
			}
		}
	}
	if err := flush(); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err)
	}

	return rebuildFTSResult{FilesIndexed: indexed}, nil
}

// invalidateCache drops the cache entry under the cache lock, the
// before/after invalidation spec.md §5 requires around any operation that
// writes to the vector store or full-text index.
func (svc *Service) invalidateCache() {
	svc.Cache.Mu.Lock()
	svc.Cache.Drop()
	svc.Cache.Mu.Unlock()
}

// projectOrDefault falls back to the daemon's own project path when a
// caller omits one; the socket is already scoped to a single project
// (spec.md §6: "<project>/.code-indexer/daemon.sock"), so RPC arguments
// naming a project are an explicit-is-better-than-implicit convenience,
// not a way to address a different project.
func (svc *Service) projectOrDefault(p string) string {
	if p != "" {
		return p
	}
	return svc.ProjectPath
}
