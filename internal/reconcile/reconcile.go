// Package reconcile implements the "reconcile with database" indexing
// strategy (spec.md §4.E.3 / §4.L): page through every persisted point in
// a collection, compare each discovered file's on-disk mtime against the
// database's recorded timestamp, and report which files are missing or
// modified. Grounded on the teacher's internal/storage scroll/paging shape
// (vectorstore.Store.ScrollPoints), generalized into a standalone
// comparison pass so the smart indexer can call it without owning the
// paging loop itself.
package reconcile

import (
	"sort"
	"time"

	"github.com/mvp-joe/codeindexd/internal/discovery"
	"github.com/mvp-joe/codeindexd/internal/vectorstore"
)

const (
	scrollPageSize = 1000
	mtimeTolerance = 1 * time.Second
)

// Plan is the outcome of comparing discovered files against the persisted
// collection: which files need reindexing, and how many were missing vs
// merely stale.
type Plan struct {
	ToReindex []discovery.File
	Missing   int
	Modified  int
}

// Build pages through collection via store.ScrollPoints and decides, for
// each discovered file, whether it is up to date. A file is up to date iff
// it has an entry in the database and disk_mtime <= db_timestamp + 1s
// (spec.md §4.L). Files whose on-disk path disappeared between scroll and
// compare are silently skipped (discovered is the source of truth for
// existence, so this simply means nothing to compare against). The
// resulting to-reindex set preserves the original enumeration order of
// discovered, keeping progress reporting stable.
func Build(store *vectorstore.Store, collection string, discovered []discovery.File) (Plan, error) {
	dbTimestamps, err := scrollTimestamps(store, collection)
	if err != nil {
		return Plan{}, err
	}

	var plan Plan
	toReindex := make([]discovery.File, 0, len(discovered))
	for _, f := range discovered {
		dbTS, ok := dbTimestamps[f.Path]
		if !ok {
			plan.Missing++
			toReindex = append(toReindex, f)
			continue
		}
		diskMtime := time.Unix(f.ModTime, 0)
		if diskMtime.After(dbTS.Add(mtimeTolerance)) {
			plan.Modified++
			toReindex = append(toReindex, f)
		}
	}

	sort.SliceStable(toReindex, func(i, j int) bool {
		return indexOf(discovered, toReindex[i].Path) < indexOf(discovered, toReindex[j].Path)
	})
	plan.ToReindex = toReindex
	return plan, nil
}

func indexOf(files []discovery.File, path string) int {
	for i, f := range files {
		if f.Path == path {
			return i
		}
	}
	return -1
}

// scrollTimestamps pages through the collection with ScrollPoints(limit=1000)
// until an empty page, collecting the latest timestamp per file path. A
// point's timestamp is its FilesystemMTime; if that's zero (a git-indexed
// project where only indexed_at was recorded) it falls back to IndexedAt,
// per spec.md §4.E's "database timestamp is reconstructed from indexed_at".
func scrollTimestamps(store *vectorstore.Store, collection string) (map[string]time.Time, error) {
	out := map[string]time.Time{}
	offset := 0
	for {
		points, err := store.ScrollPoints(collection, scrollPageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(points) == 0 {
			break
		}
		for _, p := range points {
			ts := p.FilesystemMTime
			if ts.IsZero() {
				ts = p.IndexedAt
			}
			if existing, ok := out[p.FilePath]; !ok || ts.After(existing) {
				out[p.FilePath] = ts
			}
		}
		offset += len(points)
		if len(points) < scrollPageSize {
			break
		}
	}
	return out, nil
}
