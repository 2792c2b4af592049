// Package ftsindex is the full-text index spec.md §1 names as an external
// collaborator: open at a directory, run a searcher with options {fuzzy
// edit distance, case sensitivity, regex, snippet line count, language
// include/exclude, path include/exclude}. Grounded on the teacher's
// internal/mcp/exact_searcher.go bleve document mapping, adapted from an
// in-memory-only index (bleve.NewMemOnly) to one opened against a
// directory on disk (spec.md §8: `.code-indexer/tantivy_index/…`), since
// the daemon must survive restarts without re-indexing from scratch.
package ftsindex

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/gobwas/glob"
)

// Document is one chunk indexed for full-text search.
type Document struct {
	ID        string
	FilePath  string
	Language  string
	ChunkType string
	Content   string
}

// SearchOptions mirrors the query_fts RPC's option bag (spec.md §4.G).
type SearchOptions struct {
	Limit            int
	EditDistance     int
	CaseSensitive    bool
	UseRegex         bool
	SnippetLines     int
	Languages        []string
	ExcludeLanguages []string
	PathFilters      []string
	ExcludePaths     []string
}

// Result is one full-text search hit.
type Result struct {
	ID        string
	FilePath  string
	Language  string
	ChunkType string
	Score     float64
	Snippets  []string
}

// Index is a disk-backed bleve index plus the document-content lookups
// needed to apply case-sensitivity and snippet-line-count post-processing
// that bleve's highlighter does not natively support.
type Index struct {
	bleveIndex bleve.Index
}

// Open opens (or creates, if absent) a bleve index at dir.
func Open(dir string) (*Index, error) {
	idx, err := bleve.Open(dir)
	if err == nil {
		return &Index{bleveIndex: idx}, nil
	}
	idx, err = bleve.New(dir, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("open fts index at %s: %w", dir, err)
	}
	return &Index{bleveIndex: idx}, nil
}

// Close releases the underlying bleve index.
func (i *Index) Close() error {
	return i.bleveIndex.Close()
}

func buildMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()

	content := bleve.NewTextFieldMapping()
	content.Analyzer = "standard"
	content.Store = true
	content.IncludeTermVectors = true

	keyword := bleve.NewTextFieldMapping()
	keyword.Analyzer = "keyword"
	keyword.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", content)
	doc.AddFieldMappingsAt("file_path", keyword)
	doc.AddFieldMappingsAt("language", keyword)
	doc.AddFieldMappingsAt("chunk_type", keyword)
	m.DefaultMapping = doc
	return m
}

func toBleveDoc(d Document) map[string]interface{} {
	return map[string]interface{}{
		"content":    d.Content,
		"file_path":  d.FilePath,
		"language":   d.Language,
		"chunk_type": d.ChunkType,
	}
}

// IndexBatch adds or replaces documents in a single bleve batch.
func (i *Index) IndexBatch(docs []Document) error {
	batch := i.bleveIndex.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ID, toBleveDoc(d)); err != nil {
			return fmt.Errorf("index doc %s: %w", d.ID, err)
		}
	}
	return i.bleveIndex.Batch(batch)
}

// UpdateIncremental applies added/updated/deleted documents in one batch.
func (i *Index) UpdateIncremental(added, updated []Document, deleted []string) error {
	batch := i.bleveIndex.NewBatch()
	for _, id := range deleted {
		batch.Delete(id)
	}
	for _, d := range append(append([]Document{}, added...), updated...) {
		if err := batch.Index(d.ID, toBleveDoc(d)); err != nil {
			return fmt.Errorf("index doc %s: %w", d.ID, err)
		}
	}
	return i.bleveIndex.Batch(batch)
}

// DeleteAll removes every document, used by rebuild_fts_index (spec.md
// §4.G) before re-walking discovered files.
func (i *Index) DeleteAll() error {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), 10_000, 0, false)
	res, err := i.bleveIndex.Search(req)
	if err != nil {
		return err
	}
	if len(res.Hits) == 0 {
		return nil
	}
	batch := i.bleveIndex.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	return i.bleveIndex.Batch(batch)
}

// DeleteByFile removes every document whose file_path equals filePath.
func (i *Index) DeleteByFile(filePath string) error {
	q := bleve.NewTermQuery(filePath)
	q.SetField("file_path")
	req := bleve.NewSearchRequestOptions(q, 10_000, 0, false)
	req.Fields = []string{"file_path"}
	res, err := i.bleveIndex.Search(req)
	if err != nil {
		return err
	}
	if len(res.Hits) == 0 {
		return nil
	}
	batch := i.bleveIndex.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	return i.bleveIndex.Batch(batch)
}

// Search runs a query against the index applying SearchOptions.
func (i *Index) Search(queryText string, opts SearchOptions) ([]Result, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 15
	}
	snippetLines := opts.SnippetLines
	if snippetLines <= 0 {
		snippetLines = 2
	}

	var q query.Query
	switch {
	case opts.UseRegex:
		rq := bleve.NewRegexpQuery(queryText)
		rq.SetField("content")
		q = rq
	case opts.EditDistance > 0:
		fq := bleve.NewFuzzyQuery(queryText)
		fq.SetFuzziness(opts.EditDistance)
		fq.SetField("content")
		q = fq
	default:
		q = bleve.NewQueryStringQuery(queryText)
	}

	req := bleve.NewSearchRequestOptions(q, limit*4, 0, false)
	style := "html"
	req.Highlight = bleve.NewHighlight()
	req.Highlight.Style = &style
	req.Highlight.Fields = []string{"content"}
	req.Fields = []string{"file_path", "language", "chunk_type", "content"}

	sr, err := i.bleveIndex.Search(req)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}

	includeGlobs := compileGlobs(opts.PathFilters)
	excludeGlobs := compileGlobs(opts.ExcludePaths)

	var out []Result
	for _, hit := range sr.Hits {
		filePath, _ := hit.Fields["file_path"].(string)
		language, _ := hit.Fields["language"].(string)
		chunkType, _ := hit.Fields["chunk_type"].(string)
		content, _ := hit.Fields["content"].(string)

		if len(opts.Languages) > 0 && !contains(opts.Languages, language) {
			continue
		}
		if len(opts.ExcludeLanguages) > 0 && contains(opts.ExcludeLanguages, language) {
			continue
		}
		if len(includeGlobs) > 0 && !matchesAny(includeGlobs, filePath) {
			continue
		}
		if excludeGlobs != nil && matchesAny(excludeGlobs, filePath) {
			continue
		}
		if opts.CaseSensitive && !strings.Contains(content, queryText) {
			continue
		}

		out = append(out, Result{
			ID:        hit.ID,
			FilePath:  filePath,
			Language:  language,
			ChunkType: chunkType,
			Score:     hit.Score,
			Snippets:  snippetsFromFragments(hit.Fragments, snippetLines),
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func snippetsFromFragments(fragments map[string][]string, snippetLines int) []string {
	var out []string
	for _, snippets := range fragments {
		for _, s := range snippets {
			lines := strings.SplitN(s, "\n", snippetLines+1)
			if len(lines) > snippetLines {
				lines = lines[:snippetLines]
			}
			out = append(out, strings.Join(lines, "\n"))
		}
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
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
