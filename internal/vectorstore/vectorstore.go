// Package vectorstore is the vector store spec.md §1 names as an external
// collaborator: an object that can create/clear collections, upsert
// points, scroll points, search by vector, and report points. Grounded on
// the teacher's internal/storage/vector_index.go (sqlite-vec vec0 virtual
// table, cosine distance) generalized from a single fixed "chunks_vec"
// table into one vec0 table per named, provider-aware collection, each
// living in its own on-disk directory with a collection_meta.json sidecar
// (spec.md §8: `{vector_size, hnsw_index: {index_rebuild_uuid}}`).
package vectorstore

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Point is one embedded chunk stored in a collection.
type Point struct {
	ID              string
	Vector          []float32
	FilePath        string
	Language        string
	ChunkType       string
	Content         string
	IndexedAt       time.Time
	FilesystemMTime time.Time
}

// SearchResult pairs a point with its similarity score (1 - cosine
// distance, higher is better).
type SearchResult struct {
	Point Point
	Score float64
}

// CollectionMeta mirrors collection_meta.json, the contract internal/cache
// reads for staleness detection.
type CollectionMeta struct {
	VectorSize int    `json:"vector_size"`
	RebuildID  string `json:"-"`
}

type onDiskMeta struct {
	VectorSize int `json:"vector_size"`
	HNSWIndex  struct {
		IndexRebuildUUID string `json:"index_rebuild_uuid"`
	} `json:"hnsw_index"`
}

// Store manages collections rooted under a base directory
// (`.code-indexer/index/<collection>/…`, spec.md §8).
type Store struct {
	baseDir string
}

// Open returns a Store rooted at baseDir, creating it if absent.
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) dir(collection string) string {
	return filepath.Join(s.baseDir, collection)
}

// CollectionDir exposes a collection's on-disk directory, the path
// internal/cache reads collection_meta.json from for rebuild-stamp
// staleness checks.
func (s *Store) CollectionDir(collection string) string {
	return s.dir(collection)
}

func (s *Store) dbPath(collection string) string {
	return filepath.Join(s.dir(collection), "points.db")
}

func (s *Store) metaPath(collection string) string {
	return filepath.Join(s.dir(collection), "collection_meta.json")
}

func (s *Store) open(collection string) (*sql.DB, error) {
	return sql.Open("sqlite3", s.dbPath(collection))
}

func (s *Store) writeMeta(collection string, dim int, rebuildID string) error {
	m := onDiskMeta{VectorSize: dim}
	m.HNSWIndex.IndexRebuildUUID = rebuildID
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(s.metaPath(collection), data, 0o644)
}

// Meta reads a collection's sidecar metadata file.
func (s *Store) Meta(collection string) (CollectionMeta, error) {
	data, err := os.ReadFile(s.metaPath(collection))
	if err != nil {
		return CollectionMeta{}, err
	}
	var m onDiskMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return CollectionMeta{}, err
	}
	return CollectionMeta{VectorSize: m.VectorSize, RebuildID: m.HNSWIndex.IndexRebuildUUID}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS points (
	id TEXT PRIMARY KEY,
	file_path TEXT NOT NULL,
	language TEXT,
	chunk_type TEXT,
	content TEXT,
	indexed_at TEXT,
	filesystem_mtime TEXT
);
CREATE INDEX IF NOT EXISTS idx_points_file_path ON points(file_path);
`

// CreateCollection creates (or re-creates) a collection's on-disk
// structure with a fresh rebuild stamp.
func (s *Store) CreateCollection(collection string, dim int) error {
	if err := os.MkdirAll(s.dir(collection), 0o755); err != nil {
		return err
	}
	db, err := s.open(collection)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create points table: %w", err)
	}
	vecSQL := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS points_vec USING vec0(id TEXT PRIMARY KEY, embedding float[%d])`, dim)
	if _, err := db.Exec(vecSQL); err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	return s.writeMeta(collection, dim, uuid.NewString())
}

// ClearCollection deletes all points and bumps the rebuild stamp, so that
// live cache entries holding a stale ANN handle detect the rebuild on
// their next freshness check.
func (s *Store) ClearCollection(collection string) error {
	meta, err := s.Meta(collection)
	if err != nil {
		return err
	}
	db, err := s.open(collection)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec("DELETE FROM points"); err != nil {
		return err
	}
	if _, err := db.Exec("DELETE FROM points_vec"); err != nil {
		return err
	}
	return s.writeMeta(collection, meta.VectorSize, uuid.NewString())
}

// DeleteCollection removes a collection's on-disk directory entirely.
func (s *Store) DeleteCollection(collection string) error {
	return os.RemoveAll(s.dir(collection))
}

// Exists reports whether a collection has been created.
func (s *Store) Exists(collection string) bool {
	_, err := os.Stat(s.metaPath(collection))
	return err == nil
}

// UpsertPoints writes or replaces a batch of points in a single
// transaction. On any failure it rolls the whole transaction back and
// returns false together with the error, so no half written batch is left
// behind; the caller maps either to errkind.BackendUpsertFailed.
func (s *Store) UpsertPoints(collection string, points []Point) (bool, error) {
	if len(points) == 0 {
		return true, nil
	}
	db, err := s.open(collection)
	if err != nil {
		return false, err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return false, err
	}

	pointStmt, err := tx.Prepare(`INSERT INTO points (id, file_path, language, chunk_type, content, indexed_at, filesystem_mtime)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET file_path=excluded.file_path, language=excluded.language,
			chunk_type=excluded.chunk_type, content=excluded.content, indexed_at=excluded.indexed_at,
			filesystem_mtime=excluded.filesystem_mtime`)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	defer pointStmt.Close()

	delVecStmt, err := tx.Prepare("DELETE FROM points_vec WHERE id = ?")
	if err != nil {
		tx.Rollback()
		return false, err
	}
	defer delVecStmt.Close()

	insVecStmt, err := tx.Prepare("INSERT INTO points_vec (id, embedding) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		return false, err
	}
	defer insVecStmt.Close()

	for _, p := range points {
		if _, err := pointStmt.Exec(p.ID, p.FilePath, p.Language, p.ChunkType, p.Content,
			formatTime(p.IndexedAt), formatTime(p.FilesystemMTime)); err != nil {
			tx.Rollback()
			return false, fmt.Errorf("upsert point %s: %w", p.ID, err)
		}
		if _, err := delVecStmt.Exec(p.ID); err != nil {
			tx.Rollback()
			return false, err
		}
		embBytes, err := sqlite_vec.SerializeFloat32(p.Vector)
		if err != nil {
			tx.Rollback()
			return false, err
		}
		if _, err := insVecStmt.Exec(p.ID, embBytes); err != nil {
			tx.Rollback()
			return false, fmt.Errorf("upsert vector %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// DeletePointsByFile removes every point belonging to filePath, used by
// incremental reindexing when a file's content changes or it is deleted.
func (s *Store) DeletePointsByFile(collection, filePath string) error {
	db, err := s.open(collection)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query("SELECT id FROM points WHERE file_path = ?", filePath)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM points WHERE file_path = ?", filePath); err != nil {
		tx.Rollback()
		return err
	}
	for _, id := range ids {
		if _, err := tx.Exec("DELETE FROM points_vec WHERE id = ?", id); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ScrollPoints pages through a collection's points without vectors,
// matching the store's `scroll_points(collection, limit, offset,
// with_payload=true, with_vectors=false)` contract (spec.md §9 reconcile).
func (s *Store) ScrollPoints(collection string, limit, offset int) ([]Point, error) {
	db, err := s.open(collection)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT id, file_path, language, chunk_type, content, indexed_at, filesystem_mtime
		FROM points ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var p Point
		var indexedAt, fsMtime sql.NullString
		if err := rows.Scan(&p.ID, &p.FilePath, &p.Language, &p.ChunkType, &p.Content, &indexedAt, &fsMtime); err != nil {
			return nil, err
		}
		p.IndexedAt = parseTime(indexedAt.String)
		p.FilesystemMTime = parseTime(fsMtime.String)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Filter narrows a vector search by language, path pattern, and score.
type Filter struct {
	Languages        []string
	ExcludeLanguages []string
	PathMatch        func(filePath string) bool
	ExcludePathMatch func(filePath string) bool
	MinScore         float64
}

func (f Filter) allows(p Point, score float64) bool {
	if score < f.MinScore {
		return false
	}
	if len(f.Languages) > 0 && !contains(f.Languages, p.Language) {
		return false
	}
	if len(f.ExcludeLanguages) > 0 && contains(f.ExcludeLanguages, p.Language) {
		return false
	}
	if f.PathMatch != nil && !f.PathMatch(p.FilePath) {
		return false
	}
	if f.ExcludePathMatch != nil && f.ExcludePathMatch(p.FilePath) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Search performs cosine-distance KNN search, over-fetching by ef beyond
// limit to give the post-filter step (language/path/score) real results
// to work with, per spec.md §4.H's ef accuracy knob.
func (s *Store) Search(collection string, queryVec []float32, limit, ef int, filter Filter) ([]SearchResult, error) {
	if ef < limit {
		ef = limit
	}
	db, err := s.open(collection)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	queryBytes, err := sqlite_vec.SerializeFloat32(queryVec)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT p.id, p.file_path, p.language, p.chunk_type, p.content, p.indexed_at, p.filesystem_mtime, v.distance
		FROM points_vec v
		JOIN points p ON p.id = v.id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, queryBytes, ef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var p Point
		var indexedAt, fsMtime sql.NullString
		var distance float64
		if err := rows.Scan(&p.ID, &p.FilePath, &p.Language, &p.ChunkType, &p.Content, &indexedAt, &fsMtime, &distance); err != nil {
			return nil, err
		}
		p.IndexedAt = parseTime(indexedAt.String)
		p.FilesystemMTime = parseTime(fsMtime.String)
		score := 1 - distance
		if !filter.allows(p, score) {
			continue
		}
		out = append(out, SearchResult{Point: p, Score: score})
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9_]+`)
var multiUnderscore = regexp.MustCompile(`_+`)

// Slug normalizes a string to the `[a-z0-9_]+` alphabet used in
// collection names, collapsing consecutive underscores (spec.md §8).
func Slug(s string) string {
	s = strings.ToLower(s)
	s = slugInvalid.ReplaceAllString(s, "_")
	s = multiUnderscore.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// ProjectID is the first 8 hex chars of the SHA-256 of the absolute
// project path, used to isolate collections between projects that share
// the same base name and provider (spec.md §8).
func ProjectID(absProjectPath string) string {
	sum := sha256.Sum256([]byte(absProjectPath))
	return hex.EncodeToString(sum[:])[:8]
}

// CollectionName composes `<base>_<project_id>_<provider_slug>_<model_slug>`.
func CollectionName(base, projectPath, provider, model string) string {
	parts := []string{Slug(base)}
	if projectPath != "" {
		parts = append(parts, ProjectID(projectPath))
	}
	parts = append(parts, Slug(provider), Slug(model))
	return strings.Join(parts, "_")
}

// AccuracyToEF maps the query-time accuracy knob to an ANN ef parameter,
// defaulting unknown values to "balanced" (spec.md §4.H, §9 edge case 8).
func AccuracyToEF(accuracy string) int {
	switch accuracy {
	case "fast":
		return 50
	case "high":
		return 200
	default:
		return 100
	}
}
