// Package metadata implements the progressive metadata store (spec.md §4.A):
// the persisted, resumable record of an indexing run. Writes take an
// exclusive file lock and write the whole in-memory record; the file is not
// re-read under the lock, so changes another process wrote after Open are
// replaced. Reads fall back to an in-memory default when
// the lock can't be acquired, the same tolerance the teacher's cache package
// applies to corrupt or contended state.
package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Status is the indexing run's lifecycle state (spec.md §4.E state machine).
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// GitState is the fingerprint used to decide whether a configuration change
// forces a full reindex (spec.md §4.A invariants).
type GitState struct {
	Available bool   `json:"git_available"`
	ProjectID string `json:"project_id"`
	Branch    string `json:"current_branch"`
	Commit    string `json:"current_commit"`
}

// record is the on-disk JSON shape. Field names are stable across versions;
// unknown fields are preserved by round-tripping through map merges is not
// needed here because every field the original tracks has a home below.
type record struct {
	Status              Status `json:"status"`
	LastIndexTimestamp  float64 `json:"last_index_timestamp"`
	IndexedAt           string  `json:"indexed_at"`
	ErrorMessage        string  `json:"error_message,omitempty"`
	EmbeddingProvider   string  `json:"embedding_provider"`
	EmbeddingModel      string  `json:"embedding_model"`
	GitAvailable        bool    `json:"git_available"`
	ProjectID           string  `json:"project_id"`
	CurrentBranch       string  `json:"current_branch"`
	CurrentCommit       string  `json:"current_commit"`
	FilesProcessed      int     `json:"files_processed"`
	ChunksIndexed       int     `json:"chunks_indexed"`
	FailedFiles         int     `json:"failed_files"`
	TotalFilesToIndex   int     `json:"total_files_to_index"`
	FilesToIndex        []string `json:"files_to_index"`
	CompletedFiles      []string `json:"completed_files"`
	FailedFilePaths     []string `json:"failed_file_paths"`
	CurrentFileIndex    int      `json:"current_file_index"`
	BranchWatermarks    map[string]string `json:"branch_commit_watermarks"`
	LastCommitCheckUnix float64           `json:"last_commit_check_timestamp"`
}

func defaultRecord() record {
	return record{
		Status:           StatusNotStarted,
		CurrentBranch:    "unknown",
		FilesToIndex:     []string{},
		CompletedFiles:   []string{},
		FailedFilePaths:  []string{},
		BranchWatermarks: map[string]string{},
	}
}

// Store manages one project's progressive-metadata file.
type Store struct {
	path string
	mu   sync.Mutex // serializes in-process access; flock serializes cross-process
	rec  record
}

// Open loads existing metadata from path or starts a fresh record. Corrupt
// or missing metadata is tolerated by falling back to defaults, matching
// the original's "corrupt metadata, start fresh" behaviour.
func Open(path string) (*Store, error) {
	s := &Store{path: path, rec: defaultRecord()}
	data, err := os.ReadFile(path)
	if err == nil {
		var loaded record
		if jsonErr := json.Unmarshal(data, &loaded); jsonErr == nil {
			if loaded.BranchWatermarks == nil {
				loaded.BranchWatermarks = map[string]string{}
			}
			if loaded.FilesToIndex == nil {
				loaded.FilesToIndex = []string{}
			}
			if loaded.CompletedFiles == nil {
				loaded.CompletedFiles = []string{}
			}
			if loaded.FailedFilePaths == nil {
				loaded.FailedFilePaths = []string{}
			}
			s.rec = loaded
		}
	}
	return s, nil
}

// save writes the whole in-memory record under an exclusive file lock, so
// two writes never interleave. It does not re-read the file first: changes
// another process wrote since Open are overwritten.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	fl := flock.New(s.path + ".lock")
	if err := fl.Lock(); err != nil {
		return err
	}
	defer fl.Unlock()

	data, err := json.MarshalIndent(s.rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Start marks the beginning of an indexing operation (spec.md §4.A `start`).
func (s *Store) Start(provider, model string, git GitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.Status = StatusInProgress
	s.rec.IndexedAt = time.Now().UTC().Format(time.RFC3339)
	s.rec.EmbeddingProvider = provider
	s.rec.EmbeddingModel = model
	s.rec.GitAvailable = git.Available
	s.rec.ProjectID = git.ProjectID
	s.rec.CurrentBranch = git.Branch
	s.rec.CurrentCommit = git.Commit
	s.rec.FilesProcessed = 0
	s.rec.ChunksIndexed = 0
	s.rec.FailedFiles = 0
	return s.save()
}

// SetFilesToIndex records the resumable file list for a run (spec.md §4.A).
func (s *Store) SetFilesToIndex(paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]string, len(paths))
	copy(cp, paths)
	s.rec.FilesToIndex = cp
	s.rec.TotalFilesToIndex = len(cp)
	s.rec.CurrentFileIndex = 0
	s.rec.CompletedFiles = []string{}
	s.rec.FailedFilePaths = []string{}
	return s.save()
}

// MarkFileCompleted appends path to completed_files (deduplicating),
// advances current_file_index, bumps counters, and flushes to disk.
func (s *Store) MarkFileCompleted(path string, chunks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !contains(s.rec.CompletedFiles, path) {
		s.rec.CompletedFiles = append(s.rec.CompletedFiles, path)
	}
	s.rec.CurrentFileIndex++
	s.rec.FilesProcessed = len(s.rec.CompletedFiles)
	s.rec.ChunksIndexed += chunks
	s.rec.LastIndexTimestamp = float64(time.Now().Unix())
	return s.save()
}

// MarkFileFailed appends path to failed_file_paths without bumping
// chunks_indexed, per spec.md §4.A.
func (s *Store) MarkFileFailed(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !contains(s.rec.FailedFilePaths, path) {
		s.rec.FailedFilePaths = append(s.rec.FailedFilePaths, path)
	}
	s.rec.CurrentFileIndex++
	s.rec.FailedFiles = len(s.rec.FailedFilePaths)
	return s.save()
}

// Complete marks the run completed.
func (s *Store) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.Status = StatusCompleted
	s.rec.IndexedAt = time.Now().UTC().Format(time.RFC3339)
	s.rec.LastIndexTimestamp = float64(time.Now().Unix())
	return s.save()
}

// Fail marks the run failed with an optional message.
func (s *Store) Fail(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.Status = StatusFailed
	s.rec.ErrorMessage = msg
	return s.save()
}

// Clear resets the metadata to a fresh, not_started record.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec = defaultRecord()
	return s.save()
}

// GetResumeTimestamp returns max(0, last_index_timestamp - safetyBuffer), or
// 0 if the run never completed/started (spec.md §4.A).
func (s *Store) GetResumeTimestamp(safetyBufferSeconds int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.Status != StatusInProgress && s.rec.Status != StatusCompleted {
		return 0
	}
	if s.rec.LastIndexTimestamp == 0 {
		return 0
	}
	ts := s.rec.LastIndexTimestamp - float64(safetyBufferSeconds)
	if ts < 0 {
		return 0
	}
	return ts
}

// ShouldForceFullIndex reports whether provider, model, or git fingerprint
// changed since the last run, per spec.md §4.A.
func (s *Store) ShouldForceFullIndex(provider, model string, git GitState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.EmbeddingProvider != provider || s.rec.EmbeddingModel != model {
		return true
	}
	if s.rec.GitAvailable != git.Available {
		return true
	}
	if s.rec.ProjectID != git.ProjectID {
		return true
	}
	return false
}

// GetRemainingFiles returns files_to_index[current_file_index:].
func (s *Store) GetRemainingFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.CurrentFileIndex >= len(s.rec.FilesToIndex) {
		return nil
	}
	out := make([]string, len(s.rec.FilesToIndex)-s.rec.CurrentFileIndex)
	copy(out, s.rec.FilesToIndex[s.rec.CurrentFileIndex:])
	return out
}

// CanResumeInterrupted ⇔ status = in_progress ∧ current_file_index <
// len(files_to_index) (spec.md §4.A).
func (s *Store) CanResumeInterrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rec.Status == StatusInProgress &&
		s.rec.CurrentFileIndex < len(s.rec.FilesToIndex)
}

// GetCurrentBranch returns the tracked branch, falling back to "unknown".
func (s *Store) GetCurrentBranch() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.CurrentBranch == "" {
		return "unknown"
	}
	return s.rec.CurrentBranch
}

// UpdateCurrentBranch updates current_branch under an exclusive file lock;
// if the file does not exist yet it falls back to an in-memory update
// followed by a save, per spec.md §4.A.
func (s *Store) UpdateCurrentBranch(branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.CurrentBranch = branch
	return s.save()
}

// GetBranchWatermark returns the last-indexed commit hash for branch, trying
// a non-blocking shared read first and falling back to fallback on
// contention (spec.md §4.A).
func (s *Store) GetBranchWatermark(branch, fallback string) string {
	fl := flock.New(s.path + ".lock")
	locked, err := fl.TryRLock()
	if err != nil || !locked {
		return fallback
	}
	defer fl.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if hash, ok := s.rec.BranchWatermarks[branch]; ok {
		return hash
	}
	return fallback
}

// SetBranchWatermark records the last-indexed commit hash for branch.
func (s *Store) SetBranchWatermark(branch, commit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.BranchWatermarks == nil {
		s.rec.BranchWatermarks = map[string]string{}
	}
	s.rec.BranchWatermarks[branch] = commit
	s.rec.LastCommitCheckUnix = float64(time.Now().Unix())
	return s.save()
}

// Stats is the snapshot returned by get_index_progress / status RPCs.
type Stats struct {
	Status                 Status  `json:"status"`
	LastIndexed            string  `json:"last_indexed"`
	FilesProcessed         int     `json:"files_processed"`
	ChunksIndexed          int     `json:"chunks_indexed"`
	FailedFiles            int     `json:"failed_files"`
	EmbeddingProvider      string  `json:"embedding_provider"`
	EmbeddingModel         string  `json:"embedding_model"`
	ProjectID              string  `json:"project_id"`
	CurrentBranch          string  `json:"current_branch"`
	CanResume              bool    `json:"can_resume"`
	CanResumeInterrupted   bool    `json:"can_resume_interrupted"`
	TotalFilesToIndex      int     `json:"total_files_to_index"`
	CurrentFileIndex       int     `json:"current_file_index"`
	RemainingFiles         int     `json:"remaining_files"`
}

// GetStats snapshots current indexing statistics (spec.md §4.A / §8 E3).
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := s.rec.TotalFilesToIndex - s.rec.CurrentFileIndex
	if remaining < 0 {
		remaining = 0
	}
	return Stats{
		Status:            s.rec.Status,
		LastIndexed:       s.rec.IndexedAt,
		FilesProcessed:    s.rec.FilesProcessed,
		ChunksIndexed:     s.rec.ChunksIndexed,
		FailedFiles:       s.rec.FailedFiles,
		EmbeddingProvider: s.rec.EmbeddingProvider,
		EmbeddingModel:    s.rec.EmbeddingModel,
		ProjectID:         s.rec.ProjectID,
		CurrentBranch:     s.rec.CurrentBranch,
		CanResume: (s.rec.Status == StatusInProgress || s.rec.Status == StatusCompleted) &&
			s.rec.LastIndexTimestamp > 0,
		CanResumeInterrupted: s.rec.Status == StatusInProgress &&
			s.rec.CurrentFileIndex < len(s.rec.FilesToIndex),
		TotalFilesToIndex: s.rec.TotalFilesToIndex,
		CurrentFileIndex:  s.rec.CurrentFileIndex,
		RemainingFiles:    remaining,
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
