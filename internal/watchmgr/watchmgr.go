// Package watchmgr runs the daemon's watch job in a background goroutine
// so RPC handling is never blocked by file-system watching (spec.md §3
// WatchJob, §4.F). It is grounded on the teacher's internal/watcher
// coordinator pattern (pause file events while a branch switch settles)
// and on the Python DaemonWatchManager's starting/running/error/stopped
// sentinel state machine and 5-second stop-join timeout.
package watchmgr

import (
	"context"
	"sync"
	"time"

	"github.com/mvp-joe/codeindexd/internal/errkind"
	"github.com/mvp-joe/codeindexd/internal/filewatch"
	"github.com/mvp-joe/codeindexd/internal/gittopology"
)

// State is one of the watch job's lifecycle sentinels.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateError    State = "error"
	StateStopped  State = "stopped"
)

// Indexer is the subset of the smart indexer the watch manager drives:
// reindexing a set of changed files, and reconciling a branch switch.
type Indexer interface {
	IndexFiles(ctx context.Context, projectPath string, files []string) error
	ReconcileBranch(ctx context.Context, projectPath, oldBranch, newBranch string) error
}

// Stats is the JSON-serializable snapshot surfaced by watch_status.
type Stats struct {
	Status         State     `json:"status"`
	ProjectPath    string    `json:"project_path,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	UptimeSeconds  float64   `json:"uptime_seconds"`
	FilesProcessed int       `json:"files_processed"`
	IndexingCycles int       `json:"indexing_cycles"`
	Error          string    `json:"error,omitempty"`
}

// Manager is the daemon's single in-memory WatchJob.
type Manager struct {
	mu sync.Mutex

	git   gittopology.Service
	files filewatch.FileWatcher
	gw    filewatch.GitWatcher

	state          State
	projectPath    string
	startedAt      time.Time
	filesProcessed int
	indexingCycles int
	lastError      string

	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// New creates an idle watch manager.
func New(git gittopology.Service) *Manager {
	return &Manager{git: git, state: StateIdle}
}

// IsRunning reports whether a watch job is alive.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateRunning || m.state == StateStarting
}

// Start begins watching projectPath in a background goroutine, applying
// the same include/exclude discovery glob patterns the indexer itself
// uses (spec.md §4.K paths.include/paths.exclude), so watch scope and
// index scope never drift apart. Returns errkind.AlreadyRunning if a
// watch job is already active.
func (m *Manager) Start(projectPath string, includePatterns, excludePatterns []string, limits filewatch.Limits, indexer Indexer) error {
	m.mu.Lock()
	if m.state == StateRunning || m.state == StateStarting {
		m.mu.Unlock()
		return errkind.New(errkind.AlreadyRunning, "watch already running for "+m.projectPath)
	}

	m.state = StateStarting
	m.projectPath = projectPath
	m.startedAt = time.Now()
	m.filesProcessed = 0
	m.indexingCycles = 0
	m.lastError = ""
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	fw, err := filewatch.NewFileWatcher(projectPath, includePatterns, excludePatterns, limits)
	if err != nil {
		m.setError(err.Error())
		return err
	}
	gw, err := filewatch.NewGitWatcher(projectPath, m.git)
	if err != nil {
		// Not every project is a git repository; watch still works for
		// content changes, it just never sees branch switches.
		gw = nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.files = fw
	m.gw = gw
	m.cancel = cancel
	m.mu.Unlock()

	if err := fw.Start(ctx, func(changed []string) {
		m.handleFileChange(ctx, indexer, changed)
	}); err != nil {
		m.setError(err.Error())
		cancel()
		return err
	}

	if gw != nil {
		_ = gw.Start(ctx, func(oldBranch, newBranch string) {
			m.handleBranchSwitch(ctx, indexer, oldBranch, newBranch)
		})
	}

	m.mu.Lock()
	m.state = StateRunning
	m.mu.Unlock()

	return nil
}

func (m *Manager) handleFileChange(ctx context.Context, indexer Indexer, files []string) {
	if len(files) == 0 {
		return
	}
	m.mu.Lock()
	path := m.projectPath
	m.mu.Unlock()

	if err := indexer.IndexFiles(ctx, path, files); err != nil {
		m.setError(err.Error())
		return
	}

	m.mu.Lock()
	m.filesProcessed += len(files)
	m.indexingCycles++
	m.mu.Unlock()
}

func (m *Manager) handleBranchSwitch(ctx context.Context, indexer Indexer, oldBranch, newBranch string) {
	if m.files != nil {
		m.files.Pause()
		defer m.files.Resume()
	}

	m.mu.Lock()
	path := m.projectPath
	m.mu.Unlock()

	if err := indexer.ReconcileBranch(ctx, path, oldBranch, newBranch); err != nil {
		m.setError(err.Error())
		return
	}

	m.mu.Lock()
	m.indexingCycles++
	m.mu.Unlock()
}

func (m *Manager) setError(msg string) {
	m.mu.Lock()
	m.state = StateError
	m.lastError = msg
	m.mu.Unlock()
}

// Stop stops the watch job, waiting up to 5 seconds for its goroutines to
// unwind (spec.md §4.F, grounded on the Python manager's join(timeout=5.0)).
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state != StateRunning && m.state != StateError && m.state != StateStarting {
		m.mu.Unlock()
		return errkind.New(errkind.Internal, "watch not running")
	}
	cancel := m.cancel
	files := m.files
	gw := m.gw
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		if files != nil {
			_ = files.Stop()
		}
		if gw != nil {
			_ = gw.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}

	m.mu.Lock()
	m.state = StateStopped
	m.files = nil
	m.gw = nil
	m.projectPath = ""
	m.mu.Unlock()
	return nil
}

// GetStats returns a snapshot of the watch job's current state.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Status:         m.state,
		ProjectPath:    m.projectPath,
		FilesProcessed: m.filesProcessed,
		IndexingCycles: m.indexingCycles,
		Error:          m.lastError,
	}
	if m.state == StateRunning || m.state == StateError {
		s.StartedAt = m.startedAt
		s.UptimeSeconds = time.Since(m.startedAt).Seconds()
	}
	return s
}
