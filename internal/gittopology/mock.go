package gittopology

// MockService is a deterministic Service for tests, mirroring the shape of
// the teacher's MockGitOps: every method result is presettable, with
// sensible zero-value defaults for the common case of "not a git repo".
type MockService struct {
	CurrentBranchFunc    func(projectPath string) string
	AncestorBranch       string
	BranchList           []string
	MergeBaseHash        string
	MergeBaseErr         error
	Changed              []string
	ChangedErr           error
	Tracked              []string
	TrackedErr           error
	Staged               []string
	StagedErr            error
	Unstaged             []string
	UnstagedErr          error
	Remote               string
	Worktree             string
	IsRepo               bool
}

// NewMock returns a MockService defaulting to "not a git repository".
func NewMock() *MockService {
	return &MockService{IsRepo: false}
}

func (m *MockService) CurrentBranch(projectPath string) string {
	if m.CurrentBranchFunc != nil {
		return m.CurrentBranchFunc(projectPath)
	}
	return "main"
}

func (m *MockService) FindAncestorBranch(projectPath, currentBranch string) string {
	return m.AncestorBranch
}

func (m *MockService) Branches(projectPath string) ([]string, error) {
	return m.BranchList, nil
}

func (m *MockService) MergeBase(projectPath, a, b string) (string, error) {
	return m.MergeBaseHash, m.MergeBaseErr
}

func (m *MockService) ChangedFiles(projectPath, fromRef, toRef string) ([]string, error) {
	return m.Changed, m.ChangedErr
}

func (m *MockService) TrackedFiles(projectPath, ref string) ([]string, error) {
	return m.Tracked, m.TrackedErr
}

func (m *MockService) StagedFiles(projectPath string) ([]string, error) {
	return m.Staged, m.StagedErr
}

func (m *MockService) UnstagedFiles(projectPath string) ([]string, error) {
	return m.Unstaged, m.UnstagedErr
}

func (m *MockService) RemoteURL(projectPath string) string {
	return m.Remote
}

func (m *MockService) WorktreeRoot(projectPath string) string {
	if m.Worktree != "" {
		return m.Worktree
	}
	return projectPath
}

func (m *MockService) IsGitRepository(projectPath string) bool {
	return m.IsRepo
}

var _ Service = (*MockService)(nil)
