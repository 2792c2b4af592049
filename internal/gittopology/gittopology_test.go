package gittopology

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test.com",
		)
		require.NoError(t, cmd.Run())
	}
	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644))
	run("add", "a.go")
	run("commit", "-m", "initial")
	return dir
}

func TestRealServiceAgainstScratchRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := initRepo(t)
	svc := New()

	require.True(t, svc.IsGitRepository(dir))
	require.Equal(t, "main", svc.CurrentBranch(dir))

	tracked, err := svc.TrackedFiles(dir, "HEAD")
	require.NoError(t, err)
	require.Contains(t, tracked, "a.go")

	require.Equal(t, dir, svc.WorktreeRoot(dir))
}

func TestMockService(t *testing.T) {
	m := NewMock()
	m.Tracked = []string{"a.go", "b.go"}
	m.Changed = []string{"a.go", "c.go"}

	tracked, err := m.TrackedFiles("/x", "HEAD")
	require.NoError(t, err)
	require.Equal(t, FilterToTracked(m.Changed, tracked), []string{"a.go"})
}
