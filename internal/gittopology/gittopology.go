// Package gittopology is the git topology service spec.md §1 names as an
// external collaborator: current branch, merge-base, changed files between
// refs, tracked files at a ref, staged/unstaged file lists, branch
// ancestry. Adapted from the teacher's internal/git package (exec.Command
// against the system git binary, one call per operation).
package gittopology

import (
	"os/exec"
	"strings"
)

// Service is the interface the smart indexer and watch manager consume.
type Service interface {
	// CurrentBranch returns the current branch name, or "detached-<hash>"
	// for detached HEAD, or "unknown" if git is unavailable.
	CurrentBranch(projectPath string) string

	// FindAncestorBranch returns "main" or "master" if currentBranch has a
	// merge-base with either, else "".
	FindAncestorBranch(projectPath, currentBranch string) string

	// Branches returns all local and remote branches (current one prefixed
	// with "* ").
	Branches(projectPath string) ([]string, error)

	// MergeBase returns the merge-base commit hash of a and b.
	MergeBase(projectPath, a, b string) (string, error)

	// ChangedFiles returns files that differ between two refs.
	ChangedFiles(projectPath, fromRef, toRef string) ([]string, error)

	// TrackedFiles returns all files tracked by git at ref.
	TrackedFiles(projectPath, ref string) ([]string, error)

	// StagedFiles returns files with staged (index) changes.
	StagedFiles(projectPath string) ([]string, error)

	// UnstagedFiles returns files with unstaged working-tree changes.
	UnstagedFiles(projectPath string) ([]string, error)

	// RemoteURL returns the git remote URL ("origin" preferred), or "".
	RemoteURL(projectPath string) string

	// WorktreeRoot returns the git worktree root, or projectPath if not a
	// git repository.
	WorktreeRoot(projectPath string) string

	// IsGitRepository reports whether projectPath is inside a git worktree.
	IsGitRepository(projectPath string) bool
}

type service struct{}

// New returns the default Service backed by the system git binary.
func New() Service {
	return &service{}
}

func run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (s *service) CurrentBranch(projectPath string) string {
	if out, err := run(projectPath, "branch", "--show-current"); err == nil && out != "" {
		return out
	}
	if out, err := run(projectPath, "rev-parse", "--short", "HEAD"); err == nil && out != "" {
		return "detached-" + out
	}
	return "unknown"
}

func (s *service) FindAncestorBranch(projectPath, currentBranch string) string {
	if out, err := run(projectPath, "merge-base", currentBranch, "main"); err == nil && out != "" {
		return "main"
	}
	if out, err := run(projectPath, "merge-base", currentBranch, "master"); err == nil && out != "" {
		return "master"
	}
	return ""
}

func (s *service) Branches(projectPath string) ([]string, error) {
	out, err := run(projectPath, "branch", "-a")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		b := strings.TrimSpace(line)
		if b != "" {
			branches = append(branches, b)
		}
	}
	return branches, nil
}

func (s *service) MergeBase(projectPath, a, b string) (string, error) {
	return run(projectPath, "merge-base", a, b)
}

func (s *service) ChangedFiles(projectPath, fromRef, toRef string) ([]string, error) {
	out, err := run(projectPath, "diff", "--name-only", fromRef, toRef)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func (s *service) TrackedFiles(projectPath, ref string) ([]string, error) {
	out, err := run(projectPath, "ls-tree", "-r", "--name-only", ref)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func (s *service) StagedFiles(projectPath string) ([]string, error) {
	out, err := run(projectPath, "diff", "--name-only", "--cached")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func (s *service) UnstagedFiles(projectPath string) ([]string, error) {
	out, err := run(projectPath, "diff", "--name-only")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func (s *service) RemoteURL(projectPath string) string {
	if out, err := run(projectPath, "remote", "get-url", "origin"); err == nil {
		return out
	}
	remotesOut, err := run(projectPath, "remote")
	if err != nil {
		return ""
	}
	remotes := splitLines(remotesOut)
	if len(remotes) == 0 {
		return ""
	}
	out, _ := run(projectPath, "remote", "get-url", remotes[0])
	return out
}

func (s *service) WorktreeRoot(projectPath string) string {
	out, err := run(projectPath, "rev-parse", "--show-toplevel")
	if err != nil {
		return projectPath
	}
	return out
}

func (s *service) IsGitRepository(projectPath string) bool {
	_, err := run(projectPath, "rev-parse", "--git-dir")
	return err == nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// FilterToTracked keeps only the entries of files that are present in
// tracked. Preserves spec.md §9's "resume set computed by filtering
// changed_files against tracked_files in the target branch" semantic: a
// branch switch never tries to reindex a file that does not exist in the
// branch being switched to.
func FilterToTracked(files, tracked []string) []string {
	set := make(map[string]bool, len(tracked))
	for _, f := range tracked {
		set[f] = true
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		if set[f] {
			out = append(out, f)
		}
	}
	return out
}
