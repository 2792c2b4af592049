package watchmgr

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/codeindexd/internal/errkind"
	"github.com/mvp-joe/codeindexd/internal/filewatch"
	"github.com/mvp-joe/codeindexd/internal/gittopology"
)

type fakeIndexer struct {
	indexed    [][]string
	reconciled [][2]string
}

func (f *fakeIndexer) IndexFiles(ctx context.Context, projectPath string, files []string) error {
	f.indexed = append(f.indexed, files)
	return nil
}

func (f *fakeIndexer) ReconcileBranch(ctx context.Context, projectPath, oldBranch, newBranch string) error {
	f.reconciled = append(f.reconciled, [2]string{oldBranch, newBranch})
	return nil
}

func TestStartStopLifecycle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a"), 0o644))

	m := New(gittopology.NewMock())
	idx := &fakeIndexer{}

	require.NoError(t, m.Start(dir, []string{"**/*.go"}, nil, filewatch.Limits{}, idx))
	require.True(t, m.IsRunning())

	err := m.Start(dir, []string{"**/*.go"}, nil, filewatch.Limits{}, idx)
	require.Equal(t, errkind.AlreadyRunning, errkind.KindOf(err))

	require.NoError(t, m.Stop())
	require.False(t, m.IsRunning())

	stats := m.GetStats()
	require.Equal(t, StateStopped, stats.Status)
}

func TestFileChangeDrivesIndexer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a"), 0o644))

	m := New(gittopology.NewMock())
	idx := &fakeIndexer{}
	require.NoError(t, m.Start(dir, []string{"**/*.go"}, nil, filewatch.Limits{}, idx))
	defer m.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("package a"), 0o644))

	require.Eventually(t, func() bool {
		return len(idx.indexed) > 0
	}, 2*time.Second, 20*time.Millisecond)
}
