package daemon

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/codeindexd/internal/errkind"
)

func TestBindSocketSucceedsWhenAbsent(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "daemon.sock")
	ln, err := BindSocket(socketPath)
	require.NoError(t, err)
	defer ln.Close()

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestBindSocketRejectsWhenLive(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "daemon.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer ln.Close()

	_, err = BindSocket(socketPath)
	require.Error(t, err)
	require.Equal(t, errkind.SingleInstanceViolation, errkind.KindOf(err))
}

func TestBindSocketUnlinksStaleSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "daemon.sock")
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	require.NoError(t, err)
	ln, err := net.ListenUnix("unix", addr)
	require.NoError(t, err)
	// A crashed daemon leaves its socket file behind; simulate that by
	// closing without the default unlink-on-close behavior.
	ln.SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr, "socket file must still exist to exercise the stale-socket path")

	second, err := BindSocket(socketPath)
	require.NoError(t, err)
	defer second.Close()
}
