package daemon

import (
	"net"
	"os"

	"github.com/mvp-joe/codeindexd/internal/errkind"
)

// BindSocket implements spec.md §4.H's bind-as-lock algorithm: binding a
// Unix socket is itself the single-instance lock, so long as a stale
// socket file left behind by a crashed daemon is detected and removed
// rather than mistaken for a live instance.
//
//  1. If socketPath does not exist, proceed straight to bind.
//  2. If it exists, try to connect. Success means another daemon is live:
//     return errkind.SingleInstanceViolation.
//  3. Connection refusal or file-not-found on connect means the socket
//     is stale: unlink it and proceed to bind.
func BindSocket(socketPath string) (net.Listener, error) {
	if _, err := os.Stat(socketPath); err == nil {
		conn, dialErr := net.Dial("unix", socketPath)
		if dialErr == nil {
			conn.Close()
			return nil, errkind.New(errkind.SingleInstanceViolation, "daemon already running at "+socketPath)
		}
		if !IsConnectionError(dialErr) {
			return nil, dialErr
		}
		if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return net.Listen("unix", socketPath)
}
