// Package daemon implements the indexing daemon's process lifecycle:
// bind-as-lock single-instance enforcement and stale-socket cleanup
// (spec.md §4.H), plus client-side auto-start so CLI commands can spawn
// `indexd` on demand rather than requiring the user to start it by hand.
//
// Auto-start has no client-side locking: any number of clients may race
// to spawn a daemon process; the loser(s) fail BindSocket's bind-as-lock
// check and exit, and every client simply waits for the socket to become
// dialable before proceeding.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// EnsureDaemon ensures daemon is running, starting it if needed.
// Safe to call concurrently from multiple clients.
// If multiple clients spawn multiple daemons, daemon-side singleton
// enforcement ensures only one daemon wins. Losing daemons exit gracefully.
// Returns nil if daemon is healthy (already running or successfully started).
//
// Flow:
//  1. Fast path: Check if socket is dialable → return immediately
//  2. Spawn daemon in detached process group
//  3. Wait for socket to become dialable (with timeout)
//
// Note: Multiple clients may spawn multiple daemon processes simultaneously.
// Daemon-side singleton enforcement (BindSocket's socket bind; there is no
// file lock) ensures only one daemon wins. Losing daemons fail the bind and
// exit with status 1.
//
// Example usage:
//
//	cfg, _ := daemon.NewDaemonConfig(
//	    "codeindexd",
//	    "/path/to/.code-indexer/daemon.sock",
//	    []string{execPath, "daemon", "start"},
//	    30 * time.Second,
//	)
//	err := daemon.EnsureDaemon(ctx, cfg)
func EnsureDaemon(ctx context.Context, cfg *DaemonConfig) error {
	// 1. Fast path: check if socket is dialable
	if canDial(cfg.SocketPath) {
		return nil
	}

	// 2. Spawn daemon (detached)
	// Multiple clients may spawn multiple daemons - that's OK
	// Daemon-side bind-as-lock enforcement ensures only one wins
	cmd := exec.Command(cfg.StartCommand[0], cfg.StartCommand[1:]...)
	cmd.SysProcAttr = getSysProcAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// 3. Wait for socket to become dialable
	// If multiple daemons spawned, only one wins BindSocket's bind-as-lock
	// check; the rest exit, and this client just waits for the winner
	return waitForHealthy(ctx, cfg)
}

// NewIndexdConfig builds the DaemonConfig for auto-starting `indexd` (the
// daemon binary) against the current project's socket path, using the
// currently running executable rather than a "codeindexd" looked up on
// PATH so a locally built binary launches itself, not a different
// installed copy.
func NewIndexdConfig(socketPath string) (*DaemonConfig, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	return NewDaemonConfig(
		"codeindexd",
		socketPath,
		[]string{execPath, "daemon", "start"},
		30*time.Second,
	)
}
