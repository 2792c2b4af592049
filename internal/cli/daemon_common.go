package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mvp-joe/codeindexd/internal/daemon"
	"github.com/mvp-joe/codeindexd/internal/rpcwire"
	"github.com/spf13/cobra"
)

// daemonCmd groups the daemon process lifecycle subcommands
// (start/stop/status/logs), mirroring the teacher's "indexer" command
// group but against this project's own daemon and RPC surface.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the per-project indexing daemon",
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

// dialDaemon auto-starts the daemon if needed (EnsureDaemon), then dials
// its socket. Commands that need a running daemon go through this path;
// "daemon stop" and "daemon status" dial the socket directly so they never
// auto-start one, and "daemon logs" does not dial at all.
func dialDaemon(ctx context.Context) (*rpcwire.Client, error) {
	sock, err := socketPath()
	if err != nil {
		return nil, err
	}

	cfg, err := daemon.NewIndexdConfig(sock)
	if err != nil {
		return nil, fmt.Errorf("failed to build daemon start config: %w", err)
	}
	// The re-exec'd process must see the same --project flag this client
	// was invoked with, since it derives its own config/socket path from it.
	cfg.StartCommand = append(cfg.StartCommand, "--project", projectPath)

	if err := daemon.EnsureDaemon(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to ensure daemon is running: %w", err)
	}

	return rpcwire.Dial(sock)
}

// ensureConfigFile writes a default configuration file for projectPath if
// one does not already exist, so a first "daemon start" or auto-start never
// fails just because nobody ran an init step first.
func ensureConfigFile() error {
	dir, err := stateDir()
	if err != nil {
		return err
	}
	for _, name := range []string{"config.yml", "config.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return nil
		}
	}
	return os.WriteFile(filepath.Join(dir, "config.yml"), []byte("# codeindexd configuration; built-in defaults apply to every field left unset.\n"), 0644)
}

const defaultRPCTimeout = 5 * time.Minute

func rpcContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), defaultRPCTimeout)
}
