package cli

import (
	"fmt"

	"github.com/mvp-joe/codeindexd/internal/daemon"
	"github.com/mvp-joe/codeindexd/internal/rpcwire"
	"github.com/spf13/cobra"
)

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the indexing daemon for --project",
	RunE:  runDaemonStop,
}

func init() {
	daemonCmd.AddCommand(daemonStopCmd)
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	sock, err := socketPath()
	if err != nil {
		return err
	}

	client, err := rpcwire.Dial(sock)
	if err != nil {
		if daemon.IsConnectionError(err) {
			fmt.Println("Daemon is not running")
			return nil
		}
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()

	ctx, cancel := rpcContext()
	defer cancel()

	if err := client.Call(ctx, "shutdown", nil, nil, nil); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	fmt.Println("Daemon shutdown requested")
	return nil
}
