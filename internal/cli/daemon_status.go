package cli

import (
	"encoding/json"
	"fmt"

	"github.com/mvp-joe/codeindexd/internal/daemon"
	"github.com/mvp-joe/codeindexd/internal/rpcwire"
	"github.com/spf13/cobra"
)

var statusJSON bool

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the indexing daemon's status",
	Long: `Show aggregated cache, indexing, and watch status for the
daemon serving --project (spec.md §4.G get_status).`,
	RunE: runDaemonStatus,
}

func init() {
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonStatusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	sock, err := socketPath()
	if err != nil {
		return err
	}

	client, err := rpcwire.Dial(sock)
	if err != nil {
		if daemon.IsConnectionError(err) {
			return printStatus(map[string]any{"running": false})
		}
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()

	ctx, cancel := rpcContext()
	defer cancel()

	var result map[string]any
	if err := client.Call(ctx, "get_status", nil, &result, nil); err != nil {
		return fmt.Errorf("get_status failed: %w", err)
	}
	result["running"] = true
	return printStatus(result)
}

func printStatus(status map[string]any) error {
	if statusJSON {
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	running, _ := status["running"].(bool)
	if !running {
		fmt.Println("Daemon: not running")
		return nil
	}
	fmt.Println("Daemon: running")
	if watch, ok := status["watch"].(map[string]any); ok {
		fmt.Printf("Watch:  %v\n", watch["status"])
	}
	if index, ok := status["index"].(map[string]any); ok {
		fmt.Printf("Index:  running=%v status=%v\n", index["running"], index["status"])
	}
	if cache, ok := status["cache"].(map[string]any); ok {
		fmt.Printf("Cache:  %v\n", cache)
	}
	return nil
}
