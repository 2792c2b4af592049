package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage the daemon's background file-watch job (spec.md §4.F)",
}

var watchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start watching --project for file and branch changes",
	RunE:  runWatchOp("watch_start"),
}

var watchStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the watch job",
	RunE:  runWatchOp("watch_stop"),
}

var watchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the watch job's status",
	RunE:  runWatchOp("watch_status"),
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.AddCommand(watchStartCmd, watchStopCmd, watchStatusCmd)
}

func runWatchOp(op string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rpcContext()
		defer cancel()

		client, err := dialDaemon(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		var result any
		if err := client.Call(ctx, op, map[string]any{"project": projectPath}, &result, nil); err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
}
