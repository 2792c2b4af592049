package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	indexWait                bool
	indexForceFull           bool
	indexReconcile           bool
	indexIncludePatterns     []string
	indexExcludePatterns     []string
	indexBatchSize           int
	indexSafetyBufferSeconds int
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run smart_index against --project (spec.md §4.E, §4.G index/index_blocking)",
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&indexWait, "wait", false, "block until indexing completes, showing progress")
	indexCmd.Flags().BoolVar(&indexForceFull, "force-full", false, "force a full reindex")
	indexCmd.Flags().BoolVar(&indexReconcile, "reconcile", false, "reconcile after a branch switch")
	indexCmd.Flags().StringSliceVar(&indexIncludePatterns, "include", nil, "override include glob patterns")
	indexCmd.Flags().StringSliceVar(&indexExcludePatterns, "exclude", nil, "override exclude glob patterns")
	indexCmd.Flags().IntVar(&indexBatchSize, "batch-size", 0, "embedding batch size (0 = default)")
	indexCmd.Flags().IntVar(&indexSafetyBufferSeconds, "safety-buffer-seconds", 0, "resume safety buffer (0 = default)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := rpcContext()
	defer cancel()

	client, err := dialDaemon(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	params := map[string]any{
		"project":               projectPath,
		"force_full":            indexForceFull,
		"reconcile":             indexReconcile,
		"include_patterns":      indexIncludePatterns,
		"exclude_patterns":      indexExcludePatterns,
		"batch_size":            indexBatchSize,
		"safety_buffer_seconds": indexSafetyBufferSeconds,
	}

	if !indexWait {
		var result map[string]any
		if err := client.Call(ctx, "index", params, &result, nil); err != nil {
			return fmt.Errorf("index failed: %w", err)
		}
		fmt.Printf("Indexing %v\n", result["status"])
		return nil
	}

	progress := newCLIProgress()
	var result any
	err = client.Call(ctx, "index_blocking", params, &result, progress.onProgress)
	progress.finish()
	if err != nil {
		return fmt.Errorf("index_blocking failed: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
