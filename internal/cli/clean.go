package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cleanCollection string
	cleanData       bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clear a collection's vectors, or delete it entirely with --data (spec.md §4.G clean/clean_data)",
	RunE:  runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().StringVar(&cleanCollection, "collection", "", "collection to target (default: the project's own collection)")
	cleanCmd.Flags().BoolVar(&cleanData, "data", false, "delete the collection entirely instead of clearing its vectors")
}

func runClean(cmd *cobra.Command, args []string) error {
	ctx, cancel := rpcContext()
	defer cancel()

	client, err := dialDaemon(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	op := "clean"
	if cleanData {
		op = "clean_data"
	}

	params := map[string]any{
		"project":    projectPath,
		"collection": cleanCollection,
	}

	var result map[string]any
	if err := client.Call(ctx, op, params, &result, nil); err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	fmt.Printf("%s: %v\n", op, result["status"])
	return nil
}
