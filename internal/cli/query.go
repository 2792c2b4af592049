package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	queryLimit            int
	queryLanguages        []string
	queryExcludeLanguages []string
	queryPathFilter       []string
	queryExcludePaths     []string
	queryMinScore         float64
	queryAccuracy         string
	queryFTS              bool
	queryHybrid           bool
	queryTemporal         string
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search the indexed project (spec.md §4.G query/query_fts/query_hybrid/query_temporal)",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().IntVar(&queryLimit, "limit", 10, "maximum number of hits")
	queryCmd.Flags().StringSliceVar(&queryLanguages, "languages", nil, "restrict to these languages")
	queryCmd.Flags().StringSliceVar(&queryExcludeLanguages, "exclude-languages", nil, "exclude these languages")
	queryCmd.Flags().StringSliceVar(&queryPathFilter, "path", nil, "restrict to paths matching these globs")
	queryCmd.Flags().StringSliceVar(&queryExcludePaths, "exclude-path", nil, "exclude paths matching these globs")
	queryCmd.Flags().Float64Var(&queryMinScore, "min-score", 0, "minimum similarity score")
	queryCmd.Flags().StringVar(&queryAccuracy, "accuracy", "", "ANN accuracy knob (fast/balanced/high)")
	queryCmd.Flags().BoolVar(&queryFTS, "fts", false, "full-text search instead of semantic search")
	queryCmd.Flags().BoolVar(&queryHybrid, "hybrid", false, "combine semantic and full-text search")
	queryCmd.Flags().StringVar(&queryTemporal, "time-range", "", "query a temporal collection over this time range")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := rpcContext()
	defer cancel()

	client, err := dialDaemon(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	params := map[string]any{
		"project":           projectPath,
		"query_text":        args[0],
		"limit":             queryLimit,
		"languages":         queryLanguages,
		"exclude_languages": queryExcludeLanguages,
		"path_filter":       queryPathFilter,
		"exclude_paths":     queryExcludePaths,
		"min_score":         queryMinScore,
		"accuracy":          queryAccuracy,
	}

	op := "query"
	switch {
	case queryTemporal != "":
		op = "query_temporal"
		params["time_range"] = queryTemporal
	case queryHybrid:
		op = "query_hybrid"
	case queryFTS:
		op = "query_fts"
		params["path_filters"] = queryPathFilter
	}

	var result any
	if err := client.Call(ctx, op, params, &result, nil); err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
