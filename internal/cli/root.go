package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	projectPath string
	verbose     bool
)

// rootCmd is the codeindexd CLI's entry point: "daemon" lifecycle
// subcommands plus the client operations (query, index, watch, clean) that
// talk to a running daemon over its project socket.
var rootCmd = &cobra.Command{
	Use:   "indexd",
	Short: "codeindexd - a per-project code indexing daemon",
	Long: `indexd drives a long-running, per-project code-indexing daemon:
a local-socket RPC server backed by an in-memory semantic+FTS cache,
background indexing and file-watch jobs, and a resumable incremental
indexer.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	wd, _ := os.Getwd()
	rootCmd.PersistentFlags().StringVar(&projectPath, "project", wd, "project root directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// stateDir returns <projectPath>/.code-indexer, creating it if absent.
func stateDir() (string, error) {
	dir := filepath.Join(projectPath, ".code-indexer")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

func socketPath() (string, error) {
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.sock"), nil
}
