// Command indexd is the code-indexing daemon's CLI: "indexd daemon start"
// becomes the long-running daemon process itself (spec.md §6), while its
// other subcommands (query, index, watch, clean) are thin RPC clients that
// auto-start the daemon on demand.
package main

import "github.com/mvp-joe/codeindexd/internal/cli"

func main() {
	cli.Execute()
}
