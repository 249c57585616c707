// jacquesd is the Jacques daemon: it watches AI coding assistant sessions on
// this host, indexes their transcripts, and serves the live state to TUI and
// GUI clients over WebSocket and HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd builds the CLI. Bare `jacquesd` serves directly; `serve` stays
// as an explicit alias.
func newRootCmd() *cobra.Command {
	root := newServeCmd()
	root.Use = "jacquesd"
	root.Short = "Local observability daemon for AI coding assistant sessions"
	root.SilenceUsage = true
	root.AddCommand(newServeCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
