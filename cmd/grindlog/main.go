// ABOUTME: Entry point for the grindlog client CLI
// ABOUTME: Delegates to the cli package command tree

package main

import (
	"fmt"
	"os"

	"github.com/grindlog/grindlog/cmd/grindlog/cli"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
