// Package main is the entry point for the tunnelctl CLI.
//
// tunnelctl exposes a local web app through the first tunnel provider
// that comes up. It delegates all functionality to the internal/cli
// package, which defines cobra commands.
//
// Build-time variables (version, commit, date) are injected via ldflags
// during the release build. During development, they default to "dev",
// "none", and "unknown" respectively.
package main

import (
	"github.com/shinji-kodama/tunnelctl/internal/cli"
)

// version, commit, and date are set at build time, e.g.
// -ldflags "-X main.version=1.2.0".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	rootCmd := cli.NewRootCommand()
	cli.Execute(rootCmd)
}
