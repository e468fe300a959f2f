package main

import (
	"os"

	"github.com/dyluth/proofbench/cmd/proofbench/commands"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// Errors are printed by the printer package before they reach here.
	os.Exit(commands.ExitCode(commands.Execute()))
}
