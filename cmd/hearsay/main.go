// Package main is the entry point for the hearsay CLI.
//
// Usage:
//
//	hearsay [flags] <command> [subcommand] [args]
//
// Commands:
//
//	pitch      - Fingerprint the voice in a WAV sample
//	run        - Diarize a recording and resolve speakers offline
//	profiles   - Manage stored voice profiles (list, create, rename, confirm, delete)
//	config     - Configuration management (contexts, services)
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/hearsay-ai/hearsay/cmd/hearsay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
