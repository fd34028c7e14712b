// Package main is the entry point for the opsctl CLI.
// The CLI is the operator terminal tool for interacting with the opscore API.
package main

import (
	"opscore/cmd/cli/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
