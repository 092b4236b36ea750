// Package main is the entry point for the shipctl CLI.
// The CLI is the operator terminal tool for the shipsanity controller.
package main

import (
	"os"

	"shipsanity/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
