package main

import (
	"os"

	"github.com/wonny/heatrank/backend/cmd/heatrank/commands"
)

// main is the entry point for the heatrank CLI
// ⭐ Unified CLI entry point: go run ./cmd/heatrank [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
