// Package main is the entry point for the vshadow CLI.
//
// Usage:
//
//	vshadow serve -c vshadow.yaml          # Run the shadow server
//	vshadow validate -c vshadow.yaml       # Validate configuration
//	vshadow get Vehicle.Speed              # Read signals from a running server
//	vshadow set Vehicle.Speed 42 --token T # Write a signal
//	vshadow watch Vehicle.Speed            # Stream updates
//	vshadow version                        # Show version info
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "vshadow",
	Short: "A vehicle signal shadow store",
	Long: `vshadow keeps the latest state of every vehicle signal in memory and
serves it to clients over TCP and WebSocket.

Clients read and write signals, lock them for exclusive writes, and
subscribe to live updates. A JSON API with Server-Sent Events, a
Prometheus endpoint, and an optional MCP server run alongside.

Quick start:
  1. Run: vshadow serve
  2. In another shell: vshadow watch Vehicle.Speed
  3. And another: vshadow set Vehicle.Speed 42`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}
