package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "openclawd",
	Short: "openclawd - AI gateway daemon",
	Long: `Openclawd is an AI gateway daemon that accepts HTTP connections on a
hand-rolled epoll reactor, parses requests incrementally off raw socket
bytes, and proxies them to upstream AI providers over streaming SSE APIs.

Endpoints:
  GET  /health               liveness and aggregate counters
  POST /hooks/webchat        message in, response out (with session history)
  POST /v1/chat/completions  OpenAI-compatible chat completions
  GET  /metrics              Prometheus exposition (when enabled)`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
