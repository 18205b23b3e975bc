// Package main provides the CLI entry point for the conversational-agent
// session runtime gateway.
//
// # Basic usage
//
// Start the gateway, dialing the configured transport and serving metrics:
//
//	convruntime-gateway serve --config gateway.yaml
//
// Replay a historical conversation into a fresh in-memory session and print
// a JSON summary (conversation id, exchange count, ended flag), without
// dialing the transport:
//
//	convruntime-gateway replay --config gateway.yaml --conversation conv_123
//
// # Environment variables
//
//   - CONVRUNTIME_CONFIG: path to the YAML config file (default: gateway.yaml)
//   - CONVRUNTIME_JWT_SECRET: HMAC secret for the built-in JWTProvider; when
//     unset, the gateway dials the socket with no token query parameter and
//     sends REST calls with no Authorization header
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "convruntime-gateway",
		Short:         "Conversational-agent session runtime gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
	}
	root.AddCommand(buildServeCmd(), buildReplayCmd())
	return root
}

func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("CONVRUNTIME_CONFIG"); env != "" {
		return env
	}
	return "gateway.yaml"
}
