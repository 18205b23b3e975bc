package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that dials the configured
// transport and keeps the session runtime running until a shutdown signal.
func buildServeCmd() *cobra.Command {
	var (
		configPath  string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Dial the conversational transport and serve metrics/health",
		Long: `Load configuration, construct the transport/manager/façade, and dial the
configured WebSocket endpoint. Reconnection is automatic per the configured
backoff policy. A /metrics and /healthz endpoint are served on metricsAddr.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  convruntime-gateway serve

  # Start with an explicit config file
  convruntime-gateway serve --config /etc/convruntime/gateway.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, metricsAddr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address to serve /metrics and /healthz on")

	return cmd
}

// buildReplayCmd creates the "replay" command that rehydrates a single
// historical conversation without dialing the transport, printing the
// resulting session's top-level shape as a confirmation of success.
func buildReplayCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rehydrate a historical conversation from the REST API",
		Long: `Fetch a conversation record over REST and replay it through the same
dispatch path live traffic uses, reconstructing its in-memory session
entirely from the recorded snapshot. Does not dial the transport.`,
		Example: `  convruntime-gateway replay --conversation conv_123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runReplay(cmd.Context(), configPath, conversationID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id to rehydrate")
	cobra.CheckErr(cmd.MarkFlagRequired("conversation"))

	return cmd
}
