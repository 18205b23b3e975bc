package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentflow/convruntime/internal/config"
	"github.com/agentflow/convruntime/internal/facade"
	"github.com/agentflow/convruntime/internal/observability"
	"github.com/agentflow/convruntime/internal/restapi"
)

// runReplay implements the replay command: it fetches conversationID over
// REST and rehydrates it into a fresh in-memory session, without dialing
// the transport, then prints a short summary of the reconstructed tree.
func runReplay(ctx context.Context, configPath, conversationID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics(nil)

	tokenProvider := buildTokenProvider()
	rest := restapi.NewClient(cfg.Facade.RestBaseURL, cfg.Facade.RestTimeout, bearerHeader(tokenProvider))

	svc := facade.New(cfg.Transport, tokenProvider, rest, logger, metrics, nil)

	session, err := svc.Rehydrate(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("rehydrate %s: %w", conversationID, err)
	}

	summary := map[string]any{
		"conversation_id": conversationID,
		"exchanges":       len(session.Exchanges()),
		"ended":           session.Ended(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
