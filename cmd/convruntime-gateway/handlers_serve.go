package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentflow/convruntime/internal/config"
	"github.com/agentflow/convruntime/internal/facade"
	"github.com/agentflow/convruntime/internal/observability"
	"github.com/agentflow/convruntime/internal/restapi"
	"github.com/agentflow/convruntime/internal/tokenauth"
)

// runServe implements the serve command: it loads configuration, wires the
// transport/manager/façade, dials the transport, and blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, configPath, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	metrics := observability.NewMetrics(nil)

	logger.Info(ctx, "starting gateway",
		"version", version, "commit", commit, "config", configPath)

	tokenProvider := buildTokenProvider()
	rest := restapi.NewClient(cfg.Facade.RestBaseURL, cfg.Facade.RestTimeout, bearerHeader(tokenProvider))

	svc := facade.New(cfg.Transport, tokenProvider, rest, logger, metrics, nil)

	svc.Manager().OnUnhandledEnvelope(func(reason string, raw any) {
		logger.Warn(ctx, "unhandled envelope", "reason", reason)
	})

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc.Connect(runCtx)

	httpServer := startMetricsServer(logger, metricsAddr)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "metrics server shutdown error", "error", err)
		}
	}()

	logger.Info(ctx, "gateway started", "base_url", cfg.Transport.BaseURL, "metrics_addr", metricsAddr)

	<-runCtx.Done()
	logger.Info(ctx, "shutting down", "reason", runCtx.Err())
	svc.Disconnect()
	return nil
}

func startMetricsServer(logger *observability.Logger, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "metrics server error", "error", err)
		}
	}()
	return server
}

// buildTokenProvider returns a JWTProvider built from CONVRUNTIME_JWT_SECRET.
// An empty secret is a valid, deliberately-disabled JWTProvider: its
// GetValidToken returns ErrAuthDisabled, which the transport treats as
// "dial with no token query parameter" and bearerHeader as "send no
// Authorization header", rather than a fatal error.
func buildTokenProvider() tokenauth.TokenProvider {
	secret := os.Getenv("CONVRUNTIME_JWT_SECRET")
	subject := os.Getenv("CONVRUNTIME_JWT_SUBJECT")
	if subject == "" {
		subject = "convruntime-gateway"
	}
	return tokenauth.NewJWTProvider(secret, subject, time.Hour, 5*time.Minute)
}

// bearerHeader adapts a TokenProvider into the authHeader func
// restapi.NewClient expects, suppressing ErrAuthDisabled into an absent
// header rather than surfacing it as a request failure.
func bearerHeader(provider tokenauth.TokenProvider) func() string {
	return func() string {
		token, err := provider.GetValidToken(context.Background())
		if err != nil {
			return ""
		}
		return "Bearer " + token
	}
}
