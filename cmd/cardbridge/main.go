// Package main provides the CLI entry point for cardbridge, a Slack
// Socket Mode bridge that streams conversational agent replies into
// progressively patched Block Kit cards.
//
// # Basic Usage
//
// Start the bridge:
//
//	cardbridge serve --config cardbridge.yaml
//
// Validate a configuration file without connecting:
//
//	cardbridge check --config cardbridge.yaml
//
// # Environment Variables
//
// Configuration values may reference environment variables with
// ${VAR} syntax; commonly:
//
//   - SLACK_BOT_TOKEN: Slack bot OAuth token
//   - SLACK_APP_TOKEN: Slack app-level token for Socket Mode
//   - ANTHROPIC_API_KEY: Anthropic API key
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/cardbridge/internal/agent"
	"github.com/haasonsaas/cardbridge/internal/backoff"
	"github.com/haasonsaas/cardbridge/internal/bridge"
	"github.com/haasonsaas/cardbridge/internal/cache"
	"github.com/haasonsaas/cardbridge/internal/config"
	"github.com/haasonsaas/cardbridge/internal/history"
	"github.com/haasonsaas/cardbridge/internal/observability"
	"github.com/haasonsaas/cardbridge/internal/realtime"
	"github.com/haasonsaas/cardbridge/internal/tools"
)

// Build metadata, injected via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cardbridge",
		Short: "cardbridge - Slack bridge for streaming agent replies",
		Long: `cardbridge connects a conversational agent runtime to Slack over
Socket Mode, rendering each reply as a single card that is patched in
place while the agent thinks, runs tools, and writes its answer.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildCheckCmd(),
	)
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to Slack and serve agent replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "cardbridge.yaml", "Path to configuration file")
	return cmd
}

func buildCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: configuration ok\n", configPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "cardbridge.yaml", "Path to configuration file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		server := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info(ctx, "metrics server listening", "addr", cfg.Metrics.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(ctx, "metrics server failed", "error", err)
			}
		}()
		defer server.Close()
	}

	registry := tools.NewRegistry()
	registry.Register(&tools.Clock{})

	boundary, err := agent.NewAnthropicRunner(agent.AnthropicConfig{
		APIKey:       cfg.Agent.APIKey,
		BaseURL:      cfg.Agent.BaseURL,
		Tools:        registry,
		DefaultModel: cfg.Agent.Model,
		MaxRetries:   cfg.Agent.MaxRetries,
		RetryDelay:   cfg.Agent.RetryDelay,
	})
	if err != nil {
		return fmt.Errorf("agent runner: %w", err)
	}

	store := history.NewStore(cfg.History.MaxPerChat)
	br := bridge.New(bridge.Options{
		Config:   cfg,
		Boundary: boundary,
		History:  store,
		Logger:   logger,
		Metrics:  metrics,
	})

	supervisor := realtime.NewSupervisor(realtime.SupervisorConfig{
		BotToken:          cfg.Slack.BotToken,
		AppToken:          cfg.Slack.AppToken,
		Dedupe:            cache.NewDedupeCache(cache.DedupeCacheOptions{}),
		History:           store,
		HandlerFactory:    br.Handler,
		RespondInChannels: cfg.Slack.RespondInChannels,
		Logger:            logger,
		Metrics:           metrics,
	})

	logger.Info(ctx, "cardbridge starting", "version", version)

	// Reconnect loop. Each StartConnection owns one connection until it
	// fails or ctx is cancelled; failures back off exponentially and the
	// attempt counter resets after a healthy stretch.
	policy := backoff.BackoffPolicy{
		InitialMs: 1000,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
	attempt := 0
	for {
		started := time.Now()
		err := supervisor.StartConnection(ctx)
		if ctx.Err() != nil {
			logger.Info(ctx, "cardbridge shutting down")
			return nil
		}
		if time.Since(started) > time.Minute {
			attempt = 0
		}
		attempt++
		delay := backoff.ComputeBackoff(policy, attempt)
		logger.Warn(ctx, "connection lost, reconnecting",
			"error", err, "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			logger.Info(ctx, "cardbridge shutting down")
			return nil
		case <-time.After(delay):
		}
	}
}
