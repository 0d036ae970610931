// Package main provides the HTTP server for self-hosted Louro deployments.
//
// Configuration via environment variables:
//
//	GITHUB_APP_ID          - GitHub App ID (required)
//	GITHUB_WEBHOOK_SECRET  - Webhook signature verification secret (required)
//	GITHUB_PRIVATE_KEY     - GitHub App private key in PEM format (or GITHUB_PRIVATE_KEY_PATH)
//	ANTHROPIC_API_KEY      - Anthropic API key (required)
//	DATABASE_URL           - PostgreSQL connection string (required)
//	API_KEY                - Management API key (management API disabled when empty)
//	PORT                   - HTTP server port (default: 8080)
//	BOT_LOGIN              - Login of the app's bot user (default: louro-ai[bot])
//	REVIEW_MODEL           - Model for reviews, replies and onboarding
//	CLASSIFIER_MODEL       - Model for reply classification and extraction
//	DEFAULT_LANGUAGE       - Review language when neither repo nor org sets one (default: pt-BR)
//	WORKERS                - Background task workers (default: 4)
//	LOG_LEVEL, LOG_FORMAT  - slog level and json|text handler
//
// Usage:
//
//	go run ./cmd/server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/louroai/louro/anthropic"
	"github.com/louroai/louro/api"
	"github.com/louroai/louro/config"
	"github.com/louroai/louro/dispatch"
	"github.com/louroai/louro/feedback"
	"github.com/louroai/louro/github"
	"github.com/louroai/louro/knowledge"
	"github.com/louroai/louro/onboard"
	"github.com/louroai/louro/review"
	"github.com/louroai/louro/storage"
	"github.com/louroai/louro/storage/postgres"
)

func main() {
	settings, err := config.LoadSettings(true)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := settings.NewLogger()

	if err := run(settings, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(settings *config.Settings, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := postgres.NewFromDSN(ctx, settings.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(); err != nil {
		return err
	}

	gh, err := github.NewClient(
		github.NewCredentials(settings.AppID, settings.PrivateKey, "", nil, logger),
		github.ClientOptions{MaxConcurrency: settings.GitHubConcurrency},
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}

	llm := anthropic.NewClient(anthropic.Options{
		APIKey:               settings.AnthropicAPIKey,
		MaxConcurrency:       settings.AnthropicConcurrency,
		InputTokensPerMinute: settings.InputTokensPerMinute,
		Timeout:              settings.AgentTimeout,
	}, logger)
	if err := llm.Validate(ctx, settings.ClassifierModel); err != nil {
		return fmt.Errorf("anthropic key %s rejected: %w", anthropic.KeyHint(settings.AnthropicAPIKey), err)
	}

	embedder, err := knowledge.NewEmbedder(knowledge.ModelConfig{
		Provider: settings.EmbeddingProvider,
		Model:    settings.EmbeddingModel,
		Endpoint: settings.EmbeddingEndpoint,
		APIKey:   settings.EmbeddingAPIKey,
	})
	if err != nil {
		return err
	}
	logger.Info("embedding model ready", "provider", settings.EmbeddingProvider, "model", settings.EmbeddingModel)

	tasks := pg.Tasks()
	d := newDispatcher(settings, logger, pg, tasks, gh, llm, knowledge.NewBase(pg.Knowledge(), embedder, logger))

	lost, err := d.Recover(ctx)
	if err != nil {
		return err
	}
	if len(lost) > 0 {
		logger.Warn("tasks lost with previous process", "count", len(lost))
	}
	go d.Run(ctx)
	go purgeDeliveries(ctx, pg, settings, logger)

	srv := api.New(api.Options{
		Gate:            github.NewGate(settings.WebhookSecret),
		Store:           pg,
		Dispatcher:      d,
		Runs:            tasks,
		Tokens:          gh,
		APIKey:          settings.APIKey,
		DefaultLanguage: settings.DefaultLanguage,
		Logger:          logger,
	})

	server := &http.Server{
		Addr:         ":" + settings.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", settings.Port, "bot", settings.BotLogin)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}

	// Running reviews finish; pending ones are picked up by the next process.
	awaitCtx, cancelAwait := context.WithTimeout(context.Background(), settings.AgentTimeout+time.Minute)
	defer cancelAwait()
	return d.AwaitAll(awaitCtx)
}

// newDispatcher wires the review, reply and onboarding services to a dispatcher.
func newDispatcher(
	settings *config.Settings,
	logger *slog.Logger,
	store storage.Storage,
	tasks dispatch.Store,
	gh *github.Client,
	llm *anthropic.Client,
	kb *knowledge.Base,
) *dispatch.Dispatcher {
	assembler := review.NewAssembler(gh, config.NewLoader(gh), kb, store, review.AssemblerOptions{
		TopK:              settings.KnowledgeTopK,
		RecentCorrections: settings.KnowledgeRecent,
		DefaultLanguage:   settings.DefaultLanguage,
	}, logger)
	generator := review.NewGenerator(llm, gh, gh, store, settings.ReviewModel, logger)
	reviews := review.NewService(assembler, generator, store, logger)

	replies := feedback.NewService(gh, store, kb,
		feedback.NewClassifier(llm, settings.ClassifierModel, logger),
		llm,
		feedback.Options{
			BotLogin:        settings.BotLogin,
			ReplyModel:      settings.ReviewModel,
			DefaultLanguage: settings.DefaultLanguage,
		}, logger)

	onboarding := onboard.NewService(gh, store, kb, llm, settings.ReviewModel, logger)

	d := dispatch.New(tasks, dispatch.Options{Workers: settings.Workers}, logger)
	d.Handle(dispatch.KindReview, reviews.HandleTask)
	d.Handle(dispatch.KindReply, replies.HandleTask)
	d.Handle(dispatch.KindOnboard, onboarding.HandleTask)
	return d
}

// purgeDeliveries drops recorded webhook delivery ids once GitHub can no
// longer redeliver them.
func purgeDeliveries(ctx context.Context, store storage.Storage, settings *config.Settings, logger *slog.Logger) {
	ticker := time.NewTicker(settings.DeliveryCleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeDeliveries(ctx, time.Now().Add(-settings.DeliveryRetention))
			if err != nil {
				logger.Error("failed to purge deliveries", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged deliveries", "count", n)
			}
		}
	}
}
