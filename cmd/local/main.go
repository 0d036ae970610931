// Package main provides a local development tool: an in-memory server for
// testing webhooks and one-shot commands for reviews and reply classification.
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

	"github.com/spf13/cobra"

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
)

var debug bool

var rootCmd = &cobra.Command{
	Use:           "louro-local",
	Short:         "Run Louro locally",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve webhooks with in-memory storage",
	Long: `Serve the webhook and management endpoints backed by in-memory stores.

Repositories are tracked from installation webhooks and activated with
POST /repos/{owner}/{repo}/activate. Everything is lost on exit.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, logger, err := loadSettings()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), settings, logger)
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", true, "log at debug level")
	rootCmd.AddCommand(serveCmd, reviewCmd, classifyCmd, migrateCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadSettings reads the environment without requiring a database.
func loadSettings() (*config.Settings, *slog.Logger, error) {
	settings, err := config.LoadSettings(false)
	if err != nil {
		return nil, nil, err
	}
	settings.LogFormat = "text"
	if debug {
		settings.LogLevel = slog.LevelDebug
	}
	return settings, settings.NewLogger(), nil
}

func newClients(settings *config.Settings, logger *slog.Logger) (*github.Client, *anthropic.Client, error) {
	gh, err := github.NewClient(
		github.NewCredentials(settings.AppID, settings.PrivateKey, "", nil, logger),
		github.ClientOptions{MaxConcurrency: settings.GitHubConcurrency},
		logger,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	llm := anthropic.NewClient(anthropic.Options{
		APIKey:               settings.AnthropicAPIKey,
		MaxConcurrency:       settings.AnthropicConcurrency,
		InputTokensPerMinute: settings.InputTokensPerMinute,
		Timeout:              settings.AgentTimeout,
	}, logger)
	return gh, llm, nil
}

func serve(ctx context.Context, settings *config.Settings, logger *slog.Logger) error {
	gh, llm, err := newClients(settings, logger)
	if err != nil {
		return err
	}

	store := storage.NewMemory()
	tasks := dispatch.NewMemoryStore()
	kb := knowledge.NewBase(knowledge.NewMemoryStore(), knowledge.NewHashingEmbedder(), logger)

	assembler := review.NewAssembler(gh, config.NewLoader(gh), kb, store, review.AssemblerOptions{
		TopK:              settings.KnowledgeTopK,
		RecentCorrections: settings.KnowledgeRecent,
		DefaultLanguage:   settings.DefaultLanguage,
	}, logger)
	reviews := review.NewService(assembler, review.NewGenerator(llm, gh, gh, store, settings.ReviewModel, logger), store, logger)
	replies := feedback.NewService(gh, store, kb,
		feedback.NewClassifier(llm, settings.ClassifierModel, logger), llm,
		feedback.Options{BotLogin: settings.BotLogin, ReplyModel: settings.ReviewModel, DefaultLanguage: settings.DefaultLanguage},
		logger)
	onboarding := onboard.NewService(gh, store, kb, llm, settings.ReviewModel, logger)

	d := dispatch.New(tasks, dispatch.Options{Workers: settings.Workers}, logger)
	d.Handle(dispatch.KindReview, reviews.HandleTask)
	d.Handle(dispatch.KindReply, replies.HandleTask)
	d.Handle(dispatch.KindOnboard, onboarding.HandleTask)
	go d.Run(ctx)

	apiKey := settings.APIKey
	if apiKey == "" {
		apiKey = "local"
		logger.Info("API_KEY not set, using \"local\" for the management API")
	}
	srv := api.New(api.Options{
		Gate:            github.NewGate(settings.WebhookSecret),
		Store:           store,
		Dispatcher:      d,
		Runs:            tasks,
		Tokens:          gh,
		APIKey:          apiKey,
		DefaultLanguage: settings.DefaultLanguage,
		Logger:          logger,
	})

	server := &http.Server{Addr: ":" + settings.Port, Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("starting local server", "port", settings.Port)
	logger.Info("webhook endpoint", "url", fmt.Sprintf("http://localhost:%s/webhooks/github", settings.Port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return d.AwaitAll(context.Background())
}
