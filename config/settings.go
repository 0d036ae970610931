package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Model defaults for the two tiers.
const (
	DefaultReviewModel     = "claude-sonnet-4-5-20250929"
	DefaultClassifierModel = "claude-haiku-4-5-20251001"
)

// Embedding defaults: a local Ollama serving nomic-embed-text.
const (
	DefaultEmbeddingProvider = "ollama"
	DefaultEmbeddingModel    = "nomic-embed-text"
	DefaultEmbeddingEndpoint = "http://localhost:11434"
)

// Settings holds the service configuration read from the environment.
type Settings struct {
	AppID         int64
	PrivateKey    []byte
	WebhookSecret string
	BotLogin      string

	DatabaseURL string

	AnthropicAPIKey       string
	ReviewModel           string
	ClassifierModel       string
	InputTokensPerMinute  int
	AnthropicConcurrency  int
	GitHubConcurrency     int
	AgentTimeout          time.Duration
	Workers               int
	KnowledgeTopK         int
	KnowledgeRecent       int
	EmbeddingProvider     string
	EmbeddingModel        string
	EmbeddingEndpoint     string
	EmbeddingAPIKey       string
	DefaultLanguage       string
	APIKey                string
	Port                  string
	LogFormat             string
	LogLevel              slog.Level
	DeliveryRetention     time.Duration
	DeliveryCleanupPeriod time.Duration
}

// LoadSettings reads Settings from the environment. When requireDB is false,
// DATABASE_URL may be empty (local mode runs on in-memory stores).
func LoadSettings(requireDB bool) (*Settings, error) {
	s := &Settings{
		WebhookSecret:         os.Getenv("GITHUB_WEBHOOK_SECRET"),
		BotLogin:              envOr("BOT_LOGIN", "louro-ai[bot]"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		AnthropicAPIKey:       os.Getenv("ANTHROPIC_API_KEY"),
		ReviewModel:           envOr("REVIEW_MODEL", DefaultReviewModel),
		ClassifierModel:       envOr("CLASSIFIER_MODEL", DefaultClassifierModel),
		EmbeddingProvider:     envOr("EMBEDDING_PROVIDER", DefaultEmbeddingProvider),
		EmbeddingModel:        envOr("EMBEDDING_MODEL", DefaultEmbeddingModel),
		EmbeddingEndpoint:     envOr("EMBEDDING_ENDPOINT", DefaultEmbeddingEndpoint),
		EmbeddingAPIKey:       os.Getenv("EMBEDDING_API_KEY"),
		APIKey:                os.Getenv("API_KEY"),
		Port:                  envOr("PORT", "8080"),
		LogFormat:             envOr("LOG_FORMAT", "json"),
		DeliveryRetention:     24 * time.Hour,
		DeliveryCleanupPeriod: time.Hour,
	}

	var errs []error
	require := func(name, value string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	require("GITHUB_WEBHOOK_SECRET", s.WebhookSecret)
	require("ANTHROPIC_API_KEY", s.AnthropicAPIKey)
	if requireDB {
		require("DATABASE_URL", s.DatabaseURL)
	}

	if raw := os.Getenv("GITHUB_APP_ID"); raw == "" {
		errs = append(errs, errors.New("GITHUB_APP_ID is required"))
	} else if id, err := strconv.ParseInt(raw, 10, 64); err != nil {
		errs = append(errs, fmt.Errorf("invalid GITHUB_APP_ID: %w", err))
	} else {
		s.AppID = id
	}

	key, err := loadPrivateKey()
	if err != nil {
		errs = append(errs, err)
	}
	s.PrivateKey = key

	intVars := []struct {
		name string
		def  int
		dst  *int
	}{
		{"ANTHROPIC_INPUT_TOKENS_PER_MINUTE", 30000, &s.InputTokensPerMinute},
		{"ANTHROPIC_MAX_CONCURRENCY", 4, &s.AnthropicConcurrency},
		{"GITHUB_MAX_CONCURRENCY", 10, &s.GitHubConcurrency},
		{"WORKERS", 4, &s.Workers},
		{"KNOWLEDGE_TOP_K", 5, &s.KnowledgeTopK},
		{"KNOWLEDGE_RECENT_CORRECTIONS", 3, &s.KnowledgeRecent},
	}
	for _, v := range intVars {
		n, err := envInt(v.name, v.def)
		if err != nil {
			errs = append(errs, err)
		}
		*v.dst = n
	}

	timeout, err := envDuration("AGENT_TIMEOUT", 3*time.Minute)
	if err != nil {
		errs = append(errs, err)
	}
	s.AgentTimeout = timeout

	lang, err := CanonicalLanguage(envOr("DEFAULT_LANGUAGE", DefaultLanguage))
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid DEFAULT_LANGUAGE: %w", err))
	}
	s.DefaultLanguage = lang

	switch s.EmbeddingProvider {
	case "ollama", "llamacpp", "hashing":
	case "gemini":
		require("EMBEDDING_API_KEY", s.EmbeddingAPIKey)
	default:
		errs = append(errs, fmt.Errorf("invalid EMBEDDING_PROVIDER %q (must be ollama, llamacpp, gemini or hashing)", s.EmbeddingProvider))
	}

	if err := s.LogLevel.UnmarshalText([]byte(envOr("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL: %w", err))
	}
	switch s.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("invalid LOG_FORMAT %q (must be json or text)", s.LogFormat))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// NewLogger builds the slog logger described by the settings.
func (s *Settings) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: s.LogLevel}
	if s.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func loadPrivateKey() ([]byte, error) {
	if key := os.Getenv("GITHUB_PRIVATE_KEY"); key != "" {
		// Single-line env values carry escaped newlines.
		return []byte(strings.ReplaceAll(key, `\n`, "\n")), nil
	}
	path := os.Getenv("GITHUB_PRIVATE_KEY_PATH")
	if path == "" {
		return nil, errors.New("GITHUB_PRIVATE_KEY or GITHUB_PRIVATE_KEY_PATH is required")
	}
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key from %s: %w", path, err)
	}
	return key, nil
}

func envOr(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) (int, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def, fmt.Errorf("invalid %s: %q (must be a positive integer)", name, raw)
	}
	return n, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
