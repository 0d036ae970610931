// Package api is the HTTP surface of the service: the GitHub webhook endpoint
// and the management API for repositories, review runs and organization
// settings.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/louroai/louro/dispatch"
	"github.com/louroai/louro/github"
	"github.com/louroai/louro/storage"
)

// MaxWebhookBody is the largest webhook payload accepted (1 MiB).
const MaxWebhookBody = 1 << 20

// Dispatcher queues background work.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *dispatch.Task) (bool, error)
}

// Runs lists the tasks of a repository.
type Runs interface {
	ListByRepo(ctx context.Context, repo string, limit int) ([]dispatch.Task, error)
}

// TokenCache drops the cached token of an installation.
type TokenCache interface {
	Forget(installationID int64)
}

// Options holds the dependencies of a Server.
type Options struct {
	Gate       *github.Gate
	Store      storage.Storage
	Dispatcher Dispatcher
	Runs       Runs
	Tokens     TokenCache
	// APIKey protects the management API. Empty disables it.
	APIKey          string
	DefaultLanguage string
	Logger          *slog.Logger
}

// Server serves the webhook and management endpoints.
type Server struct {
	gate            *github.Gate
	store           storage.Storage
	dispatcher      Dispatcher
	runs            Runs
	tokens          TokenCache
	apiKey          string
	defaultLanguage string
	logger          *slog.Logger
	now             func() time.Time
}

// New creates a Server.
func New(opts Options) *Server {
	return &Server{
		gate:            opts.Gate,
		store:           opts.Store,
		dispatcher:      opts.Dispatcher,
		runs:            opts.Runs,
		tokens:          opts.Tokens,
		apiKey:          opts.APIKey,
		defaultLanguage: opts.DefaultLanguage,
		logger:          opts.Logger,
		now:             time.Now,
	}
}

// Handler returns the routed handler wrapped with logging and recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /webhooks/github", s.webhook)

	if s.apiKey != "" {
		mux.Handle("GET /repos", s.requireAPIKey(s.listRepos))
		mux.Handle("GET /repos/{owner}/{repo}", s.requireAPIKey(s.getRepo))
		mux.Handle("POST /repos/{owner}/{repo}/activate", s.requireAPIKey(s.activateRepo))
		mux.Handle("POST /repos/{owner}/{repo}/deactivate", s.requireAPIKey(s.deactivateRepo))
		mux.Handle("GET /repos/{owner}/{repo}/runs", s.requireAPIKey(s.listRuns))
		mux.Handle("GET /orgs/{org}/language", s.requireAPIKey(s.getOrgLanguage))
		mux.Handle("PUT /orgs/{org}/language", s.requireAPIKey(s.setOrgLanguage))
	} else {
		s.logger.Warn("API_KEY not set, management API disabled")
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(s.logger, mux)
	wrapped = loggingMiddleware(s.logger, wrapped)
	return wrapped
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// requireAPIKey checks the X-API-Key header in constant time.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.Handler {
	key := []byte(s.apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("X-API-Key"))
		if subtle.ConstantTimeCompare(got, key) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next(w, r)
	})
}

// statusWriter wraps http.ResponseWriter to capture the response status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}

func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.Error("panic recovered", "panic", v, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
}
