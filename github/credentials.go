package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gh "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/louroai/louro/apperr"
)

const (
	// DefaultBaseURL is the GitHub REST API root.
	DefaultBaseURL = "https://api.github.com/"

	// RefreshMargin is how close to expiry a cached token is replaced.
	RefreshMargin = 5 * time.Minute

	// tokenExchangeTimeout bounds one JWT-for-token exchange.
	tokenExchangeTimeout = 30 * time.Second
)

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// Credentials mints and caches installation access tokens for a GitHub App.
// Concurrent refreshes for one installation collapse into a single exchange.
type Credentials struct {
	apps   *gh.Client
	keyErr error
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	tokens map[int64]cachedToken
	group  singleflight.Group
}

// NewCredentials creates a credential manager for the app. An unusable private key
// does not fail construction; every token request then returns an AuthenticationError.
// An empty baseURL means DefaultBaseURL.
func NewCredentials(appID int64, privateKey []byte, baseURL string, base http.RoundTripper, logger *slog.Logger) *Credentials {
	if base == nil {
		base = http.DefaultTransport
	}
	c := &Credentials{
		logger: logger,
		now:    time.Now,
		tokens: make(map[int64]cachedToken),
	}

	appsTransport, err := ghinstallation.NewAppsTransport(base, appID, privateKey)
	if err != nil {
		c.keyErr = fmt.Errorf("failed to load app private key: %w", err)
		logger.Error("github app credentials unusable", "app_id", appID, "error", err)
		return c
	}

	apps := gh.NewClient(&http.Client{Transport: appsTransport, Timeout: tokenExchangeTimeout})
	if baseURL != "" {
		u, err := parseBaseURL(baseURL)
		if err != nil {
			c.keyErr = err
			return c
		}
		apps.BaseURL = u
	}
	c.apps = apps
	return c
}

// InstallationToken returns a valid access token for the installation, exchanging
// the app JWT for a fresh one when the cached token is missing or near expiry.
func (c *Credentials) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	if c.keyErr != nil {
		return "", &apperr.AuthenticationError{InstallationID: installationID, Err: c.keyErr}
	}

	if token, ok := c.cached(installationID); ok {
		return token, nil
	}

	v, err, shared := c.group.Do(strconv.FormatInt(installationID, 10), func() (any, error) {
		// Another flight may have refreshed the entry while this one waited.
		if token, ok := c.cached(installationID); ok {
			return token, nil
		}
		return c.exchange(ctx, installationID)
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug("installation token refresh shared", "installation_id", installationID)
	}
	return v.(string), nil
}

// Forget drops the cached token of an installation.
func (c *Credentials) Forget(installationID int64) {
	c.mu.Lock()
	delete(c.tokens, installationID)
	c.mu.Unlock()
}

// TokenSource adapts the manager to oauth2 for one installation.
func (c *Credentials) TokenSource(installationID int64) oauth2.TokenSource {
	return &installationTokenSource{creds: c, installationID: installationID}
}

func (c *Credentials) cached(installationID int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.tokens[installationID]
	if !ok || c.now().Add(RefreshMargin).After(entry.expiresAt) {
		return "", false
	}
	return entry.token, true
}

func (c *Credentials) exchange(ctx context.Context, installationID int64) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenExchangeTimeout)
	defer cancel()

	tok, resp, err := c.apps.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound) {
			return "", &apperr.AuthenticationError{InstallationID: installationID, Err: err}
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return "", &apperr.TransientUpstreamError{Service: "github", StatusCode: status, Err: fmt.Errorf("failed to create installation token: %w", err)}
	}

	expiresAt := tok.GetExpiresAt().Time
	if expiresAt.IsZero() {
		expiresAt = c.now().Add(time.Hour)
	}

	c.mu.Lock()
	c.tokens[installationID] = cachedToken{token: tok.GetToken(), expiresAt: expiresAt}
	c.mu.Unlock()

	c.logger.Info("installation token refreshed", "installation_id", installationID, "expires_at", expiresAt)
	return tok.GetToken(), nil
}

type installationTokenSource struct {
	creds          *Credentials
	installationID int64
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), tokenExchangeTimeout)
	defer cancel()
	token, err := s.creds.InstallationToken(ctx, s.installationID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: token, TokenType: "token"}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if raw[len(raw)-1] != '/' {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub base URL %q: %w", raw, err)
	}
	return u, nil
}
