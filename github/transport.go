package github

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	// MaxServerRetries is how many times a 5xx or 429 response is retried.
	MaxServerRetries = 3

	// maxRetryAfter caps how long a Retry-After header may stall a request.
	maxRetryAfter = 60 * time.Second
)

// retryTransport gates concurrency for the whole GitHub API and retries what the
// API asks to be retried: 401 once after forgetting the installation token, 429
// and secondary limits after Retry-After, 5xx with a quadratic backoff.
type retryTransport struct {
	next           http.RoundTripper
	gate           *semaphore.Weighted
	creds          *Credentials
	installationID int64
	logger         *slog.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if err := t.gate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for github slot: %w", err)
	}
	defer t.gate.Release(1)

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
	}

	reauthenticated := false
	for attempt := 0; ; attempt++ {
		attemptReq := req.Clone(ctx)
		if body != nil {
			attemptReq.Body = io.NopCloser(bytes.NewReader(body))
			attemptReq.ContentLength = int64(len(body))
		}

		resp, err := t.next.RoundTrip(attemptReq)
		if err != nil {
			return nil, err
		}

		var wait time.Duration
		switch {
		case resp.StatusCode == http.StatusUnauthorized && !reauthenticated && t.creds != nil:
			reauthenticated = true
			t.creds.Forget(t.installationID)
			t.logger.Warn("github returned 401, refreshing installation token",
				"installation_id", t.installationID, "path", req.URL.Path)
			drain(resp)
			attempt--
			continue
		case attempt >= MaxServerRetries:
			return resp, nil
		case resp.StatusCode == http.StatusTooManyRequests || isSecondaryLimit(resp):
			wait = retryAfter(resp, attempt)
		case resp.StatusCode >= 500:
			wait = time.Duration((attempt+1)*(attempt+1)) * time.Second
		default:
			return resp, nil
		}

		t.logger.Warn("github request throttled or failed, retrying",
			"status", resp.StatusCode,
			"path", req.URL.Path,
			"attempt", attempt+1,
			"wait", wait,
		)
		drain(resp)
		if err := t.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func isSecondaryLimit(resp *http.Response) bool {
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("Retry-After") != ""
}

func retryAfter(resp *http.Response, attempt int) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d
	}
	return time.Duration((attempt+1)*(attempt+1)) * time.Second
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
