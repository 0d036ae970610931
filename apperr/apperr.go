// Package apperr defines the failure taxonomy shared by the review pipeline.
//
// Every error type wraps its cause so callers can match with errors.As and still
// reach the underlying error with errors.Is.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// AuthenticationError reports a rejected webhook signature or unusable app credentials.
type AuthenticationError struct {
	InstallationID int64
	Err            error
}

func (e *AuthenticationError) Error() string {
	if e.InstallationID != 0 {
		return fmt.Sprintf("authentication failed for installation %d: %v", e.InstallationID, e.Err)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// TransientUpstreamError reports a rate limit, timeout or 5xx from GitHub or the model API
// that survived client-level retries.
type TransientUpstreamError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *TransientUpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s unavailable (status %d): %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *TransientUpstreamError) Unwrap() error {
	return e.Err
}

// MappingError reports an agent finding whose anchor is not a line of the diff.
type MappingError struct {
	Path string
	Side string
	Line int
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("no diff position for %s:%s:%d", e.Path, e.Side, e.Line)
}

// ProcessLossError reports a unit of work that was running when its process died.
type ProcessLossError struct {
	TaskID   string
	Kind     string
	DedupKey string
}

func (e *ProcessLossError) Error() string {
	return fmt.Sprintf("%s task %s (%s) lost with its process", e.Kind, e.TaskID, e.DedupKey)
}

// IsTransient reports whether err is worth surfacing as a transient upstream failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var upstream *TransientUpstreamError
	if errors.As(err, &upstream) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsAuthentication reports whether err is an AuthenticationError.
func IsAuthentication(err error) bool {
	var auth *AuthenticationError
	return errors.As(err, &auth)
}
