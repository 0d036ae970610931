// Package storage defines the relational store for installations, repositories,
// organization settings, webhook deliveries and posted comments.
package storage

import (
	"context"
	"time"
)

// Storage defines the interface for storage backends.
// Implementations must be safe for concurrent use by multiple goroutines.
// Lookups of a single record return nil and no error when it does not exist.
type Storage interface {
	// Installation operations
	SaveInstallation(ctx context.Context, install *Installation) error
	GetInstallation(ctx context.Context, installationID int64) (*Installation, error)
	DeleteInstallation(ctx context.Context, installationID int64) error

	// Repository operations
	UpsertRepository(ctx context.Context, repo *Repository) error
	GetRepository(ctx context.Context, fullName string) (*Repository, error)
	ListRepositories(ctx context.Context) ([]Repository, error)
	ListRepositoriesByInstallation(ctx context.Context, installationID int64) ([]Repository, error)
	// TransitionRepository sets the status to `to` only if it is currently one of `from`.
	TransitionRepository(ctx context.Context, fullName string, from []RepoStatus, to RepoStatus) error
	SetRepositoryStatus(ctx context.Context, fullName string, status RepoStatus) error
	RecordPush(ctx context.Context, fullName, sha string, at time.Time) error

	// Organization operations
	GetOrgLanguage(ctx context.Context, org string) (string, error)
	SetOrgLanguage(ctx context.Context, org, language string) error

	// Webhook delivery operations
	// MarkDelivery records a delivery id and returns false when it was already recorded.
	MarkDelivery(ctx context.Context, deliveryID, event string) (bool, error)
	// ForgetDelivery removes a delivery id so a redelivery is processed again.
	ForgetDelivery(ctx context.Context, deliveryID string) error
	PurgeDeliveries(ctx context.Context, olderThan time.Time) (int64, error)

	// Comment operations
	SaveComments(ctx context.Context, comments []Comment) error
	ListComments(ctx context.Context, runID string) ([]Comment, error)
}
