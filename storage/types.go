package storage

import (
	"errors"
	"time"
)

var (
	// ErrRepoNotFound is returned when a repository is not tracked.
	ErrRepoNotFound = errors.New("repository not found")
	// ErrInvalidTransition is returned when a compare-and-set status change finds
	// the repository in a state other than the expected ones.
	ErrInvalidTransition = errors.New("invalid repository status transition")
)

// Installation represents a GitHub App installation.
type Installation struct {
	InstallationID int64     `json:"installation_id"`
	AccountLogin   string    `json:"account_login"`
	CreatedAt      time.Time `json:"created_at"`
}

// RepoStatus is the activation state of a tracked repository.
type RepoStatus string

const (
	RepoPending    RepoStatus = "pending"
	RepoOnboarding RepoStatus = "onboarding"
	RepoActive     RepoStatus = "active"
	RepoInactive   RepoStatus = "inactive"
)

// Repository is a tracked repository. Repositories are never hard-deleted.
type Repository struct {
	FullName       string     `json:"full_name"`
	InstallationID int64      `json:"installation_id"`
	DefaultBranch  string     `json:"default_branch,omitempty"`
	Status         RepoStatus `json:"status"`
	LastPushSHA    string     `json:"last_push_sha,omitempty"`
	LastPushAt     *time.Time `json:"last_push_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Comment is one posted inline review comment.
type Comment struct {
	RunID     string    `json:"run_id"`
	Path      string    `json:"path"`
	Side      string    `json:"side"`
	Line      int       `json:"line"`
	Label     string    `json:"label"`
	Blocking  bool      `json:"blocking"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
