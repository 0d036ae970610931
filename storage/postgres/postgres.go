// Package postgres provides the PostgreSQL implementation of the storage
// interface, the task outbox and the knowledge index.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/louroai/louro/storage"
)

// PostgreSQL provides storage operations using PostgreSQL.
type PostgreSQL struct {
	db *sql.DB
}

var _ storage.Storage = (*PostgreSQL)(nil)

// New creates a new PostgreSQL storage instance.
func New(db *sql.DB) *PostgreSQL {
	return &PostgreSQL{db: db}
}

// NewFromDSN creates a new PostgreSQL storage instance from a connection string.
func NewFromDSN(ctx context.Context, dsn string) (*PostgreSQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &PostgreSQL{db: db}, nil
}

// DB returns the underlying connection pool.
func (p *PostgreSQL) DB() *sql.DB {
	return p.db
}

// Close closes the database connection.
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}

// SaveInstallation stores an installation, keeping the original creation time.
func (p *PostgreSQL) SaveInstallation(ctx context.Context, install *storage.Installation) error {
	query := `
		INSERT INTO installations (installation_id, account_login, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (installation_id) DO UPDATE SET account_login = EXCLUDED.account_login
	`
	if _, err := p.db.ExecContext(ctx, query, install.InstallationID, install.AccountLogin); err != nil {
		return fmt.Errorf("failed to save installation: %w", err)
	}
	return nil
}

// GetInstallation retrieves an installation by ID.
func (p *PostgreSQL) GetInstallation(ctx context.Context, installationID int64) (*storage.Installation, error) {
	query := `SELECT installation_id, account_login, created_at FROM installations WHERE installation_id = $1`

	var install storage.Installation
	err := p.db.QueryRowContext(ctx, query, installationID).Scan(
		&install.InstallationID,
		&install.AccountLogin,
		&install.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get installation: %w", err)
	}
	return &install, nil
}

// DeleteInstallation removes an installation row.
func (p *PostgreSQL) DeleteInstallation(ctx context.Context, installationID int64) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM installations WHERE installation_id = $1`, installationID); err != nil {
		return fmt.Errorf("failed to delete installation: %w", err)
	}
	return nil
}

// UpsertRepository registers a repository as pending. A repository that was
// removed earlier (inactive) returns to pending; other states are kept.
func (p *PostgreSQL) UpsertRepository(ctx context.Context, repo *storage.Repository) error {
	status := repo.Status
	if status == "" {
		status = storage.RepoPending
	}
	query := `
		INSERT INTO repositories (full_name, installation_id, default_branch, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (full_name) DO UPDATE SET
			installation_id = EXCLUDED.installation_id,
			default_branch = COALESCE(NULLIF(EXCLUDED.default_branch, ''), repositories.default_branch),
			status = CASE WHEN repositories.status = 'inactive' THEN 'pending' ELSE repositories.status END,
			updated_at = NOW()
	`
	if _, err := p.db.ExecContext(ctx, query, repo.FullName, repo.InstallationID, repo.DefaultBranch, string(status)); err != nil {
		return fmt.Errorf("failed to upsert repository: %w", err)
	}
	return nil
}

const repositoryColumns = `full_name, installation_id, default_branch, status, last_push_sha, last_push_at, created_at, updated_at`

func scanRepository(row interface{ Scan(...any) error }) (*storage.Repository, error) {
	var repo storage.Repository
	var status string
	var lastPushAt sql.NullTime
	if err := row.Scan(
		&repo.FullName,
		&repo.InstallationID,
		&repo.DefaultBranch,
		&status,
		&repo.LastPushSHA,
		&lastPushAt,
		&repo.CreatedAt,
		&repo.UpdatedAt,
	); err != nil {
		return nil, err
	}
	repo.Status = storage.RepoStatus(status)
	if lastPushAt.Valid {
		repo.LastPushAt = &lastPushAt.Time
	}
	return &repo, nil
}

// GetRepository retrieves a repository by full name.
func (p *PostgreSQL) GetRepository(ctx context.Context, fullName string) (*storage.Repository, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE full_name = $1`, fullName)
	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// ListRepositories returns every tracked repository ordered by name.
func (p *PostgreSQL) ListRepositories(ctx context.Context) ([]storage.Repository, error) {
	return p.listRepositories(ctx, `SELECT `+repositoryColumns+` FROM repositories ORDER BY full_name`)
}

// ListRepositoriesByInstallation returns the repositories of one installation.
func (p *PostgreSQL) ListRepositoriesByInstallation(ctx context.Context, installationID int64) ([]storage.Repository, error) {
	return p.listRepositories(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE installation_id = $1 ORDER BY full_name`, installationID)
}

func (p *PostgreSQL) listRepositories(ctx context.Context, query string, args ...any) ([]storage.Repository, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []storage.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate repositories: %w", err)
	}
	return repos, nil
}

// TransitionRepository is a compare-and-set on the repository status.
func (p *PostgreSQL) TransitionRepository(ctx context.Context, fullName string, from []storage.RepoStatus, to storage.RepoStatus) error {
	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE repositories SET status = $3, updated_at = NOW() WHERE full_name = $1 AND status = ANY($2)`,
		fullName, pq.Array(expected), string(to))
	if err != nil {
		return fmt.Errorf("failed to transition repository: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	repo, err := p.GetRepository(ctx, fullName)
	if err != nil {
		return err
	}
	if repo == nil {
		return storage.ErrRepoNotFound
	}
	return fmt.Errorf("%w: %s is %s", storage.ErrInvalidTransition, fullName, repo.Status)
}

// SetRepositoryStatus sets the status unconditionally.
func (p *PostgreSQL) SetRepositoryStatus(ctx context.Context, fullName string, status storage.RepoStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE repositories SET status = $2, updated_at = NOW() WHERE full_name = $1`, fullName, string(status))
	if err != nil {
		return fmt.Errorf("failed to set repository status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrRepoNotFound
	}
	return nil
}

// RecordPush stores the latest default-branch push of a repository.
func (p *PostgreSQL) RecordPush(ctx context.Context, fullName, sha string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE repositories SET last_push_sha = $2, last_push_at = $3, updated_at = NOW() WHERE full_name = $1`,
		fullName, sha, at)
	if err != nil {
		return fmt.Errorf("failed to record push: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrRepoNotFound
	}
	return nil
}

// GetOrgLanguage returns the review language of an organization, or "" when unset.
func (p *PostgreSQL) GetOrgLanguage(ctx context.Context, org string) (string, error) {
	var language string
	err := p.db.QueryRowContext(ctx, `SELECT language FROM organizations WHERE login = $1`, org).Scan(&language)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get organization language: %w", err)
	}
	return language, nil
}

// SetOrgLanguage stores the review language of an organization.
func (p *PostgreSQL) SetOrgLanguage(ctx context.Context, org, language string) error {
	query := `
		INSERT INTO organizations (login, language, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (login) DO UPDATE SET language = EXCLUDED.language, updated_at = NOW()
	`
	if _, err := p.db.ExecContext(ctx, query, org, language); err != nil {
		return fmt.Errorf("failed to set organization language: %w", err)
	}
	return nil
}

// MarkDelivery records a webhook delivery id.
func (p *PostgreSQL) MarkDelivery(ctx context.Context, deliveryID, event string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (delivery_id, event) VALUES ($1, $2) ON CONFLICT (delivery_id) DO NOTHING`,
		deliveryID, event)
	if err != nil {
		return false, fmt.Errorf("failed to record delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record delivery: %w", err)
	}
	return n == 1, nil
}

// ForgetDelivery deletes one delivery record.
func (p *PostgreSQL) ForgetDelivery(ctx context.Context, deliveryID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE delivery_id = $1`, deliveryID); err != nil {
		return fmt.Errorf("failed to forget delivery: %w", err)
	}
	return nil
}

// PurgeDeliveries deletes delivery records received before olderThan.
func (p *PostgreSQL) PurgeDeliveries(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE received_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deliveries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SaveComments records posted comments, one row per statement.
func (p *PostgreSQL) SaveComments(ctx context.Context, comments []storage.Comment) error {
	query := `
		INSERT INTO comments (run_id, path, side, line, label, blocking, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	for _, c := range comments {
		if _, err := p.db.ExecContext(ctx, query, c.RunID, c.Path, c.Side, c.Line, c.Label, c.Blocking, c.Body); err != nil {
			return fmt.Errorf("failed to save comment: %w", err)
		}
	}
	return nil
}

// ListComments returns the comments posted by a review run.
func (p *PostgreSQL) ListComments(ctx context.Context, runID string) ([]storage.Comment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT run_id, path, side, line, label, blocking, body, created_at
		FROM comments WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []storage.Comment
	for rows.Next() {
		var c storage.Comment
		if err := rows.Scan(&c.RunID, &c.Path, &c.Side, &c.Line, &c.Label, &c.Blocking, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return comments, nil
}
