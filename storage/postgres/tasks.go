package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/louroai/louro/dispatch"
)

// TaskStore is the durable outbox behind the dispatcher. The partial unique
// index uq_tasks_active_key makes Enqueue an atomic check-and-record.
type TaskStore struct {
	db *sql.DB
}

var _ dispatch.Store = (*TaskStore)(nil)

// Tasks returns the task store sharing this connection pool.
func (p *PostgreSQL) Tasks() *TaskStore {
	return &TaskStore{db: p.db}
}

const taskColumns = `id, kind, dedup_key, repo, payload, status, error, delivery_id, created_at, started_at, finished_at`

func scanTask(row interface{ Scan(...any) error }) (*dispatch.Task, error) {
	var t dispatch.Task
	var kind, status string
	var payload []byte
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(
		&t.ID,
		&kind,
		&t.DedupKey,
		&t.Repo,
		&payload,
		&status,
		&t.Error,
		&t.DeliveryID,
		&t.CreatedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	t.Kind = dispatch.Kind(kind)
	t.Status = dispatch.Status(status)
	t.Payload = payload
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		t.FinishedAt = &finishedAt.Time
	}
	return &t, nil
}

// Enqueue implements dispatch.Store.
func (s *TaskStore) Enqueue(ctx context.Context, task *dispatch.Task) (bool, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	payload := []byte(task.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}

	query := `
		INSERT INTO tasks (id, kind, dedup_key, repo, payload, status, delivery_id, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, NOW())
		ON CONFLICT (kind, dedup_key) WHERE status IN ('pending', 'running') DO NOTHING
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		task.ID, string(task.Kind), task.DedupKey, task.Repo, payload, task.DeliveryID,
	).Scan(&task.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to enqueue task: %w", err)
	}
	task.Status = dispatch.StatusPending
	return true, nil
}

// Claim implements dispatch.Store. SKIP LOCKED lets several processes share the table.
func (s *TaskStore) Claim(ctx context.Context) (*dispatch.Task, error) {
	query := `
		UPDATE tasks SET status = 'running', started_at = NOW()
		WHERE id = (
			SELECT id FROM tasks WHERE status = 'pending'
			ORDER BY created_at LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns
	task, err := scanTask(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	return task, nil
}

// Finish implements dispatch.Store.
func (s *TaskStore) Finish(ctx context.Context, id string, status dispatch.Status, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $2, error = $3, finished_at = NOW() WHERE id = $1`,
		id, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dispatch.ErrTaskNotFound
	}
	return nil
}

// Get implements dispatch.Store.
func (s *TaskStore) Get(ctx context.Context, id string) (*dispatch.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, dispatch.ErrTaskNotFound
	}
	task, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dispatch.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListRunning implements dispatch.Store.
func (s *TaskStore) ListRunning(ctx context.Context) ([]dispatch.Task, error) {
	return s.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = 'running' ORDER BY created_at`)
}

// ListByRepo implements dispatch.Store.
func (s *TaskStore) ListByRepo(ctx context.Context, repo string, limit int) ([]dispatch.Task, error) {
	return s.list(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE repo = $1 ORDER BY created_at DESC LIMIT $2`, repo, limit)
}

func (s *TaskStore) list(ctx context.Context, query string, args ...any) ([]dispatch.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []dispatch.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}
