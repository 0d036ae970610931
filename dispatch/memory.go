package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for local runs and tests. It keeps the same
// dedup rule as the database's partial unique index.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
	order []string
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
}

// Enqueue implements Store.
func (m *MemoryStore) Enqueue(_ context.Context, task *Task) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		if t.Kind == task.Kind && t.DedupKey == task.DedupKey && !t.Status.Terminal() {
			return false, nil
		}
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Status = StatusPending
	if task.CreatedAt.IsZero() {
		task.CreatedAt = m.now()
	}
	stored := *task
	m.tasks[stored.ID] = &stored
	m.order = append(m.order, stored.ID)
	return true, nil
}

// Claim implements Store.
func (m *MemoryStore) Claim(_ context.Context) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		t := m.tasks[id]
		if t.Status != StatusPending {
			continue
		}
		now := m.now()
		t.Status = StatusRunning
		t.StartedAt = &now
		claimed := *t
		return &claimed, nil
	}
	return nil, nil
}

// Finish implements Store.
func (m *MemoryStore) Finish(_ context.Context, id string, status Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	now := m.now()
	t.Status = status
	t.Error = errMsg
	t.FinishedAt = &now
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	copied := *t
	return &copied, nil
}

// ListRunning implements Store.
func (m *MemoryStore) ListRunning(_ context.Context) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var running []Task
	for _, id := range m.order {
		if t := m.tasks[id]; t.Status == StatusRunning {
			running = append(running, *t)
		}
	}
	return running, nil
}

// ListByRepo implements Store.
func (m *MemoryStore) ListByRepo(_ context.Context, repo string, limit int) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tasks []Task
	for i := len(m.order) - 1; i >= 0; i-- {
		if t := m.tasks[m.order[i]]; t.Repo == repo {
			tasks = append(tasks, *t)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}
