package knowledge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by the local CLI and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert implements Store.
func (m *MemoryStore) Insert(_ context.Context, entry *Entry) (string, error) {
	e := *entry
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.Embedding = append([]float32(nil), entry.Embedding...)

	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return e.ID, nil
}

// Query implements Store.
func (m *MemoryStore) Query(_ context.Context, repo string, vector []float32, k int) ([]Scored, error) {
	m.mu.RLock()
	var scored []Scored
	for _, e := range m.entries {
		if e.Repo != repo {
			continue
		}
		scored = append(scored, Scored{Entry: e, Score: Cosine(vector, e.Embedding)})
	}
	m.mu.RUnlock()

	return topK(scored, k), nil
}

// Recent implements Store.
func (m *MemoryStore) Recent(_ context.Context, repo string, source Source, n int) ([]Entry, error) {
	m.mu.RLock()
	var matched []Entry
	for _, e := range m.entries {
		if e.Repo == repo && e.Source == source {
			matched = append(matched, e)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if n >= 0 && len(matched) > n {
		matched = matched[:n]
	}
	return matched, nil
}

// All returns every entry of repo in insertion order.
func (m *MemoryStore) All(repo string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Repo == repo {
			out = append(out, e)
		}
	}
	return out
}

// topK orders by score, newer entries first on ties, and keeps k.
func topK(scored []Scored, k int) []Scored {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].CreatedAt.After(scored[j].CreatedAt)
	})
	if k >= 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// TopK ranks candidate entries against vector. Stores that cannot rank in the
// database load the repository's rows and rank them with this.
func TopK(entries []Entry, vector []float32, k int) []Scored {
	scored := make([]Scored, 0, len(entries))
	for _, e := range entries {
		scored = append(scored, Scored{Entry: e, Score: Cosine(vector, e.Embedding)})
	}
	return topK(scored, k)
}
