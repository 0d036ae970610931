package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DuplicateThreshold is the cosine similarity at or above which a new entry is
// considered a restatement of an existing one and is not written.
const DuplicateThreshold = 0.92

// ErrEmptyContent is returned when asked to store blank text.
var ErrEmptyContent = errors.New("knowledge content is empty")

// Base embeds and stores repository knowledge and assembles retrieval sets.
type Base struct {
	store    Store
	embedder Embedder
	logger   *slog.Logger
	now      func() time.Time

	locks sync.Map // repo -> *sync.Mutex
}

// NewBase creates a knowledge base over store.
func NewBase(store Store, embedder Embedder, logger *slog.Logger) *Base {
	return &Base{
		store:    store,
		embedder: embedder,
		logger:   logger,
		now:      time.Now,
	}
}

// Upsert stores text for repo unless its nearest existing entry in the same
// repository is at least DuplicateThreshold similar. A skipped write returns the
// existing entry's id with created=false and leaves that entry untouched.
func (b *Base) Upsert(ctx context.Context, repo string, source Source, text string) (id string, created bool, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false, ErrEmptyContent
	}

	vector, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return "", false, fmt.Errorf("failed to embed knowledge: %w", err)
	}

	mu := b.repoLock(repo)
	mu.Lock()
	defer mu.Unlock()

	nearest, err := b.store.Query(ctx, repo, vector, 1)
	if err != nil {
		return "", false, fmt.Errorf("failed to query knowledge: %w", err)
	}
	if len(nearest) > 0 && nearest[0].Score >= DuplicateThreshold {
		b.logger.Info("knowledge entry already known, skipping write",
			"repo", repo,
			"source", source,
			"existing_id", nearest[0].ID,
			"score", nearest[0].Score,
		)
		return nearest[0].ID, false, nil
	}

	id, err = b.store.Insert(ctx, &Entry{
		ID:        uuid.NewString(),
		Repo:      repo,
		Source:    source,
		Content:   text,
		Embedding: vector,
		CreatedAt: b.now(),
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to insert knowledge: %w", err)
	}
	b.logger.Info("knowledge entry stored", "repo", repo, "source", source, "id", id)
	return id, true, nil
}

// Retrieve returns the k entries of repo most similar to text, followed by up to
// recent of the newest corrections that were not already selected.
func (b *Base) Retrieve(ctx context.Context, repo, text string, k, recent int) ([]Entry, error) {
	vector, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	similar, err := b.store.Query(ctx, repo, vector, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge: %w", err)
	}

	var corrections []Entry
	if recent > 0 {
		corrections, err = b.store.Recent(ctx, repo, SourceCorrection, recent)
		if err != nil {
			return nil, fmt.Errorf("failed to load recent corrections: %w", err)
		}
	}

	seen := make(map[string]bool, len(similar)+len(corrections))
	result := make([]Entry, 0, len(similar)+len(corrections))
	for _, s := range similar {
		if !seen[s.ID] {
			seen[s.ID] = true
			result = append(result, s.Entry)
		}
	}
	for _, e := range corrections {
		if !seen[e.ID] {
			seen[e.ID] = true
			result = append(result, e)
		}
	}
	return result, nil
}

func (b *Base) repoLock(repo string) *sync.Mutex {
	v, _ := b.locks.LoadOrStore(repo, &sync.Mutex{})
	return v.(*sync.Mutex)
}
