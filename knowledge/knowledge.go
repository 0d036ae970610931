// Package knowledge is the per-repository knowledge index: onboarding facts and
// review corrections stored with an embedding and retrieved by similarity.
package knowledge

import (
	"context"
	"math"
	"time"
)

// Source is where a knowledge entry came from.
type Source string

const (
	SourceOnboarding Source = "onboarding"
	SourceEvolution  Source = "evolution"
	SourceCorrection Source = "correction"
)

// Entry is one unit of repository knowledge. Entries are never mutated.
type Entry struct {
	ID        string    `json:"id"`
	Repo      string    `json:"repo"`
	Source    Source    `json:"source"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Scored is an entry with its similarity to a query vector.
type Scored struct {
	Entry
	Score float64
}

// Store persists entries and answers repository-scoped similarity queries.
type Store interface {
	// Insert stores the entry and returns its id.
	Insert(ctx context.Context, entry *Entry) (string, error)
	// Query returns the k entries of repo most similar to vector, best first.
	Query(ctx context.Context, repo string, vector []float32, k int) ([]Scored, error)
	// Recent returns the n newest entries of repo with the given source, newest first.
	Recent(ctx context.Context, repo string, source Source, n int) ([]Entry, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cosine returns the cosine similarity of two vectors, 0 when either is empty,
// zero or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
