package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions is the vector size of HashingEmbedder.
const DefaultDimensions = 512

// HashingEmbedder embeds text with signed feature hashing over lower-cased word
// unigrams and bigrams. Identical texts map to identical vectors and texts that
// share most of their vocabulary score close to 1.
type HashingEmbedder struct {
	Dimensions int
}

// NewHashingEmbedder returns an embedder with DefaultDimensions.
func NewHashingEmbedder() *HashingEmbedder {
	return &HashingEmbedder{Dimensions: DefaultDimensions}
}

// Embed implements Embedder. The result is L2-normalized.
func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dims := h.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	vec := make([]float64, dims)

	words := tokenize(text)
	for i, w := range words {
		addFeature(vec, w, 1)
		if i > 0 {
			addFeature(vec, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, dims)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func addFeature(vec []float64, feature string, weight float64) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()
	idx := int(sum % uint64(len(vec)))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// tokenize splits on anything that is not a letter, digit or underscore, so
// identifiers such as snake_case survive as one token.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
