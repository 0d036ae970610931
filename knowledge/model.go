package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/XiaoConstantine/dspy-go/pkg/core"
	"github.com/XiaoConstantine/dspy-go/pkg/llms"
)

// ModelConfig selects the model that embeds knowledge text.
type ModelConfig struct {
	// Provider is one of ollama, llamacpp, gemini or hashing.
	Provider string
	Model    string
	Endpoint string
	APIKey   string
}

// embeddingModel is the part of a dspy-go core.LLM used here.
type embeddingModel interface {
	CreateEmbedding(ctx context.Context, input string, opts ...core.EmbeddingOption) (*core.EmbeddingResult, error)
}

// ModelEmbedder embeds text with a dspy-go LLM.
type ModelEmbedder struct {
	llm   embeddingModel
	model string
}

// NewModelEmbedder wraps llm. An empty model leaves the choice to the server.
func NewModelEmbedder(llm embeddingModel, model string) *ModelEmbedder {
	return &ModelEmbedder{llm: llm, model: model}
}

// Embed implements Embedder.
func (e *ModelEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var opts []core.EmbeddingOption
	if e.model != "" {
		opts = append(opts, core.WithModel(e.model))
	}
	result, err := e.llm.CreateEmbedding(ctx, text, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if result == nil || len(result.Vector) == 0 {
		return nil, errors.New("embedding model returned an empty vector")
	}
	return result.Vector, nil
}

// NewEmbedder builds the Embedder named by cfg.Provider.
func NewEmbedder(cfg ModelConfig) (Embedder, error) {
	var (
		llm core.LLM
		err error
	)
	model := cfg.Model
	switch cfg.Provider {
	case "hashing":
		return NewHashingEmbedder(), nil
	case "ollama":
		llm, err = llms.NewOllamaLLM(core.ModelID(cfg.Model), llms.WithBaseURL(cfg.Endpoint))
	case "llamacpp":
		// The model is loaded server-side.
		llm, err = llms.NewLlamacppLLM(cfg.Endpoint)
		model = ""
	case "gemini":
		llm, err = llms.NewGeminiLLM(cfg.APIKey, core.ModelID(cfg.Model))
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s embedding model: %w", cfg.Provider, err)
	}
	return NewModelEmbedder(llm, model), nil
}
