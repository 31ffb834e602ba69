package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	hfembed "github.com/tmc/langchaingo/embeddings/huggingface"
	"github.com/tmc/langchaingo/llms/huggingface"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrDimension is returned when the model produces a vector of unexpected length.
var ErrDimension = errors.New("embedding dimension mismatch")

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider  string // ollama, huggingface or openai
	Model     string
	BaseURL   string // Ollama server URL or OpenAI-compatible base URL
	APIKey    string
	Dimension int
	BatchSize int
}

// Embedder wraps a langchaingo embedder and enforces a fixed dimension.
type Embedder struct {
	Config EmbedderConfig
	Embed  embeddings.Embedder
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}
	if config.Dimension == 0 {
		config.Dimension = 384
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	var (
		emb embeddings.Embedder
		err error
	)
	switch config.Provider {
	case "ollama":
		if config.Model == "" {
			config.Model = "all-minilm"
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		var client *ollama.LLM
		client, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err == nil {
			emb, err = embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
		}
	case "openai":
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithEmbeddingModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		var client *openai.LLM
		client, err = openai.New(opts...)
		if err == nil {
			emb, err = embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
		}
	case "huggingface":
		if config.Model == "" {
			config.Model = "sentence-transformers/all-MiniLM-L6-v2"
		}
		var client *huggingface.LLM
		client, err = huggingface.New(huggingface.WithToken(config.APIKey))
		if err == nil {
			emb, err = hfembed.NewHuggingface(hfembed.WithClient(*client), hfembed.WithModel(config.Model))
		}
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s embedder: %w", config.Provider, err)
	}

	return &Embedder{Config: config, Embed: emb}, nil
}

// NewEmbedder wraps an existing langchaingo embedder.
func NewEmbedder(emb embeddings.Embedder, dimension int) *Embedder {
	return &Embedder{
		Config: EmbedderConfig{Provider: "custom", Dimension: dimension},
		Embed:  emb,
	}
}

func (e *Embedder) Dimension() int {
	return e.Config.Dimension
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.Embed.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if err := e.checkDimension(v); err != nil {
			return nil, fmt.Errorf("embed document %d: %w", i, err)
		}
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.Embed.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := e.checkDimension(vector); err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vector, nil
}

func (e *Embedder) checkDimension(v []float32) error {
	if len(v) != e.Config.Dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(v), e.Config.Dimension)
	}
	return nil
}
