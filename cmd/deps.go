package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xhad/medbot/internal/models"
	"github.com/xhad/medbot/internal/types"
	"github.com/xhad/medbot/pkg/config"
	"github.com/xhad/medbot/pkg/llm"
	"github.com/xhad/medbot/pkg/pipeline"
	"github.com/xhad/medbot/pkg/store"
)

// Constructors below are called in a fixed order: embedder, index,
// generator, pipelines. The caller owns closing the index.

func newEmbedder(c *config.Config) (*llm.Embedder, error) {
	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  c.Embedder.Provider,
		Model:     c.Embedder.Model,
		BaseURL:   c.Embedder.BaseURL,
		APIKey:    c.Embedder.APIKey,
		Dimension: c.Embedder.Dimension,
		BatchSize: c.Embedder.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return emb, nil
}

func indexSpec(c *config.Config) (models.IndexSpec, error) {
	metric, err := models.ParseMetric(c.Index.Metric)
	if err != nil {
		return models.IndexSpec{}, err
	}
	return models.IndexSpec{
		Name:      c.Index.Name,
		Dimension: c.Embedder.Dimension,
		Metric:    metric,
	}, nil
}

func openIndex(ctx context.Context, c *config.Config) (types.VectorIndex, error) {
	index, err := store.New(ctx, store.Config{
		Backend:           c.Index.Backend,
		URL:               c.Index.URL,
		APIKey:            c.Index.APIKey,
		TLS:               c.Index.TLS,
		ValidateDimension: c.Index.ValidateDimensionEnabled(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	return index, nil
}

func newGenerator(c *config.Config) (*llm.ChatEngine, error) {
	engine, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:       c.LLM.Provider,
		Model:          c.LLM.Model,
		Temperature:    c.LLM.Temperature,
		MaxTokens:      c.LLM.MaxTokens,
		SystemTemplate: c.LLM.SystemPrompt,
		BaseURL:        c.LLM.BaseURL,
		APIKey:         c.LLM.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}
	return engine, nil
}

// newChain builds the answering chain and ensures its index exists. The
// returned index must be closed by the caller.
func newChain(ctx context.Context, c *config.Config, logger *slog.Logger) (*pipeline.Chain, types.VectorIndex, error) {
	emb, err := newEmbedder(c)
	if err != nil {
		return nil, nil, err
	}

	spec, err := indexSpec(c)
	if err != nil {
		return nil, nil, err
	}
	index, err := openIndex(ctx, c)
	if err != nil {
		return nil, nil, err
	}

	ensureCtx, cancel := context.WithTimeout(ctx, c.Timeouts.Search)
	defer cancel()
	if err := index.EnsureIndex(ensureCtx, spec); err != nil {
		index.Close()
		return nil, nil, fmt.Errorf("failed to ensure index %q: %w", spec.Name, err)
	}

	gen, err := newGenerator(c)
	if err != nil {
		index.Close()
		return nil, nil, err
	}

	chain, err := pipeline.NewChain(emb, index, gen, pipeline.Options{
		K:               c.Retrieval.K,
		SystemPrompt:    c.LLM.SystemPrompt,
		EmbedTimeout:    c.Timeouts.Embed,
		SearchTimeout:   c.Timeouts.Search,
		GenerateTimeout: c.Timeouts.Generate,
	}, logger)
	if err != nil {
		index.Close()
		return nil, nil, err
	}
	return chain, index, nil
}
