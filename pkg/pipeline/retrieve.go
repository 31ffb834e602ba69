package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xhad/medbot/internal/models"
	"github.com/xhad/medbot/internal/types"
	"github.com/xhad/medbot/pkg/llm"
)

// ErrEmptyQuery is returned by Answer for a blank question.
var ErrEmptyQuery = errors.New("pipeline: empty query")

// Options configures the answering chain.
type Options struct {
	K            int
	SystemPrompt string

	EmbedTimeout    time.Duration
	SearchTimeout   time.Duration
	GenerateTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		K:               3,
		SystemPrompt:    llm.DefaultSystemPrompt,
		EmbedTimeout:    30 * time.Second,
		SearchTimeout:   10 * time.Second,
		GenerateTimeout: 60 * time.Second,
	}
}

// Answer is the generated reply and the chunks it was grounded on.
type Answer struct {
	Text    string
	Sources []Source
}

// Source is a retrieved chunk backing an answer.
type Source struct {
	ID      string
	Source  string
	Content string
	Score   float32
}

// Chain answers questions by embedding them, retrieving the top K chunks
// and stuffing them into the system prompt.
type Chain struct {
	embedder  types.Embedder
	index     types.VectorIndex
	generator types.Generator
	opts      Options
	logger    *slog.Logger
}

func NewChain(embedder types.Embedder, index types.VectorIndex, generator types.Generator, opts Options, logger *slog.Logger) (*Chain, error) {
	if embedder == nil || index == nil || generator == nil {
		return nil, errors.New("pipeline: embedder, index and generator are required")
	}
	if opts.K < 1 {
		return nil, fmt.Errorf("pipeline: k must be positive, got %d", opts.K)
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = llm.DefaultSystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		embedder:  embedder,
		index:     index,
		generator: generator,
		opts:      opts,
		logger:    logger,
	}, nil
}

// Answer runs embed, search, prompt assembly and generation for query.
// Each step failure aborts the request and names the step.
func (c *Chain) Answer(ctx context.Context, query string) (*Answer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	ctx, span := tracer.Start(ctx, "pipeline.answer")
	defer span.End()
	span.SetAttributes(attribute.Int("query.length", len(query)), attribute.Int("retrieval.k", c.opts.K))

	start := time.Now()

	var vector []float32
	err := traced(ctx, "pipeline.embed", func(ctx context.Context) error {
		ctx, cancel := withTimeout(ctx, c.opts.EmbedTimeout)
		defer cancel()
		var err error
		vector, err = c.embedder.EmbedQuery(ctx, query)
		return err
	})
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("pipeline: embed query: %w", err)
	}

	var results []models.Result
	err = traced(ctx, "pipeline.search", func(ctx context.Context) error {
		ctx, cancel := withTimeout(ctx, c.opts.SearchTimeout)
		defer cancel()
		var err error
		results, err = c.index.Search(ctx, vector, c.opts.K)
		return err
	})
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("pipeline: search: %w", err)
	}
	c.logger.Debug("retrieved chunks", "results", len(results))

	contents := make([]string, len(results))
	sources := make([]Source, len(results))
	for i, r := range results {
		contents[i] = r.Content
		sources[i] = Source{ID: r.ID, Source: r.Source(), Content: r.Content, Score: r.Score}
	}
	retrieved := llm.JoinContext(contents)

	var text string
	err = traced(ctx, "pipeline.generate", func(ctx context.Context) error {
		ctx, cancel := withTimeout(ctx, c.opts.GenerateTimeout)
		defer cancel()
		var err error
		text, err = c.generator.Generate(ctx, c.opts.SystemPrompt, retrieved, query)
		return err
	})
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("pipeline: generate: %w", err)
	}

	c.logger.Info("answered query",
		"query_len", len(query),
		"sources", len(sources),
		"duration", time.Since(start),
	)

	return &Answer{Text: text, Sources: sources}, nil
}
