package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/xhad/medbot/internal/models"
	"github.com/xhad/medbot/internal/types"
	"github.com/xhad/medbot/pkg/processor"
	"github.com/xhad/medbot/pkg/store"
)

// Ingestion stages reported to OnProgress.
const (
	StageEmbed  = "embed"
	StageUpsert = "upsert"
)

// IngestOptions configures an Ingestor.
type IngestOptions struct {
	Spec models.IndexSpec

	EmbedBatchSize  int
	UpsertBatchSize int

	// RateLimit caps embedding requests per second. Zero disables it.
	RateLimit float64

	// Dedupe derives entry IDs from source and content so reruns do not
	// duplicate entries.
	Dedupe bool

	EmbedTimeout time.Duration

	// OnProgress is called after every batch with the number of chunks
	// done so far in stage.
	OnProgress func(stage string, done, total int)
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	Documents int
	Chunks    int
	Entries   int
	Unsourced int // documents without a source, ingested anyway
	Duration  time.Duration
}

// Ingestor loads a corpus, chunks and embeds it, and writes it to the index.
type Ingestor struct {
	loader   types.Loader
	splitter types.Splitter
	embedder types.Embedder
	index    types.VectorIndex
	opts     IngestOptions
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func NewIngestor(loader types.Loader, splitter types.Splitter, embedder types.Embedder, index types.VectorIndex, opts IngestOptions, logger *slog.Logger) (*Ingestor, error) {
	if splitter == nil || embedder == nil || index == nil {
		return nil, errors.New("pipeline: splitter, embedder and index are required")
	}
	if opts.Spec.Dimension == 0 {
		opts.Spec.Dimension = embedder.Dimension()
	}
	if opts.Spec.Dimension != embedder.Dimension() {
		return nil, fmt.Errorf("pipeline: index dimension %d does not match embedder dimension %d",
			opts.Spec.Dimension, embedder.Dimension())
	}
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = 32
	}
	if opts.UpsertBatchSize <= 0 {
		opts.UpsertBatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	in := &Ingestor{
		loader:   loader,
		splitter: splitter,
		embedder: embedder,
		index:    index,
		opts:     opts,
		logger:   logger,
	}
	if opts.RateLimit > 0 {
		in.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return in, nil
}

// Run ingests every supported file directly under dir.
func (in *Ingestor) Run(ctx context.Context, dir string) (IngestStats, error) {
	if in.loader == nil {
		return IngestStats{}, errors.New("pipeline: no loader configured")
	}
	start := time.Now()

	if err := in.ensureIndex(ctx); err != nil {
		return IngestStats{}, err
	}

	var docs []models.Document
	err := traced(ctx, "ingest.load", func(ctx context.Context) error {
		var err error
		docs, err = in.loader.Load(ctx, dir)
		return err
	})
	if err != nil {
		return IngestStats{}, fmt.Errorf("pipeline: load %s: %w", dir, err)
	}
	in.logger.Info("loaded documents", "dir", dir, "documents", len(docs))

	stats, err := in.process(ctx, docs)
	stats.Duration = time.Since(start)
	return stats, err
}

// RunDocuments ingests documents produced elsewhere, such as by the web
// scraper.
func (in *Ingestor) RunDocuments(ctx context.Context, docs []models.Document) (IngestStats, error) {
	start := time.Now()
	if err := in.ensureIndex(ctx); err != nil {
		return IngestStats{}, err
	}
	stats, err := in.process(ctx, docs)
	stats.Duration = time.Since(start)
	return stats, err
}

func (in *Ingestor) ensureIndex(ctx context.Context) error {
	err := traced(ctx, "ingest.ensure_index", func(ctx context.Context) error {
		return in.index.EnsureIndex(ctx, in.opts.Spec)
	})
	if err != nil {
		return fmt.Errorf("pipeline: ensure index %q: %w", in.opts.Spec.Name, err)
	}
	return nil
}

func (in *Ingestor) process(ctx context.Context, docs []models.Document) (IngestStats, error) {
	stats := IngestStats{Documents: len(docs)}
	stats.Unsourced = processor.Validate(docs, in.logger)
	docs = processor.Normalize(docs)

	var chunks []models.Chunk
	err := traced(ctx, "ingest.split", func(context.Context) error {
		var err error
		chunks, err = in.splitter.Split(docs)
		return err
	})
	if err != nil {
		return stats, fmt.Errorf("pipeline: split: %w", err)
	}
	stats.Chunks = len(chunks)
	in.logger.Info("split documents", "documents", len(docs), "chunks", len(chunks))

	entries, err := in.embed(ctx, chunks)
	if err != nil {
		return stats, err
	}

	if err := in.upsert(ctx, entries); err != nil {
		return stats, err
	}
	stats.Entries = len(entries)
	return stats, nil
}

func (in *Ingestor) embed(ctx context.Context, chunks []models.Chunk) ([]models.Entry, error) {
	ctx, span := tracer.Start(ctx, "ingest.embed")
	defer span.End()
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	entries := make([]models.Entry, 0, len(chunks))
	for startIdx := 0; startIdx < len(chunks); startIdx += in.opts.EmbedBatchSize {
		end := min(startIdx+in.opts.EmbedBatchSize, len(chunks))
		batch := chunks[startIdx:end]

		if in.limiter != nil {
			if err := in.limiter.Wait(ctx); err != nil {
				recordError(span, err)
				return nil, fmt.Errorf("pipeline: embed: %w", err)
			}
		}

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		embedCtx, cancel := withTimeout(ctx, in.opts.EmbedTimeout)
		vectors, err := in.embedder.EmbedDocuments(embedCtx, texts)
		cancel()
		if err != nil {
			recordError(span, err)
			return nil, fmt.Errorf("pipeline: embed chunks %d-%d: %w", startIdx, end-1, err)
		}
		if len(vectors) != len(batch) {
			err := fmt.Errorf("pipeline: embedder returned %d vectors for %d chunks", len(vectors), len(batch))
			recordError(span, err)
			return nil, err
		}

		for i, c := range batch {
			entries = append(entries, models.Entry{
				ID:       in.entryID(c),
				Vector:   vectors[i],
				Content:  c.Content,
				Metadata: c.Metadata,
			})
		}
		in.progress(StageEmbed, end, len(chunks))
	}
	return entries, nil
}

func (in *Ingestor) upsert(ctx context.Context, entries []models.Entry) error {
	ctx, span := tracer.Start(ctx, "ingest.upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("entries", len(entries)))

	for startIdx := 0; startIdx < len(entries); startIdx += in.opts.UpsertBatchSize {
		end := min(startIdx+in.opts.UpsertBatchSize, len(entries))
		if err := in.index.Upsert(ctx, entries[startIdx:end]); err != nil {
			recordError(span, err)
			return fmt.Errorf("pipeline: upsert entries %d-%d: %w", startIdx, end-1, err)
		}
		in.progress(StageUpsert, end, len(entries))
	}
	in.logger.Info("stored entries", "index", in.opts.Spec.Name, "entries", len(entries))
	return nil
}

func (in *Ingestor) entryID(c models.Chunk) string {
	if in.opts.Dedupe {
		return store.EntryID(c.Source(), c.Content)
	}
	return store.NewID()
}

func (in *Ingestor) progress(stage string, done, total int) {
	if in.opts.OnProgress != nil {
		in.opts.OnProgress(stage, done, total)
	}
}
