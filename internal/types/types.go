package types

import (
	"context"

	"github.com/xhad/medbot/internal/models"
)

// Core interfaces shared by the pipelines. Concrete implementations live
// under pkg/ and are wired together in cmd.

type Loader interface {
	Load(ctx context.Context, dir string) ([]models.Document, error)
}

type Splitter interface {
	Split(docs []models.Document) ([]models.Chunk, error)
}

// Embedder maps text to fixed-length vectors. Dimension reports the length
// every returned vector has.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

type VectorIndex interface {
	EnsureIndex(ctx context.Context, spec models.IndexSpec) error
	Upsert(ctx context.Context, entries []models.Entry) error
	Search(ctx context.Context, vector []float32, k int) ([]models.Result, error)
	Close() error
}

type Generator interface {
	Generate(ctx context.Context, systemPrompt, retrieved, query string) (string, error)
}
