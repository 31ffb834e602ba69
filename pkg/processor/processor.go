package processor

import (
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/xhad/medbot/internal/models"
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word,
// then raw characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

type Processor struct {
	config   ProcessorConfig
	splitter textsplitter.RecursiveCharacter
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 500
	}
	if config.ChunkSize < 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", config.ChunkOverlap, config.ChunkSize)
	}
	if len(config.Separators) == 0 {
		config.Separators = DefaultSeparators
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(config.ChunkSize),
		textsplitter.WithChunkOverlap(config.ChunkOverlap),
		textsplitter.WithSeparators(config.Separators),
	)

	return &Processor{
		config:   config,
		splitter: splitter,
	}, nil
}

// Split cuts each document into overlapping windows. Every chunk carries a
// copy of its parent's metadata.
func (p *Processor) Split(docs []models.Document) ([]models.Chunk, error) {
	var chunks []models.Chunk

	for i, doc := range docs {
		parts, err := p.splitter.SplitText(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("split document %d (%s): %w", i, doc.Source(), err)
		}
		for _, part := range parts {
			chunks = append(chunks, models.Chunk{
				Content:  part,
				Metadata: copyMetadata(doc.Metadata),
			})
		}
	}

	return chunks, nil
}

// Normalize keeps each document's content verbatim and drops every metadata
// key except source. A missing source stays missing.
func Normalize(docs []models.Document) []models.Document {
	out := make([]models.Document, 0, len(docs))
	for _, doc := range docs {
		meta := map[string]any{}
		if src, ok := doc.Metadata[models.SourceKey]; ok {
			meta[models.SourceKey] = src
		}
		out = append(out, models.Document{Content: doc.Content, Metadata: meta})
	}
	return out
}

// Validate logs documents whose source is absent or not a string. It never
// rejects a document.
func Validate(docs []models.Document, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	invalid := 0
	for i, doc := range docs {
		if doc.Source() == "" {
			invalid++
			logger.Warn("document without source metadata", "index", i, "content_len", len(doc.Content))
		}
	}
	return invalid
}

// FromSchema converts langchaingo documents into models.Document.
func FromSchema(docs []schema.Document) []models.Document {
	out := make([]models.Document, len(docs))
	for i, d := range docs {
		out[i] = models.Document{Content: d.PageContent, Metadata: copyMetadata(d.Metadata)}
	}
	return out
}

func copyMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
