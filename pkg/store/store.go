package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xhad/medbot/internal/models"
	"github.com/xhad/medbot/internal/types"
)

var (
	// ErrDimensionMismatch is returned when a vector, or an existing
	// collection, does not have the dimension the index was ensured with.
	ErrDimensionMismatch = errors.New("store: vector dimension mismatch")

	// ErrIndexNotReady is returned by Upsert and Search before EnsureIndex.
	ErrIndexNotReady = errors.New("store: index not ensured")
)

const (
	BackendPGVector = "pgvector"
	BackendQdrant   = "qdrant"
	BackendMemory   = "memory"
)

// Config selects and connects a vector index backend.
type Config struct {
	Backend string
	URL     string
	APIKey  string

	// TLS dials an address without a scheme over TLS. URLs with an http
	// or https scheme ignore it.
	TLS bool

	// ValidateDimension makes EnsureIndex compare the dimension of an
	// existing collection with the requested one.
	ValidateDimension bool
}

// New connects the configured backend. The returned index still needs
// EnsureIndex before use.
func New(ctx context.Context, cfg Config) (types.VectorIndex, error) {
	switch cfg.Backend {
	case BackendPGVector, "":
		pg, err := NewPGVector(ctx, cfg.URL, cfg.ValidateDimension)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case BackendQdrant:
		q, err := NewQdrant(cfg.URL, cfg.APIKey, cfg.TLS, cfg.ValidateDimension)
		if err != nil {
			return nil, err
		}
		return q, nil
	case BackendMemory:
		return NewMemory(cfg.ValidateDimension), nil
	default:
		return nil, fmt.Errorf("store: unsupported backend %q", cfg.Backend)
	}
}

// EntryID derives a stable ID from a chunk's source and content so that
// re-ingesting the same corpus maps onto the same entries.
func EntryID(source, content string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"\x00"+content)).String()
}

// NewID returns a random entry ID.
func NewID() string {
	return uuid.NewString()
}

// normalizeSpec validates spec and fills in the default metric.
func normalizeSpec(spec models.IndexSpec) (models.IndexSpec, error) {
	if err := spec.Validate(); err != nil {
		return spec, fmt.Errorf("store: %w", err)
	}
	metric, _ := models.ParseMetric(string(spec.Metric))
	spec.Metric = metric
	return spec, nil
}

func checkDimension(want int, vectors ...[]float32) error {
	for _, v := range vectors {
		if len(v) != want {
			return fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(v), want)
		}
	}
	return nil
}

func checkEntries(want int, entries []models.Entry) error {
	for i, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("store: entry %d has no id", i)
		}
		if err := checkDimension(want, e.Vector); err != nil {
			return fmt.Errorf("entry %s: %w", e.ID, err)
		}
	}
	return nil
}

// sanitizeText drops invalid UTF-8 and NUL bytes, which Postgres text
// columns reject.
func sanitizeText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.ReplaceAll(s, "\x00", "")
}
