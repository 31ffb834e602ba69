package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/medbot/internal/models"
)

// ivfflatLists is the number of inverted lists of the ANN index. Search
// probes all of them, so results are exact.
const ivfflatLists = 100

// PGVector stores entries in a Postgres table with a pgvector column.
type PGVector struct {
	pool     *pgxpool.Pool
	validate bool

	mu    sync.RWMutex
	spec  *models.IndexSpec
	table string
}

func NewPGVector(ctx context.Context, connString string, validateDimension bool) (*PGVector, error) {
	if connString == "" {
		return nil, errors.New("pgvector: connection string is required")
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("pgvector: failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector: failed to reach database: %w", err)
	}
	return &PGVector{pool: pool, validate: validateDimension}, nil
}

func opClass(metric models.Metric) string {
	switch metric {
	case models.MetricEuclidean:
		return "vector_l2_ops"
	case models.MetricDotProduct:
		return "vector_ip_ops"
	default:
		return "vector_cosine_ops"
	}
}

// scoreExpr converts the metric's distance operator into a higher-is-better
// score. distanceExpr is what the ANN index orders by.
func scoreExpr(metric models.Metric) (score, distance string) {
	switch metric {
	case models.MetricEuclidean:
		return "-(embedding <-> $1)", "embedding <-> $1"
	case models.MetricDotProduct:
		// <#> is the negative inner product
		return "-(embedding <#> $1)", "embedding <#> $1"
	default:
		return "1 - (embedding <=> $1)", "embedding <=> $1"
	}
}

func (vs *PGVector) EnsureIndex(ctx context.Context, spec models.IndexSpec) error {
	spec, err := normalizeSpec(spec)
	if err != nil {
		return err
	}
	table := pgx.Identifier{spec.Name}.Sanitize()

	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("pgvector: failed to create vector extension: %w", err)
	}

	existing, err := vs.existingDimension(ctx, table)
	if err != nil {
		return err
	}
	if existing > 0 && vs.validate && existing != spec.Dimension {
		return fmt.Errorf("%w: table %s has %d, requested %d", ErrDimensionMismatch, table, existing, spec.Dimension)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB
		)`, table, spec.Dimension)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("pgvector: failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING ivfflat (embedding %s)
		WITH (lists = %d)`,
		pgx.Identifier{spec.Name + "_embedding_idx"}.Sanitize(), table, opClass(spec.Metric), ivfflatLists)
	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("pgvector: failed to create index: %w", err)
	}

	vs.mu.Lock()
	vs.spec = &spec
	vs.table = table
	vs.mu.Unlock()
	return nil
}

// existingDimension returns the declared dimension of the embedding column,
// or 0 when the table does not exist yet.
func (vs *PGVector) existingDimension(ctx context.Context, table string) (int, error) {
	var typ string
	err := vs.pool.QueryRow(ctx, `
		SELECT format_type(a.atttypid, a.atttypmod)
		FROM pg_attribute a
		WHERE a.attrelid = to_regclass($1)
		  AND a.attname = 'embedding'
		  AND NOT a.attisdropped`, table).Scan(&typ)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("pgvector: failed to inspect table %s: %w", table, err)
	}

	var dim int
	if _, err := fmt.Sscanf(typ, "vector(%d)", &dim); err != nil {
		return 0, fmt.Errorf("pgvector: unexpected embedding column type %q", typ)
	}
	return dim, nil
}

func (vs *PGVector) ready() (models.IndexSpec, string, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	if vs.spec == nil {
		return models.IndexSpec{}, "", ErrIndexNotReady
	}
	return *vs.spec, vs.table, nil
}

// Upsert inserts entries in one transaction. Rows whose ID already exists
// are left untouched.
func (vs *PGVector) Upsert(ctx context.Context, entries []models.Entry) error {
	spec, table, err := vs.ready()
	if err != nil {
		return err
	}
	if err := checkEntries(spec.Dimension, entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgvector: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`, table)

	for _, e := range entries {
		md := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			if s, ok := v.(string); ok {
				v = sanitizeText(s)
			}
			md[k] = v
		}
		if _, err := tx.Exec(ctx, stmt, e.ID, sanitizeText(e.Content), pgvector.NewVector(e.Vector), md); err != nil {
			return fmt.Errorf("pgvector: failed to insert entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgvector: failed to commit transaction: %w", err)
	}
	return nil
}

func (vs *PGVector) Search(ctx context.Context, vector []float32, k int) ([]models.Result, error) {
	spec, table, err := vs.ready()
	if err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, fmt.Errorf("pgvector: k must be positive, got %d", k)
	}
	if err := checkDimension(spec.Dimension, vector); err != nil {
		return nil, err
	}

	score, distance := scoreExpr(spec.Metric)
	query := fmt.Sprintf(`
		SELECT id, content, metadata, %s AS score
		FROM %s
		ORDER BY %s
		LIMIT $2`, score, table, distance)

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgvector: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", ivfflatLists)); err != nil {
		return nil, fmt.Errorf("pgvector: failed to set probes: %w", err)
	}

	rows, err := tx.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector: failed to query entries: %w", err)
	}
	defer rows.Close()

	results := []models.Result{}
	for rows.Next() {
		var (
			r  models.Result
			s  float64
			md map[string]any
		)
		if err := rows.Scan(&r.ID, &r.Content, &md, &s); err != nil {
			return nil, fmt.Errorf("pgvector: failed to scan row: %w", err)
		}
		r.Metadata = md
		if r.Metadata == nil {
			r.Metadata = map[string]any{}
		}
		r.Score = float32(s)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: failed to read rows: %w", err)
	}
	return results, nil
}

func (vs *PGVector) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}
