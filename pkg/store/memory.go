package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/xhad/medbot/internal/models"
)

// Memory is an in-process index using brute-force scoring. Entries are
// kept in insertion order, which is also the tie-break order for Search.
type Memory struct {
	mu       sync.RWMutex
	validate bool
	spec     *models.IndexSpec
	ids      map[string]struct{}
	entries  []models.Entry
}

func NewMemory(validateDimension bool) *Memory {
	return &Memory{validate: validateDimension, ids: make(map[string]struct{})}
}

func (m *Memory) EnsureIndex(_ context.Context, spec models.IndexSpec) error {
	spec, err := normalizeSpec(spec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.spec != nil {
		if m.validate && m.spec.Dimension != spec.Dimension {
			return fmt.Errorf("%w: collection %q has %d, requested %d",
				ErrDimensionMismatch, m.spec.Name, m.spec.Dimension, spec.Dimension)
		}
		return nil
	}
	m.spec = &spec
	return nil
}

// Upsert appends entries whose ID is not present yet. Known IDs are skipped.
func (m *Memory) Upsert(_ context.Context, entries []models.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.spec == nil {
		return ErrIndexNotReady
	}
	if err := checkEntries(m.spec.Dimension, entries); err != nil {
		return err
	}

	for _, e := range entries {
		if _, ok := m.ids[e.ID]; ok {
			continue
		}
		m.ids[e.ID] = struct{}{}
		m.entries = append(m.entries, copyEntry(e))
	}
	return nil
}

func (m *Memory) Search(_ context.Context, vector []float32, k int) ([]models.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.spec == nil {
		return nil, ErrIndexNotReady
	}
	if k < 1 {
		return nil, fmt.Errorf("store: k must be positive, got %d", k)
	}
	if err := checkDimension(m.spec.Dimension, vector); err != nil {
		return nil, err
	}

	score := scorer(m.spec.Metric)
	scores := make([]float32, len(m.entries))
	order := make([]int, len(m.entries))
	for i := range m.entries {
		scores[i] = score(vector, m.entries[i].Vector)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if k > len(order) {
		k = len(order)
	}
	results := make([]models.Result, 0, k)
	for _, i := range order[:k] {
		e := m.entries[i]
		results = append(results, models.Result{
			ID:       e.ID,
			Content:  e.Content,
			Metadata: copyMetadata(e.Metadata),
			Score:    scores[i],
		})
	}
	return results, nil
}

// Len reports how many entries are stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Close() error { return nil }

func scorer(metric models.Metric) func(a, b []float32) float32 {
	switch metric {
	case models.MetricEuclidean:
		return func(a, b []float32) float32 { return -euclidean(a, b) }
	case models.MetricDotProduct:
		return dot
	default:
		return cosine
	}
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// cosine returns 0 when either vector is all zeros.
func cosine(a, b []float32) float32 {
	var ab, aa, bb float64
	for i := range a {
		ab += float64(a[i]) * float64(b[i])
		aa += float64(a[i]) * float64(a[i])
		bb += float64(b[i]) * float64(b[i])
	}
	if aa == 0 || bb == 0 {
		return 0
	}
	return float32(ab / (math.Sqrt(aa) * math.Sqrt(bb)))
}

func euclidean(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

func copyEntry(e models.Entry) models.Entry {
	v := make([]float32, len(e.Vector))
	copy(v, e.Vector)
	e.Vector = v
	e.Metadata = copyMetadata(e.Metadata)
	return e
}

func copyMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
