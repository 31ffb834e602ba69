package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/medbot/internal/models"
	"github.com/xhad/medbot/pkg/store"
)

func testSpec(dim int) models.IndexSpec {
	return models.IndexSpec{Name: "medical-chatbot", Dimension: dim, Metric: models.MetricCosine}
}

func entry(id string, vector ...float32) models.Entry {
	return models.Entry{
		ID:       id,
		Vector:   vector,
		Content:  "content " + id,
		Metadata: map[string]any{models.SourceKey: "data/" + id + ".pdf"},
	}
}

func TestMemoryNotReady(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(true)

	err := m.Upsert(ctx, []models.Entry{entry("a", 1, 0)})
	assert.ErrorIs(t, err, store.ErrIndexNotReady)

	_, err = m.Search(ctx, []float32{1, 0}, 3)
	assert.ErrorIs(t, err, store.ErrIndexNotReady)
}

func TestMemoryEnsureIndexIdempotent(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(true)

	require.NoError(t, m.EnsureIndex(ctx, testSpec(2)))
	require.NoError(t, m.Upsert(ctx, []models.Entry{entry("a", 1, 0)}))
	require.NoError(t, m.EnsureIndex(ctx, testSpec(2)))

	results, err := m.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestMemoryEnsureIndexDimensionMismatch(t *testing.T) {
	ctx := context.Background()

	strict := store.NewMemory(true)
	require.NoError(t, strict.EnsureIndex(ctx, testSpec(2)))
	assert.ErrorIs(t, strict.EnsureIndex(ctx, testSpec(3)), store.ErrDimensionMismatch)

	lenient := store.NewMemory(false)
	require.NoError(t, lenient.EnsureIndex(ctx, testSpec(2)))
	assert.NoError(t, lenient.EnsureIndex(ctx, testSpec(3)))
}

func TestMemoryEnsureIndexInvalidSpec(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(true)

	assert.Error(t, m.EnsureIndex(ctx, models.IndexSpec{Dimension: 2}))
	assert.Error(t, m.EnsureIndex(ctx, models.IndexSpec{Name: "x"}))
	assert.Error(t, m.EnsureIndex(ctx, models.IndexSpec{Name: "x", Dimension: 2, Metric: "manhattan"}))
}

func TestMemoryVectorDimension(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(true)
	require.NoError(t, m.EnsureIndex(ctx, testSpec(3)))

	err := m.Upsert(ctx, []models.Entry{entry("a", 1, 0, 0), entry("b", 1, 0)})
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)
	assert.Equal(t, 0, m.Len(), "rejected batch must not be partially written")

	_, err = m.Search(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)
}

func TestMemorySearchOrdering(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(true)
	require.NoError(t, m.EnsureIndex(ctx, testSpec(2)))
	require.NoError(t, m.Upsert(ctx, []models.Entry{
		entry("orthogonal", 0, 1),
		entry("exact", 1, 0),
		entry("close", 0.9, 0.1),
		entry("opposite", -1, 0),
	}))

	results, err := m.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "exact", results[0].ID)
	assert.Equal(t, "close", results[1].ID)
	assert.Equal(t, "orthogonal", results[2].ID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.Equal(t, "data/exact.pdf", results[0].Source())
	assert.Equal(t, "content exact", results[0].Content)

	all, err := m.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMemorySearchMetrics(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		metric models.Metric
		want   string
	}{
		// long is parallel but far away
		{models.MetricCosine, "long"},
		{models.MetricEuclidean, "near"},
		{models.MetricDotProduct, "long"},
	}
	for _, tt := range tests {
		t.Run(string(tt.metric), func(t *testing.T) {
			m := store.NewMemory(true)
			require.NoError(t, m.EnsureIndex(ctx, models.IndexSpec{Name: "n", Dimension: 2, Metric: tt.metric}))
			require.NoError(t, m.Upsert(ctx, []models.Entry{
				entry("long", 10, 0),
				entry("near", 0.8, 0.6),
			}))

			results, err := m.Search(ctx, []float32{1, 0}, 1)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, tt.want, results[0].ID)
		})
	}
}

func TestMemorySearchEmpty(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(true)
	require.NoError(t, m.EnsureIndex(ctx, testSpec(2)))

	results, err := m.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	_, err = m.Search(ctx, []float32{1, 0}, 0)
	assert.Error(t, err)
}

func TestMemoryDedupe(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(true)
	require.NoError(t, m.EnsureIndex(ctx, testSpec(2)))

	id := store.EntryID("data/a.pdf", "Fever is a symptom of infection.")
	assert.Equal(t, id, store.EntryID("data/a.pdf", "Fever is a symptom of infection."))
	assert.NotEqual(t, id, store.EntryID("data/b.pdf", "Fever is a symptom of infection."))
	assert.NotEqual(t, store.NewID(), store.NewID())

	require.NoError(t, m.Upsert(ctx, []models.Entry{entry(id, 1, 0)}))
	require.NoError(t, m.Upsert(ctx, []models.Entry{entry(id, 1, 0)}))
	assert.Equal(t, 1, m.Len())
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := store.New(context.Background(), store.Config{Backend: "pinecone"})
	assert.Error(t, err)

	idx, err := store.New(context.Background(), store.Config{Backend: store.BackendMemory})
	require.NoError(t, err)
	assert.NoError(t, idx.Close())
}
