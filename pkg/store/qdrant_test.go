package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/xhad/medbot/internal/models"
)

type mockPoints struct {
	upserted  *pb.UpsertPoints
	searched  *pb.SearchPoints
	apiKey    []string
	searchRes *pb.SearchResponse
	err       error
}

func (m *mockPoints) Upsert(ctx context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserted = in
	md, _ := metadata.FromOutgoingContext(ctx)
	m.apiKey = md.Get("api-key")
	return &pb.PointsOperationResponse{}, m.err
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searched = in
	if m.err != nil {
		return nil, m.err
	}
	return m.searchRes, nil
}

type mockCollections struct {
	names   []string
	size    uint64
	created *pb.CreateCollection
	listErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	resp := &pb.ListCollectionsResponse{}
	for _, n := range m.names {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (m *mockCollections) Get(_ context.Context, _ *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	return &pb.GetCollectionInfoResponse{
		Result: &pb.CollectionInfo{
			Config: &pb.CollectionConfig{
				Params: &pb.CollectionParams{
					VectorsConfig: &pb.VectorsConfig{
						Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{Size: m.size}},
					},
				},
			},
		},
	}, nil
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	m.names = append(m.names, in.GetCollectionName())
	m.size = in.GetVectorsConfig().GetParams().GetSize()
	return &pb.CollectionOperationResponse{Result: true}, nil
}

var qdrantSpec = models.IndexSpec{Name: "medical-chatbot", Dimension: 3, Metric: models.MetricCosine}

func TestQdrantEnsureIndexCreates(t *testing.T) {
	cols := &mockCollections{}
	q := newQdrantWithClients(&mockPoints{}, cols, "", true)

	require.NoError(t, q.EnsureIndex(context.Background(), qdrantSpec))
	require.NotNil(t, cols.created)
	assert.Equal(t, "medical-chatbot", cols.created.GetCollectionName())
	assert.Equal(t, uint64(3), cols.created.GetVectorsConfig().GetParams().GetSize())
	assert.Equal(t, pb.Distance_Cosine, cols.created.GetVectorsConfig().GetParams().GetDistance())

	// second call finds the collection and leaves it alone
	cols.created = nil
	require.NoError(t, q.EnsureIndex(context.Background(), qdrantSpec))
	assert.Nil(t, cols.created)
}

func TestQdrantEnsureIndexDimensionMismatch(t *testing.T) {
	cols := &mockCollections{names: []string{"medical-chatbot"}, size: 768}

	q := newQdrantWithClients(&mockPoints{}, cols, "", true)
	err := q.EnsureIndex(context.Background(), qdrantSpec)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	q = newQdrantWithClients(&mockPoints{}, cols, "", false)
	assert.NoError(t, q.EnsureIndex(context.Background(), qdrantSpec))
}

func TestQdrantEnsureIndexError(t *testing.T) {
	q := newQdrantWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("unauthenticated")}, "", true)
	err := q.EnsureIndex(context.Background(), qdrantSpec)
	assert.ErrorContains(t, err, "unauthenticated")
}

func TestQdrantUpsert(t *testing.T) {
	points := &mockPoints{}
	q := newQdrantWithClients(points, &mockCollections{}, "secret", true)
	ctx := context.Background()

	assert.ErrorIs(t, q.Upsert(ctx, []models.Entry{{ID: "x", Vector: []float32{1, 2, 3}}}), ErrIndexNotReady)
	require.NoError(t, q.EnsureIndex(ctx, qdrantSpec))

	id := EntryID("data/a.pdf", "Fever")
	err := q.Upsert(ctx, []models.Entry{{
		ID:       id,
		Vector:   []float32{1, 2, 3},
		Content:  "Fever",
		Metadata: map[string]any{models.SourceKey: "data/a.pdf", "page": 2},
	}})
	require.NoError(t, err)

	require.NotNil(t, points.upserted)
	require.Len(t, points.upserted.GetPoints(), 1)
	p := points.upserted.GetPoints()[0]
	assert.Equal(t, id, p.GetId().GetUuid())
	assert.Equal(t, "Fever", p.GetPayload()[contentKey].GetStringValue())
	assert.Equal(t, "data/a.pdf", p.GetPayload()[models.SourceKey].GetStringValue())
	assert.Equal(t, int64(2), p.GetPayload()["page"].GetIntegerValue())
	assert.Equal(t, []string{"secret"}, points.apiKey)

	err = q.Upsert(ctx, []models.Entry{{ID: id, Vector: []float32{1, 2}}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQdrantSearch(t *testing.T) {
	points := &mockPoints{searchRes: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{
			Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "a"}},
			Score: 0.9,
			Payload: map[string]*pb.Value{
				contentKey:       toValue("Fever is a symptom of infection."),
				models.SourceKey: toValue("data/a.pdf"),
			},
		},
		{
			Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "b"}},
			Score: 0.2,
		},
	}}}
	q := newQdrantWithClients(points, &mockCollections{}, "", true)
	ctx := context.Background()
	require.NoError(t, q.EnsureIndex(ctx, qdrantSpec))

	results, err := q.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Fever is a symptom of infection.", results[0].Content)
	assert.Equal(t, "data/a.pdf", results[0].Source())
	assert.InDelta(t, 0.9, results[0].Score, 1e-6)
	assert.Equal(t, uint64(2), points.searched.GetLimit())

	_, err = q.Search(ctx, []float32{1, 0}, 2)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQdrantAddr(t *testing.T) {
	tests := []struct {
		raw    string
		useTLS bool
		addr   string
		secure bool
		err    bool
	}{
		{"localhost:6334", false, "localhost:6334", false, false},
		{"localhost:6334", true, "localhost:6334", true, false},
		{"http://qdrant:6334", false, "qdrant:6334", false, false},
		{"http://qdrant:6334", true, "qdrant:6334", false, false},
		{"https://xyz.cloud.qdrant.io", false, "xyz.cloud.qdrant.io:6334", true, false},
		{"", false, "", false, true},
		{"https://", false, "", false, true},
		{"ftp://qdrant:6334", false, "", false, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s tls=%t", tt.raw, tt.useTLS), func(t *testing.T) {
			addr, secure, err := qdrantAddr(tt.raw, tt.useTLS)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, addr)
			assert.Equal(t, tt.secure, secure)
		})
	}
}

// An API key over http must still dial plaintext. The bare gRPC server
// answers Unimplemented once the connection is up; a TLS dial would fail
// the handshake with Unavailable instead.
func TestQdrantPlaintextWithAPIKey(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(srv.Stop)

	q, err := NewQdrant("http://"+ln.Addr().String(), "secret", true, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = q.EnsureIndex(ctx, qdrantSpec)
	require.Error(t, err)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
