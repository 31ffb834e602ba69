package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/xhad/medbot/internal/models"
)

// contentKey holds the chunk text in a point payload, next to its metadata.
const contentKey = "content"

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Qdrant stores entries as points of a Qdrant collection over gRPC.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	apiKey      string
	validate    bool

	mu   sync.RWMutex
	spec *models.IndexSpec
}

// NewQdrant dials the gRPC endpoint at rawURL, e.g. "localhost:6334" or
// "https://xyz.cloud.qdrant.io:6334". The scheme decides the transport:
// https dials TLS, http dials plaintext, and a bare host:port uses TLS only
// when useTLS is set.
func NewQdrant(rawURL, apiKey string, useTLS, validateDimension bool) (*Qdrant, error) {
	addr, secure, err := qdrantAddr(rawURL, useTLS)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(transportCredentials(secure)))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}

	q := newQdrantWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), apiKey, validateDimension)
	q.conn = conn
	return q, nil
}

func newQdrantWithClients(points pointsAPI, collections collectionsAPI, apiKey string, validateDimension bool) *Qdrant {
	return &Qdrant{points: points, collections: collections, apiKey: apiKey, validate: validateDimension}
}

func transportCredentials(secure bool) credentials.TransportCredentials {
	if secure {
		return credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return insecure.NewCredentials()
}

func qdrantAddr(rawURL string, useTLS bool) (addr string, secure bool, err error) {
	if rawURL == "" {
		return "", false, errors.New("qdrant: url is required")
	}
	if !strings.Contains(rawURL, "://") {
		return rawURL, useTLS, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false, fmt.Errorf("qdrant: invalid url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("qdrant: url %q has no host", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return "", false, fmt.Errorf("qdrant: unsupported scheme %q", u.Scheme)
	}
	host := u.Host
	if u.Port() == "" {
		host += ":6334"
	}
	return host, u.Scheme == "https", nil
}

func (q *Qdrant) withAuth(ctx context.Context) context.Context {
	if q.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", q.apiKey)
}

func distance(metric models.Metric) pb.Distance {
	switch metric {
	case models.MetricEuclidean:
		return pb.Distance_Euclid
	case models.MetricDotProduct:
		return pb.Distance_Dot
	default:
		return pb.Distance_Cosine
	}
}

func (q *Qdrant) EnsureIndex(ctx context.Context, spec models.IndexSpec) error {
	spec, err := normalizeSpec(spec)
	if err != nil {
		return err
	}
	ctx = q.withAuth(ctx)

	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant: list collections: %w", err)
	}
	exists := false
	for _, c := range list.GetCollections() {
		if c.GetName() == spec.Name {
			exists = true
			break
		}
	}

	if exists {
		if q.validate {
			if err := q.checkCollection(ctx, spec); err != nil {
				return err
			}
		}
	} else {
		_, err = q.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: spec.Name,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(spec.Dimension),
						Distance: distance(spec.Metric),
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("qdrant: create collection %s: %w", spec.Name, err)
		}
	}

	q.mu.Lock()
	q.spec = &spec
	q.mu.Unlock()
	return nil
}

func (q *Qdrant) checkCollection(ctx context.Context, spec models.IndexSpec) error {
	info, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: spec.Name})
	if err != nil {
		return fmt.Errorf("qdrant: get collection %s: %w", spec.Name, err)
	}
	size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if int(size) != spec.Dimension {
		return fmt.Errorf("%w: collection %s has %d, requested %d", ErrDimensionMismatch, spec.Name, size, spec.Dimension)
	}
	return nil
}

func (q *Qdrant) ready() (models.IndexSpec, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.spec == nil {
		return models.IndexSpec{}, ErrIndexNotReady
	}
	return *q.spec, nil
}

// Upsert writes entries as points. An existing point with the same ID is
// overwritten with identical data when IDs are content-derived.
func (q *Qdrant) Upsert(ctx context.Context, entries []models.Entry) error {
	spec, err := q.ready()
	if err != nil {
		return err
	}
	if err := checkEntries(spec.Dimension, entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(entries))
	for i, e := range entries {
		payload := make(map[string]*pb.Value, len(e.Metadata)+1)
		for k, v := range e.Metadata {
			payload[k] = toValue(v)
		}
		payload[contentKey] = toValue(e.Content)

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: e.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: e.Vector},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err = q.points.Upsert(q.withAuth(ctx), &pb.UpsertPoints{
		CollectionName: spec.Name,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points: %w", len(entries), err)
	}
	return nil
}

func (q *Qdrant) Search(ctx context.Context, vector []float32, k int) ([]models.Result, error) {
	spec, err := q.ready()
	if err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, fmt.Errorf("qdrant: k must be positive, got %d", k)
	}
	if err := checkDimension(spec.Dimension, vector); err != nil {
		return nil, err
	}

	resp, err := q.points.Search(q.withAuth(ctx), &pb.SearchPoints{
		CollectionName: spec.Name,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}

	results := make([]models.Result, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		r := models.Result{
			ID:       p.GetId().GetUuid(),
			Score:    p.GetScore(),
			Metadata: make(map[string]any),
		}
		// Euclid scores are distances
		if spec.Metric == models.MetricEuclidean {
			r.Score = -r.Score
		}
		for k, v := range p.GetPayload() {
			if k == contentKey {
				r.Content = v.GetStringValue()
				continue
			}
			r.Metadata[k] = fromValue(v)
		}
		results = append(results, r)
	}
	return results, nil
}

func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

func toValue(v any) *pb.Value {
	switch tv := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func fromValue(v *pb.Value) any {
	switch kv := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kv.StringValue
	case *pb.Value_IntegerValue:
		return kv.IntegerValue
	case *pb.Value_DoubleValue:
		return kv.DoubleValue
	case *pb.Value_BoolValue:
		return kv.BoolValue
	default:
		return nil
	}
}
