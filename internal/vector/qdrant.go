package vector

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/embedding"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const payloadContent = "pageContent"

// pointNamespace derives stable point ids from mail ids, so upserting the
// same mail twice overwrites one point.
var pointNamespace = uuid.MustParse("6f1c3a52-8d0e-4f55-9b7e-2a4c1d9e7b30")

// QdrantStore keeps one Qdrant collection per tenant.
type QdrantStore struct {
	conn        *grpc.ClientConn
	collections qdrant.CollectionsClient
	points      qdrant.PointsClient
	embedder    embedding.Embedder
	router      *TableRouter
	group       singleflight.Group
	ready       sync.Map
	logger      *zap.Logger
}

// QdrantOption configures a QdrantStore.
type QdrantOption func(*QdrantStore)

// WithQdrantLogger sets the logger.
func WithQdrantLogger(logger *zap.Logger) QdrantOption {
	return func(s *QdrantStore) {
		s.logger = logger
	}
}

// NewQdrantStore connects to the Qdrant gRPC endpoint at addr and checks it answers.
func NewQdrantStore(ctx context.Context, addr string, embedder embedding.Embedder, opts ...QdrantOption) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, unavailable("connect", err)
	}
	s := &QdrantStore{
		conn:        conn,
		collections: qdrant.NewCollectionsClient(conn),
		points:      qdrant.NewPointsClient(conn),
		embedder:    embedder,
		router:      NewTableRouter(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.collections.List(ctx, &qdrant.ListCollectionsRequest{}); err != nil {
		conn.Close()
		return nil, unavailable("list collections", err)
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, tenant string) (string, error) {
	name, err := s.router.Table(tenant)
	if err != nil {
		return "", err
	}
	if _, ok := s.ready.Load(name); ok {
		return name, nil
	}
	_, err, _ = s.group.Do(name, func() (any, error) {
		if _, ok := s.ready.Load(name); ok {
			return nil, nil
		}
		if err := s.createCollection(ctx, name); err != nil {
			return nil, err
		}
		s.ready.Store(name, struct{}{})
		s.logger.Info("vector collection ready", zap.String("collection", name))
		return nil, nil
	})
	return name, err
}

func (s *QdrantStore) createCollection(ctx context.Context, name string) error {
	resp, err := s.collections.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return unavailable("list collections", err)
	}
	for _, c := range resp.GetCollections() {
		if c.GetName() == name {
			return nil
		}
	}
	_, err = s.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(s.embedder.Dimensions()),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil && !alreadyExists(err) {
		return unavailable("create collection", err)
	}
	wait := true
	_, err = s.points.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		Wait:           &wait,
		FieldName:      MetaID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil && !alreadyExists(err) {
		return unavailable("create id index", err)
	}
	return nil
}

func alreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists || strings.Contains(err.Error(), "already exists")
}

// AddDocuments embeds docs and upserts one point per document.
func (s *QdrantStore) AddDocuments(ctx context.Context, tenant string, docs []Document) error {
	name, err := s.ensureCollection(ctx, tenant)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	prepared := make([]Document, len(docs))
	texts := make([]string, len(docs))
	for i, d := range docs {
		if prepared[i], err = prepare(d); err != nil {
			return err
		}
		texts[i] = prepared[i].PageContent
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}

	points := make([]*qdrant.PointStruct, len(prepared))
	for i, d := range prepared {
		payload := toPayload(d.Metadata)
		payload[payloadContent] = toValue(d.PageContent)
		points[i] = &qdrant.PointStruct{
			Id:      pointID(d.ID),
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: vectors[i]}}},
			Payload: payload,
		}
	}
	wait := true
	if _, err := s.points.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: name, Wait: &wait, Points: points}); err != nil {
		return unavailable("upsert", err)
	}
	return nil
}

// Query searches around the focus point's stored vector.
func (s *QdrantStore) Query(ctx context.Context, tenant, focusID string, k int, filter map[string]any) ([]Match, error) {
	name, err := s.ensureCollection(ctx, tenant)
	if err != nil {
		return nil, err
	}
	resp, err := s.points.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            []*qdrant.PointId{pointID(focusID)},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, unavailable("get focus", err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, nil
	}
	focus := resp.GetResult()[0].GetVectors().GetVector().GetData()
	matches, err := s.search(ctx, name, focus, k+1, filter, focusID)
	if err != nil {
		return nil, err
	}
	return guard(focusID, k, matches), nil
}

// QueryVector searches around vector.
func (s *QdrantStore) QueryVector(ctx context.Context, tenant string, vector []float32, k int, filter map[string]any) ([]Match, error) {
	name, err := s.ensureCollection(ctx, tenant)
	if err != nil {
		return nil, err
	}
	matches, err := s.search(ctx, name, vector, k, filter, "")
	if err != nil {
		return nil, err
	}
	return guard("", k, matches), nil
}

func (s *QdrantStore) search(ctx context.Context, name string, vector []float32, limit int, filter map[string]any, exclude string) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}
	f, err := toFilter(filter)
	if err != nil {
		return nil, err
	}
	if exclude != "" {
		f.MustNot = append(f.MustNot, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_HasId{HasId: &qdrant.HasIdCondition{HasId: []*qdrant.PointId{pointID(exclude)}}},
		})
	}
	resp, err := s.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: name,
		Vector:         vector,
		Filter:         f,
		Limit:          uint64(limit),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, unavailable("search", err)
	}
	out := make([]Match, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		out = append(out, Match{Document: fromPayload(p.GetPayload()), Distance: 1 - float64(p.GetScore())})
	}
	return out, nil
}

// UpdateMetadata sets the patch keys on the point's payload.
func (s *QdrantStore) UpdateMetadata(ctx context.Context, tenant, id string, patch map[string]any) error {
	name, err := s.ensureCollection(ctx, tenant)
	if err != nil {
		return err
	}
	if _, err := s.Get(ctx, tenant, id); err != nil {
		return err
	}
	payload := toPayload(patch)
	delete(payload, MetaID)
	delete(payload, payloadContent)
	wait := true
	_, err = s.points.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: name,
		Wait:           &wait,
		Payload:        payload,
		PointsSelector: selectPoint(id),
	})
	if err != nil {
		return unavailable("set payload", err)
	}
	return nil
}

// DeleteByID removes the point for id.
func (s *QdrantStore) DeleteByID(ctx context.Context, tenant, id string) error {
	name, err := s.ensureCollection(ctx, tenant)
	if err != nil {
		return err
	}
	wait := true
	if _, err := s.points.Delete(ctx, &qdrant.DeletePoints{CollectionName: name, Wait: &wait, Points: selectPoint(id)}); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Get reads the point for id.
func (s *QdrantStore) Get(ctx context.Context, tenant, id string) (*Document, error) {
	name, err := s.ensureCollection(ctx, tenant)
	if err != nil {
		return nil, err
	}
	resp, err := s.points.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, unavailable("get", err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	doc := fromPayload(resp.GetResult()[0].GetPayload())
	return &doc, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func pointID(id string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: uuid.NewSHA1(pointNamespace, []byte(id)).String()}}
}

func selectPoint(id string) *qdrant.PointsSelector {
	return &qdrant.PointsSelector{
		PointsSelectorOneOf: &qdrant.PointsSelector_Points{Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{pointID(id)}}},
	}
}

// toFilter turns a flat metadata filter into must-match conditions. Qdrant
// matches keywords, integers and booleans; other values cannot be filtered.
func toFilter(filter map[string]any) (*qdrant.Filter, error) {
	f := &qdrant.Filter{}
	for key, v := range filter {
		var match *qdrant.Match
		switch val := v.(type) {
		case string:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: val}}
		case bool:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: val}}
		case int:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(val)}}
		case int64:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: val}}
		case float64:
			if val != math.Trunc(val) {
				return nil, fmt.Errorf("unsupported filter value for %s: %v", key, v)
			}
			match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(val)}}
		default:
			return nil, fmt.Errorf("unsupported filter value for %s: %T", key, v)
		}
		f.Must = append(f.Must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{Field: &qdrant.FieldCondition{Key: key, Match: match}},
		})
	}
	return f, nil
}

func toPayload(meta map[string]any) map[string]*qdrant.Value {
	out := make(map[string]*qdrant.Value, len(meta))
	for k, v := range meta {
		out[k] = toValue(v)
	}
	return out
}

func toValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case nil:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{NullValue: qdrant.NullValue_NULL_VALUE}}
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case float32:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(val)}}
	case map[string]any:
		return &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: toPayload(val)}}}
	case []any:
		list := make([]*qdrant.Value, len(val))
		for i, item := range val {
			list[i] = toValue(item)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: list}}}
	case []string:
		list := make([]*qdrant.Value, len(val))
		for i, item := range val {
			list[i] = toValue(item)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: list}}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprint(val)}}
	}
}

func fromValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_IntegerValue:
		return float64(k.IntegerValue)
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(k.StructValue.GetFields()))
		for key, fv := range k.StructValue.GetFields() {
			out[key] = fromValue(fv)
		}
		return out
	case *qdrant.Value_ListValue:
		out := make([]any, len(k.ListValue.GetValues()))
		for i, item := range k.ListValue.GetValues() {
			out[i] = fromValue(item)
		}
		return out
	default:
		return nil
	}
}

func fromPayload(payload map[string]*qdrant.Value) Document {
	doc := Document{Metadata: make(map[string]any, len(payload))}
	for k, v := range payload {
		if k == payloadContent {
			doc.PageContent = v.GetStringValue()
			continue
		}
		doc.Metadata[k] = fromValue(v)
	}
	if id, ok := doc.Metadata[MetaID].(string); ok {
		doc.ID = id
	}
	return doc
}
