package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var qdrantTracer = otel.Tracer("memoryd.vectorstore.qdrant")

// QdrantConfig configures the remote Qdrant backend.
type QdrantConfig struct {
	Host           string
	Port           int
	UseTLS         bool
	APIKey         string
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// QdrantIndex stores one Qdrant collection per scope. Record ids are UUIDs
// and are used directly as point ids.
type QdrantIndex struct {
	client   *qdrant.Client
	embedder Embedder
	logger   *zap.Logger

	mu          sync.Mutex
	collections map[string]bool
}

// NewQdrantIndex connects to Qdrant.
func NewQdrantIndex(cfg QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	return &QdrantIndex{
		client:      client,
		embedder:    embedder,
		logger:      logger,
		collections: make(map[string]bool),
	}, nil
}

// exists reports whether the scope's collection exists, caching positives.
func (q *QdrantIndex) exists(ctx context.Context, scope string) (bool, error) {
	q.mu.Lock()
	known := q.collections[scope]
	q.mu.Unlock()
	if known {
		return true, nil
	}

	ok, err := q.client.CollectionExists(ctx, CollectionName(scope))
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", CollectionName(scope), err)
	}
	if ok {
		q.mu.Lock()
		q.collections[scope] = true
		q.mu.Unlock()
	}
	return ok, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, scope string, dim int) error {
	ok, err := q.exists(ctx, scope)
	if err != nil || ok {
		return err
	}

	name := CollectionName(scope)
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	q.mu.Lock()
	q.collections[scope] = true
	q.mu.Unlock()
	q.logger.Info("qdrant collection created", zap.String("collection", name), zap.Int("dim", dim))
	return nil
}

// Upsert implements Index.
func (q *QdrantIndex) Upsert(ctx context.Context, docs []Document) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	for scope, group := range groupByScope(docs) {
		if err := q.upsertScope(ctx, scope, group); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (q *QdrantIndex) upsertScope(ctx context.Context, scope string, docs []Document) error {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := q.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(docs) || len(vectors[0]) == 0 {
		return fmt.Errorf("%w: got %d vectors for %d documents", ErrEmbeddingFailed, len(vectors), len(docs))
	}
	if err := q.ensureCollection(ctx, scope, len(vectors[0])); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(d.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: map[string]*qdrant.Value{
				"id":         {Kind: &qdrant.Value_StringValue{StringValue: d.ID}},
				"scope":      {Kind: &qdrant.Value_StringValue{StringValue: d.Scope}},
				"kind":       {Kind: &qdrant.Value_StringValue{StringValue: d.Kind}},
				"content":    {Kind: &qdrant.Value_StringValue{StringValue: d.Content}},
				"created_at": {Kind: &qdrant.Value_IntegerValue{IntegerValue: d.CreatedAt.UnixNano()}},
			},
		}
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: CollectionName(scope),
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting into %s: %w", CollectionName(scope), err)
	}
	return nil
}

// Delete implements Index.
func (q *QdrantIndex) Delete(ctx context.Context, scope string, ids ...string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope", scope),
		attribute.Int("id_count", len(ids)),
	)

	if len(ids) == 0 {
		return nil
	}
	ok, err := q.exists(ctx, scope)
	if err != nil || !ok {
		return err
	}

	_, err = q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: CollectionName(scope),
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{keywordsCondition("id", ids)},
				},
			},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from %s: %w", CollectionName(scope), err)
	}
	return nil
}

// Search implements Index.
func (q *QdrantIndex) Search(ctx context.Context, scope, query string, k int, kinds ...string) ([]Hit, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope", scope),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, nil
	}
	ok, err := q.exists(ctx, scope)
	if err != nil || !ok {
		return nil, err
	}

	vec, err := q.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var filter *qdrant.Filter
	if len(kinds) > 0 {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{keywordsCondition("kind", kinds)}}
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: CollectionName(scope),
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(k)),
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching %s: %w", CollectionName(scope), err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, qdrantHit(p))
	}
	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

func keywordsCondition(key string, values []string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{
						Keywords: &qdrant.RepeatedStrings{Strings: values},
					},
				},
			},
		},
	}
}

func qdrantHit(p *qdrant.ScoredPoint) Hit {
	h := Hit{Similarity: p.GetScore()}
	for k, v := range p.GetPayload() {
		switch k {
		case "id":
			h.ID = v.GetStringValue()
		case "scope":
			h.Scope = v.GetStringValue()
		case "kind":
			h.Kind = v.GetStringValue()
		case "content":
			h.Content = v.GetStringValue()
		case "created_at":
			h.CreatedAt = time.Unix(0, v.GetIntegerValue()).UTC()
		}
	}
	if h.ID == "" {
		h.ID = p.GetId().GetUuid()
	}
	h.Embedding = p.GetVectors().GetVector().GetData()
	return h
}

// Close implements Index.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
