package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("memoryd.vectorstore.chromem")

// ChromemConfig configures the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the index in memory.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool
}

// ChromemIndex is an embedded, optionally persistent Index.
type ChromemIndex struct {
	db       *chromem.DB
	embedder Embedder
	logger   *zap.Logger

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewChromemIndex opens the chromem database described by cfg.
func NewChromemIndex(cfg ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", cfg.Path, err)
		}
	}

	logger.Info("chromem index opened",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
		zap.Int("collections", len(db.ListCollections())))

	return &ChromemIndex{
		db:          db,
		embedder:    embedder,
		logger:      logger,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// embeddingFunc adapts the embedder for chromem. Documents are always
// embedded by Upsert, so chromem only calls this for text queries.
func (c *ChromemIndex) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return c.embedder.EmbedQuery(ctx, text)
	}
}

func (c *ChromemIndex) collection(scope string, create bool) (*chromem.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if col, ok := c.collections[scope]; ok {
		return col, nil
	}

	name := CollectionName(scope)
	if !create {
		col := c.db.GetCollection(name, c.embeddingFunc())
		if col != nil {
			c.collections[scope] = col
		}
		return col, nil
	}

	col, err := c.db.GetOrCreateCollection(name, map[string]string{"scope": scope}, c.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	c.collections[scope] = col
	return col, nil
}

// Upsert implements Index.
func (c *ChromemIndex) Upsert(ctx context.Context, docs []Document) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(docs) {
		err := fmt.Errorf("%w: got %d vectors for %d documents", ErrEmbeddingFailed, len(vectors), len(docs))
		span.RecordError(err)
		return err
	}

	byScope := make(map[string][]chromem.Document)
	for i, d := range docs {
		byScope[d.Scope] = append(byScope[d.Scope], chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Embedding: vectors[i],
			Metadata: map[string]string{
				"kind":       d.Kind,
				"scope":      d.Scope,
				"created_at": d.CreatedAt.UTC().Format(time.RFC3339Nano),
			},
		})
	}

	for scope, cdocs := range byScope {
		col, err := c.collection(scope, true)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if err := col.AddDocuments(ctx, cdocs, 1); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("adding documents to %s: %w", CollectionName(scope), err)
		}
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Delete implements Index.
func (c *ChromemIndex) Delete(ctx context.Context, scope string, ids ...string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope", scope),
		attribute.Int("id_count", len(ids)),
	)

	if len(ids) == 0 {
		return nil
	}
	col, err := c.collection(scope, false)
	if err != nil {
		return err
	}
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from %s: %w", CollectionName(scope), err)
	}
	return nil
}

// Search implements Index.
func (c *ChromemIndex) Search(ctx context.Context, scope, query string, k int, kinds ...string) ([]Hit, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope", scope),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, nil
	}
	col, err := c.collection(scope, false)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, nil
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	vec, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	// chromem rejects nResults above the collection size. With a kind
	// filter every document is ranked and the filter applied here.
	filter := kindSet(kinds)
	n := min(k, count)
	if filter != nil {
		n = count
	}

	results, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", CollectionName(scope), err)
	}

	hits := make([]Hit, 0, min(k, len(results)))
	for _, r := range results {
		if filter != nil && !filter[r.Metadata["kind"]] {
			continue
		}
		hits = append(hits, chromemHit(r))
		if len(hits) == k {
			break
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

func chromemHit(r chromem.Result) Hit {
	created, _ := time.Parse(time.RFC3339Nano, r.Metadata["created_at"])
	return Hit{
		Document: Document{
			ID:        r.ID,
			Scope:     r.Metadata["scope"],
			Kind:      r.Metadata["kind"],
			Content:   r.Content,
			CreatedAt: created,
		},
		Similarity: r.Similarity,
		Embedding:  r.Embedding,
	}
}

// Close implements Index. chromem persists on every write.
func (c *ChromemIndex) Close() error {
	return nil
}
