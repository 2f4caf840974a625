// Package vectorstore provides the similarity-searchable index of live
// memory records, partitioned into one collection per scope.
package vectorstore

import (
	"context"
	"errors"
	"math"
	"time"
)

// Sentinel errors for index operations.
var (
	// ErrEmbeddingFailed indicates the embedding service failed.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the remote backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector backend")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments returns one embedding per input text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery returns the embedding for a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Document is a record as seen by the index.
type Document struct {
	ID        string
	Scope     string
	Kind      string
	Content   string
	CreatedAt time.Time
}

// Hit is a search result. Embedding is the stored, unit-normalized vector.
type Hit struct {
	Document
	Similarity float32
	Embedding  []float32
}

// Index is an embedding-indexed copy of the live records.
//
// Implementations must treat Upsert of an existing id as an overwrite and
// Delete of a missing id as a no-op. Search on an empty or unknown scope
// returns no hits and no error.
type Index interface {
	// Upsert embeds and writes docs. Docs may span scopes.
	Upsert(ctx context.Context, docs []Document) error

	// Delete removes ids from the scope's collection.
	Delete(ctx context.Context, scope string, ids ...string) error

	// Search returns up to k nearest neighbours of query in scope,
	// optionally restricted to the given kinds.
	Search(ctx context.Context, scope, query string, k int, kinds ...string) ([]Hit, error)

	// Close releases backend resources.
	Close() error
}

// CollectionName returns the collection used for a scope.
func CollectionName(scope string) string {
	return "mem_" + scope
}

// CosineSimilarity returns the cosine similarity of a and b, or 0 when
// either is empty, zero, or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func kindSet(kinds []string) map[string]bool {
	if len(kinds) == 0 {
		return nil
	}
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}

func groupByScope(docs []Document) map[string][]Document {
	out := make(map[string][]Document)
	for _, d := range docs {
		out[d.Scope] = append(out[d.Scope], d)
	}
	return out
}
