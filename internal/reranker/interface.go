// Package reranker scores (query, document) pairs for retrieval.
//
// A Scorer returns raw cross-encoder logits. Retrieval maps them into
// [0,1] with Sigmoid before applying its relevance threshold.
package reranker

import (
	"context"
	"errors"
	"math"
)

var (
	// ErrScoringFailed wraps transport and decoding failures.
	ErrScoringFailed = errors.New("scoring failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Scorer scores documents against a query. The returned slice is parallel
// to docs and holds unbounded logits.
type Scorer interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
	Close() error
}

// Sigmoid maps a logit into (0,1).
func Sigmoid(logit float64) float64 {
	return 1 / (1 + math.Exp(-logit))
}
