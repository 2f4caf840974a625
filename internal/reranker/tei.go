package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("memoryd.reranker")

// TEIConfig configures a text-embeddings-inference server running a
// cross-encoder model such as BAAI/bge-reranker-base.
type TEIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// TEIScorer calls TEI's /rerank endpoint with raw_scores so the response
// carries logits rather than normalized scores.
type TEIScorer struct {
	baseURL string
	client  *http.Client
}

// NewTEIScorer creates a TEIScorer.
func NewTEIScorer(cfg TEIConfig) (*TEIScorer, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TEIScorer{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score implements Scorer.
func (s *TEIScorer) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	ctx, span := tracer.Start(ctx, "TEIScorer.Score")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return nil, nil
	}

	scores, err := s.rerank(ctx, query, docs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return scores, nil
}

func (s *TEIScorer) rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Texts: docs, RawScores: true, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScoringFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrScoringFailed, resp.StatusCode, string(msg))
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrScoringFailed, err)
	}
	if len(results) != len(docs) {
		return nil, fmt.Errorf("%w: got %d scores for %d documents", ErrScoringFailed, len(results), len(docs))
	}

	// TEI sorts by score; put results back in input order.
	scores := make([]float64, len(docs))
	seen := make([]bool, len(docs))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(docs) || seen[r.Index] {
			return nil, fmt.Errorf("%w: bad result index %d", ErrScoringFailed, r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = r.Score
	}
	return scores, nil
}

// Close is a no-op.
func (s *TEIScorer) Close() error { return nil }
