package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TEIConfig configures a text-embeddings-inference server.
type TEIConfig struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string

	// Model names the model the server was started with. It is used for
	// metrics labels and dimension detection only.
	Model string

	// Timeout bounds a single request. Defaults to 30s.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

// TEIProvider embeds text through TEI's /embed endpoint.
type TEIProvider struct {
	config    TEIConfig
	client    *http.Client
	metrics   *Metrics
	dimension int
}

// NewTEIProvider creates a TEI-backed provider.
func NewTEIProvider(cfg TEIConfig, logger *zap.Logger) (*TEIProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &TEIProvider{
		config:    cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		metrics:   NewMetrics(logger),
		dimension: detectDimensionFromModel(cfg.Model),
	}, nil
}

type teiRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *TEIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := p.embed(ctx, texts)
	if err != nil {
		genErr = err
		return nil, err
	}
	if len(vectors) != len(texts) {
		genErr = fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
		return nil, genErr
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *TEIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := p.embed(ctx, text)
	if err != nil {
		genErr = err
		return nil, err
	}
	if len(vectors) == 0 {
		genErr = fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
		return nil, genErr
	}
	return vectors[0], nil
}

func (p *TEIProvider) embed(ctx context.Context, inputs any) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// Dimension returns the embedding dimension based on the configured model.
func (p *TEIProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op for TEI since it uses HTTP.
func (p *TEIProvider) Close() error {
	return nil
}
