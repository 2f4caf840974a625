//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"
)

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	// Model is the embedding model to use. Defaults to BAAI/bge-small-en-v1.5.
	Model string

	// CacheDir is where model files are downloaded.
	CacheDir string

	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
}

// FastEmbedProvider runs ONNX embedding models in process.
type FastEmbedProvider struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	metrics   *Metrics
	mu        sync.RWMutex
}

var fastEmbedModels = map[string]fastembed.EmbeddingModel{
	"":                                       fastembed.BGESmallENV15,
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// NewFastEmbedProvider loads the configured model, downloading it into
// CacheDir on first use.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	model, ok := fastEmbedModels[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported fastembed model %q", ErrInvalidConfig, cfg.Model)
	}
	if cfg.Model == "" {
		cfg.Model = "BAAI/bge-small-en-v1.5"
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}
	showProgress := false

	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing FastEmbed: %w", err)
	}

	return &FastEmbedProvider{
		model:     flagEmbed,
		modelName: cfg.Model,
		dimension: detectDimensionFromModel(cfg.Model),
		metrics:   NewMetrics(zap.NewNop()),
	}, nil
}

// EmbedDocuments embeds passages with the "passage: " prefix BGE expects.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.modelName, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}
	if err := ctx.Err(); err != nil {
		genErr = err
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	embeddings, err := p.model.PassageEmbed(texts, 256)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}
	return embeddings, nil
}

// EmbedQuery embeds a query with the "query: " prefix.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.modelName, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}
	if err := ctx.Err(); err != nil {
		genErr = err
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	embedding, err := p.model.QueryEmbed(text)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}
	return embedding, nil
}

// Dimension returns the embedding dimension for the current model.
func (p *FastEmbedProvider) Dimension() int {
	return p.dimension
}

// Close releases the ONNX session.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		err := p.model.Destroy()
		p.model = nil
		return err
	}
	return nil
}
