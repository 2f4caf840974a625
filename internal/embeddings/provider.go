package embeddings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is the interface for embedding providers.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// knownDimensions covers the models memoryd is usually deployed with.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-large-en-v1.5":                 1024,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Falls back to 384 if the model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := knownDimensions[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		return 384
	}
}

// NewProvider creates the provider selected by cfg. When cfg.CacheSize is
// positive, query embeddings are cached.
func NewProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "tei", "":
		p, err = NewTEIProvider(TEIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model}, logger)
	case "fastembed":
		p, err = NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize <= 0 {
		return p, nil
	}
	cached, err := NewCachedProvider(p, cfg.CacheSize)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	logger.Debug("query embedding cache enabled", zap.Int("size", cfg.CacheSize))
	return cached, nil
}
