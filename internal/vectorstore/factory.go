package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"go.uber.org/zap"
)

// NewIndex creates the Index selected by cfg.Provider.
func NewIndex(cfg config.IndexConfig, embedder Embedder, logger *zap.Logger) (Index, error) {
	switch cfg.Provider {
	case "", "chromem":
		return NewChromemIndex(ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		}, embedder, logger)
	case "qdrant":
		return NewQdrantIndex(QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			UseTLS: cfg.Qdrant.UseTLS,
			APIKey: cfg.Qdrant.APIKey.Value(),
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unknown index provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
