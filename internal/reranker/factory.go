package reranker

import (
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

// New creates the Scorer selected by cfg.Provider.
func New(cfg config.RerankerConfig) (Scorer, error) {
	switch cfg.Provider {
	case "tei", "":
		return NewTEIScorer(TEIConfig{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout.Duration()})
	case "lexical":
		return NewLexicalScorer(), nil
	default:
		return nil, fmt.Errorf("%w: unknown reranker provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
