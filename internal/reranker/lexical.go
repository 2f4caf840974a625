package reranker

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// LexicalScorer approximates a cross-encoder with query term overlap. It
// needs no model server and suits tests and offline installs.
//
// Overlap in [0,1] maps to a logit with Steepness*(overlap-0.5), so full
// overlap lands near 0.98 after Sigmoid and none near 0.02.
type LexicalScorer struct {
	Steepness float64
}

// NewLexicalScorer creates a LexicalScorer with the default steepness.
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{Steepness: 8}
}

// Score implements Scorer.
func (s *LexicalScorer) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queryTokens := tokenize(query)
	scores := make([]float64, len(docs))
	for i, d := range docs {
		overlap := termOverlap(queryTokens, tokenize(d))
		scores[i] = s.Steepness * (overlap - 0.5)
	}
	return scores, nil
}

// Close is a no-op.
func (s *LexicalScorer) Close() error { return nil }

// tokenize splits text into lowercase terms, dropping stopwords and
// tokens of two characters or fewer.
func tokenize(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isWordRune(r)
	})
	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if utf8.RuneCountInString(token) > 2 && !stopwords[token] {
			filtered = append(filtered, token)
		}
	}
	return filtered
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true,
	"from": true, "was": true, "are": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "you": true, "she": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true,
	"how": true, "not": true, "about": true, "your": true,
}

// termOverlap is the fraction of distinct query terms present in the
// document.
func termOverlap(queryTokens, docTokens []string) float64 {
	distinct := make(map[string]bool, len(queryTokens))
	for _, t := range queryTokens {
		distinct[t] = true
	}
	if len(distinct) == 0 {
		return 0
	}
	docSet := make(map[string]bool, len(docTokens))
	for _, t := range docTokens {
		docSet[t] = true
	}
	matched := 0
	for t := range distinct {
		if docSet[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(distinct))
}
