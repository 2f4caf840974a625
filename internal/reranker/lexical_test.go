package reranker

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexicalScorer_Score(t *testing.T) {
	s := NewLexicalScorer()
	scores, err := s.Score(context.Background(), "Does the user like coffee?", []string{
		"The user does like coffee",
		"User owns a dog",
		"Coffee is brewed daily",
	})
	require.NoError(t, err)
	require.Len(t, scores, 3)

	assert.Greater(t, Sigmoid(scores[0]), 0.9)
	assert.Less(t, Sigmoid(scores[1]), 0.35)
	assert.Greater(t, scores[0], scores[2])
}

func TestLexicalScorer_EmptyQuery(t *testing.T) {
	scores, err := NewLexicalScorer().Score(context.Background(), "the and", []string{"anything"})
	require.NoError(t, err)
	assert.Less(t, Sigmoid(scores[0]), 0.35)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"user", "likes", "coffee"}, tokenize("The user likes coffee!"))
	assert.Empty(t, tokenize("a an to"))
	assert.Equal(t, []string{"любит", "пользователь", "кофе"}, tokenize("Любит ли пользователь кофе?"))
	assert.Equal(t, []string{"café", "crème"}, tokenize("café au crème"))
}

func TestLexicalScorer_NonLatinOverlap(t *testing.T) {
	scores, err := NewLexicalScorer().Score(context.Background(), "Любит ли пользователь кофе?", []string{
		"Пользователь любит кофе",
		"У пользователя есть собака",
	})
	require.NoError(t, err)
	assert.Greater(t, Sigmoid(scores[0]), 0.9)
	assert.Less(t, Sigmoid(scores[1]), 0.35)
}

func TestSigmoid(t *testing.T) {
	assert.InDelta(t, 0.5, Sigmoid(0), 1e-12)
	assert.InDelta(t, 1.0, Sigmoid(40), 1e-9)
	assert.InDelta(t, 0.0, Sigmoid(-40), 1e-9)
	assert.Greater(t, Sigmoid(1), Sigmoid(0.5))
}

func TestNew(t *testing.T) {
	s, err := New(config.RerankerConfig{Provider: "lexical"})
	require.NoError(t, err)
	assert.IsType(t, &LexicalScorer{}, s)

	s, err = New(config.RerankerConfig{Provider: "tei", BaseURL: "http://localhost:8081"})
	require.NoError(t, err)
	assert.IsType(t, &TEIScorer{}, s)

	_, err = New(config.RerankerConfig{Provider: "cohere"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
