package vectorstore

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic bag-of-words embedder for tests and
// offline use. Texts sharing words get similar vectors.
type HashEmbedder struct {
	Dim int
	// Err, when set, is returned from every call.
	Err error
}

// EmbedDocuments implements Embedder.
func (h *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if h.Err != nil {
		return nil, h.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

// EmbedQuery implements Embedder.
func (h *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if h.Err != nil {
		return nil, h.Err
	}
	return h.embed(text), nil
}

// Dimension returns the vector size.
func (h *HashEmbedder) Dimension() int {
	if h.Dim <= 0 {
		return 64
	}
	return h.Dim
}

// Close is a no-op.
func (h *HashEmbedder) Close() error { return nil }

func (h *HashEmbedder) embed(text string) []float32 {
	dim := h.Dimension()
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		vec[int(f.Sum32())%dim] += 1
	}
	// Keep empty text off the zero vector so cosine stays defined.
	vec[dim-1] += 0.01

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
