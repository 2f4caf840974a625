package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 3, cfg.Retrieval.CandidateMultiplier)
	assert.InDelta(t, 0.35, cfg.Retrieval.RelevanceThreshold, 1e-9)
	assert.InDelta(t, 30, cfg.Retrieval.RecencyDecayDays, 1e-9)
	assert.InDelta(t, 0.2, cfg.Retrieval.RecencyWeight, 1e-9)
	assert.InDelta(t, 0.7, cfg.Retrieval.MMRLambda, 1e-9)
	assert.Equal(t, 10, cfg.Consolidation.NeighborhoodSize)
	assert.Equal(t, 2048, cfg.Summarization.ChunkTokens)
	assert.Equal(t, 200, cfg.Summarization.OverlapTokens)
	assert.Equal(t, 10, cfg.Summarization.MaxDepth)
	assert.Equal(t, 500, cfg.Eviction.MaxEntries)
	assert.True(t, cfg.Redaction.Enabled)
	assert.Empty(t, cfg.Redaction.Allowlist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad index", func(c *Config) { c.Index.Provider = "faiss" }, "index.provider"},
		{"bad embeddings", func(c *Config) { c.Embeddings.Provider = "x" }, "embeddings.provider"},
		{"bad reranker", func(c *Config) { c.Reranker.Provider = "x" }, "reranker.provider"},
		{"bad llm", func(c *Config) { c.LLM.Provider = "x" }, "llm.provider"},
		{"zero top_k", func(c *Config) { c.Retrieval.TopK = 0 }, "retrieval.top_k"},
		{"threshold > 1", func(c *Config) { c.Retrieval.RelevanceThreshold = 1.2 }, "relevance_threshold"},
		{"overlap >= chunk", func(c *Config) { c.Summarization.OverlapTokens = 2048 }, "overlap_tokens"},
		{"zero eviction", func(c *Config) { c.Eviction.MaxEntries = 0 }, "eviction.max_entries"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"telemetry endpoint", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Endpoint = "" }, "telemetry.endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-1s")))
	require.Error(t, d.UnmarshalText([]byte("soon")))

	out, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(out))
}

func TestSecret_NeverLeaks(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")

	out, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-live")

	assert.False(t, Secret("").IsSet())
	assert.Equal(t, "", Secret("").String())
}
