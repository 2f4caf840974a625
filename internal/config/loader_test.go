package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_YAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9191
store:
  root: /tmp/records
retrieval:
  top_k: 8
  relevance_threshold: 0.5
summarization:
  target_tokens: 1000
sync:
  debounce: 50ms
index:
  provider: qdrant
  qdrant:
    host: qdrant.internal
    port: 6400
`, 0o600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "/tmp/records", cfg.Store.Root)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.5, cfg.Retrieval.RelevanceThreshold, 1e-9)
	assert.Equal(t, 1000, cfg.Summarization.TargetTokens)
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.Debounce.Duration())
	assert.Equal(t, "qdrant", cfg.Index.Provider)
	assert.Equal(t, "qdrant.internal", cfg.Index.Qdrant.Host)
	assert.Equal(t, 6400, cfg.Index.Qdrant.Port)

	// Untouched sections keep defaults.
	assert.Equal(t, 2048, cfg.Summarization.ChunkTokens)
	assert.Equal(t, 500, cfg.Eviction.MaxEntries)
	assert.InDelta(t, 0.7, cfg.Retrieval.MMRLambda, 1e-9)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "retrieval:\n  top_k: 8\n", 0o600)

	t.Setenv("MEMORYD_RETRIEVAL_TOP_K", "12")
	t.Setenv("MEMORYD_LLM_API_KEY", "sk-test")
	t.Setenv("MEMORYD_INDEX_QDRANT_HOST", "remote")
	t.Setenv("MEMORYD_EVICTION_MAX_ENTRIES", "42")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Retrieval.TopK)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey.Value())
	assert.Equal(t, "remote", cfg.Index.Qdrant.Host)
	assert.Equal(t, 42, cfg.Eviction.MaxEntries)
}

func TestLoadWithFile_Rejections(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("world writable", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 1\n", 0o666)
		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insecure config file permissions")
	})

	t.Run("too large", func(t *testing.T) {
		big := make([]byte, maxConfigFileSize+10)
		for i := range big {
			big[i] = '#'
		}
		path := writeConfig(t, string(big), 0o600)
		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("invalid values", func(t *testing.T) {
		path := writeConfig(t, "retrieval:\n  mmr_lambda: 1.5\n", 0o600)
		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mmr_lambda")
	})
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"MEMORYD_RETRIEVAL_TOP_K", "retrieval.top_k"},
		{"MEMORYD_SERVER_PORT", "server.port"},
		{"MEMORYD_INDEX_CHROMEM_PATH", "index.chromem.path"},
		{"MEMORYD_INDEX_PROVIDER", "index.provider"},
		{"MEMORYD_STORE", "store"},
		{"MEMORYD_REDACTION_ALLOWLIST", "redaction.allowlist"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "x", "y"), ExpandHome("~/x/y"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "rel", ExpandHome("rel"))
}
