// Package config provides configuration loading for memoryd.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the root configuration for memoryd.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Store         StoreConfig         `koanf:"store"`
	Index         IndexConfig         `koanf:"index"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Reranker      RerankerConfig      `koanf:"reranker"`
	LLM           LLMConfig           `koanf:"llm"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	Consolidation ConsolidationConfig `koanf:"consolidation"`
	Summarization SummarizationConfig `koanf:"summarization"`
	Eviction      EvictionConfig      `koanf:"eviction"`
	Snapshot      SnapshotConfig      `koanf:"snapshot"`
	Redaction     RedactionConfig     `koanf:"redaction"`
	Sync          SyncConfig          `koanf:"sync"`
	Workers       WorkersConfig       `koanf:"workers"`
	Logging       LoggingConfig       `koanf:"logging"`
	Telemetry     TelemetryConfig     `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StoreConfig configures the on-disk record store.
type StoreConfig struct {
	Root string `koanf:"root"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Provider string        `koanf:"provider"` // chromem | qdrant
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go database.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the remote Qdrant backend.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"` // tei | fastembed
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	CacheDir  string `koanf:"cache_dir"`
	CacheSize int    `koanf:"cache_size"`
}

// RerankerConfig configures the cross-encoder scoring service.
type RerankerConfig struct {
	Provider string   `koanf:"provider"` // tei | lexical
	BaseURL  string   `koanf:"base_url"`
	Timeout  Duration `koanf:"timeout"`
}

// LLMConfig configures the reasoning/completion service.
type LLMConfig struct {
	Provider          string   `koanf:"provider"` // anthropic | openai
	BaseURL           string   `koanf:"base_url"`
	APIKey            Secret   `koanf:"api_key"`
	Model             string   `koanf:"model"`
	ChatTemperature   float64  `koanf:"chat_temperature"`
	MaxTokens         int      `koanf:"max_tokens"`
	RequestsPerMinute int      `koanf:"requests_per_minute"`
	Timeout           Duration `koanf:"timeout"`
}

// RetrievalConfig holds ranking parameters.
type RetrievalConfig struct {
	TopK                int     `koanf:"top_k"`
	CandidateMultiplier int     `koanf:"candidate_multiplier"`
	RelevanceThreshold  float64 `koanf:"relevance_threshold"`
	RecencyDecayDays    float64 `koanf:"recency_decay_days"`
	RecencyWeight       float64 `koanf:"recency_weight"`
	MMRLambda           float64 `koanf:"mmr_lambda"`
	IncludeSummary      bool    `koanf:"include_summary"`
	DefaultScope        string  `koanf:"default_scope"`
}

// ConsolidationConfig holds consolidation parameters.
type ConsolidationConfig struct {
	NeighborhoodSize int `koanf:"neighborhood_size"`
}

// SummarizationConfig holds map-reduce summarization parameters.
type SummarizationConfig struct {
	TargetTokens  int `koanf:"target_tokens"`
	ChunkTokens   int `koanf:"chunk_tokens"`
	OverlapTokens int `koanf:"overlap_tokens"`
	MaxDepth      int `koanf:"max_depth"`
	Parallelism   int `koanf:"parallelism"`
	EveryTurns    int `koanf:"every_turns"`
}

// EvictionConfig holds the per-scope capacity bound.
type EvictionConfig struct {
	MaxEntries int `koanf:"max_entries"`
}

// SnapshotConfig controls git snapshots of the record directory.
type SnapshotConfig struct {
	Enabled     bool   `koanf:"enabled"`
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
}

// RedactionConfig controls secret scrubbing of persisted text. Allowlist
// is an optional TOML file of patterns that are never redacted.
type RedactionConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Allowlist string `koanf:"allowlist"`
}

// SyncConfig controls the filesystem watcher.
type SyncConfig struct {
	Watch    bool     `koanf:"watch"`
	Debounce Duration `koanf:"debounce"`
}

// WorkersConfig sizes the background worker pool.
type WorkersConfig struct {
	Count      int      `koanf:"count"`
	QueueSize  int      `koanf:"queue_size"`
	JobTimeout Duration `koanf:"job_timeout"`
}

// LoggingConfig is the subset of logging options exposed through config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"` // grpc | http/protobuf
	Insecure       bool     `koanf:"insecure"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8765,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Root: "~/.local/share/memoryd/records",
		},
		Index: IndexConfig{
			Provider: "chromem",
			Chromem: ChromemConfig{
				Path:     "~/.local/share/memoryd/index",
				Compress: true,
			},
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "tei",
			BaseURL:   "http://localhost:8080",
			Model:     "BAAI/bge-small-en-v1.5",
			CacheSize: 4096,
		},
		Reranker: RerankerConfig{
			Provider: "tei",
			BaseURL:  "http://localhost:8081",
			Timeout:  Duration(10 * time.Second),
		},
		LLM: LLMConfig{
			Provider:          "anthropic",
			Model:             "claude-sonnet-4-5",
			ChatTemperature:   0.7,
			MaxTokens:         2048,
			RequestsPerMinute: 50,
			Timeout:           Duration(2 * time.Minute),
		},
		Retrieval: RetrievalConfig{
			TopK:                5,
			CandidateMultiplier: 3,
			RelevanceThreshold:  0.35,
			RecencyDecayDays:    30,
			RecencyWeight:       0.2,
			MMRLambda:           0.7,
			IncludeSummary:      true,
			DefaultScope:        "default",
		},
		Consolidation: ConsolidationConfig{
			NeighborhoodSize: 10,
		},
		Summarization: SummarizationConfig{
			TargetTokens:  3000,
			ChunkTokens:   2048,
			OverlapTokens: 200,
			MaxDepth:      10,
			Parallelism:   4,
			EveryTurns:    10,
		},
		Eviction: EvictionConfig{
			MaxEntries: 500,
		},
		Snapshot: SnapshotConfig{
			AuthorName:  "memoryd",
			AuthorEmail: "memoryd@localhost",
		},
		Redaction: RedactionConfig{
			Enabled: true,
		},
		Sync: SyncConfig{
			Watch:    true,
			Debounce: Duration(200 * time.Millisecond),
		},
		Workers: WorkersConfig{
			Count:      3,
			QueueSize:  256,
			JobTimeout: Duration(2 * time.Minute),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			SampleRate:     1.0,
			ExportInterval: Duration(15 * time.Second),
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Store.Root == "" {
		errs = append(errs, errors.New("store.root is required"))
	}

	switch c.Index.Provider {
	case "chromem":
		if c.Index.Chromem.Path == "" {
			errs = append(errs, errors.New("index.chromem.path is required for chromem provider"))
		}
	case "qdrant":
		if c.Index.Qdrant.Host == "" {
			errs = append(errs, errors.New("index.qdrant.host is required for qdrant provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("index.provider must be chromem or qdrant, got %q", c.Index.Provider))
	}

	switch c.Embeddings.Provider {
	case "tei", "fastembed":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be tei or fastembed, got %q", c.Embeddings.Provider))
	}

	switch c.Reranker.Provider {
	case "tei", "lexical":
	default:
		errs = append(errs, fmt.Errorf("reranker.provider must be tei or lexical, got %q", c.Reranker.Provider))
	}

	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be anthropic or openai, got %q", c.LLM.Provider))
	}

	r := c.Retrieval
	if r.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive, got %d", r.TopK))
	}
	if r.CandidateMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.candidate_multiplier must be positive, got %d", r.CandidateMultiplier))
	}
	if r.RelevanceThreshold < 0 || r.RelevanceThreshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.relevance_threshold must be in [0,1], got %f", r.RelevanceThreshold))
	}
	if r.RecencyDecayDays <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.recency_decay_days must be positive, got %f", r.RecencyDecayDays))
	}
	if r.RecencyWeight < 0 || r.RecencyWeight > 1 {
		errs = append(errs, fmt.Errorf("retrieval.recency_weight must be in [0,1], got %f", r.RecencyWeight))
	}
	if r.MMRLambda < 0 || r.MMRLambda > 1 {
		errs = append(errs, fmt.Errorf("retrieval.mmr_lambda must be in [0,1], got %f", r.MMRLambda))
	}
	if r.DefaultScope == "" {
		errs = append(errs, errors.New("retrieval.default_scope is required"))
	}

	if c.Consolidation.NeighborhoodSize <= 0 {
		errs = append(errs, fmt.Errorf("consolidation.neighborhood_size must be positive, got %d", c.Consolidation.NeighborhoodSize))
	}

	s := c.Summarization
	if s.TargetTokens <= 0 || s.ChunkTokens <= 0 {
		errs = append(errs, errors.New("summarization.target_tokens and chunk_tokens must be positive"))
	}
	if s.OverlapTokens < 0 || s.OverlapTokens >= s.ChunkTokens {
		errs = append(errs, fmt.Errorf("summarization.overlap_tokens must be in [0, chunk_tokens), got %d", s.OverlapTokens))
	}
	if s.MaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("summarization.max_depth must be positive, got %d", s.MaxDepth))
	}

	if c.Eviction.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("eviction.max_entries must be positive, got %d", c.Eviction.MaxEntries))
	}
	if c.Workers.Count <= 0 || c.Workers.QueueSize <= 0 {
		errs = append(errs, errors.New("workers.count and workers.queue_size must be positive"))
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}

	return errors.Join(errs...)
}
