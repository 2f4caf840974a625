package llm

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"go.uber.org/zap"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultOpenAIBaseURL  = "https://api.openai.com"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultMaxTokens      = 1024
	defaultTimeout        = 60 * time.Second
	defaultMaxRetries     = 3
	defaultBaseBackoff    = 1 * time.Second
	defaultRPM            = 50
	defaultBurst          = 5
)

// Config configures a Client.
type Config struct {
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	ChatTemperature   float64
	MaxTokens         int
	RequestsPerMinute int
	Timeout           time.Duration
	MaxRetries        int
	BaseBackoff       time.Duration
}

// FromAppConfig converts the application config section.
func FromAppConfig(c config.LLMConfig) Config {
	return Config{
		Provider:          c.Provider,
		BaseURL:           c.BaseURL,
		APIKey:            c.APIKey.Value(),
		Model:             c.Model,
		ChatTemperature:   c.ChatTemperature,
		MaxTokens:         c.MaxTokens,
		RequestsPerMinute: c.RequestsPerMinute,
		Timeout:           c.Timeout.Duration(),
	}
}

func (c *Config) applyDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = defaultRPM
	}
}

func (c Config) temperature(m Mode) float64 {
	if m == ModeDeterministic {
		return 0
	}
	return c.ChatTemperature
}

// New creates the Client selected by cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "anthropic", "":
		return NewAnthropicClient(cfg, logger)
	case "openai":
		return NewOpenAIClient(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
