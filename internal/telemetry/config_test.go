package telemetry

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "memoryd", cfg.ServiceName)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, 15*time.Second, cfg.ExportInterval)
	assert.NoError(t, cfg.Validate())
}

func TestFromAppConfig(t *testing.T) {
	cfg := FromAppConfig(config.TelemetryConfig{
		Enabled:        true,
		Endpoint:       "otel.example.com:4318",
		Protocol:       "http/protobuf",
		SampleRate:     0.25,
		ExportInterval: config.Duration(time.Minute),
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, 0.25, cfg.SampleRate)
	assert.Equal(t, time.Minute, cfg.ExportInterval)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.False(t, cfg.Insecure)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	enabled := func(mod func(*Config)) *Config {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		mod(cfg)
		return cfg
	}

	tests := []struct {
		name   string
		config *Config
		errMsg string
	}{
		{"disabled skips validation", &Config{}, ""},
		{"valid enabled", enabled(func(*Config) {}), ""},
		{"missing endpoint", enabled(func(c *Config) { c.Endpoint = "" }), "endpoint is required"},
		{"missing service name", enabled(func(c *Config) { c.ServiceName = "" }), "service_name is required"},
		{"unknown protocol", enabled(func(c *Config) { c.Protocol = "thrift" }), "protocol must be"},
		{"insecure remote", enabled(func(c *Config) { c.Endpoint = "otel.example.com:4317" }), "insecure connections"},
		{"insecure loopback v6", enabled(func(c *Config) { c.Endpoint = "[::1]:4317" }), ""},
		{"insecure loopback with scheme", enabled(func(c *Config) { c.Endpoint = "http://127.0.0.1:4318" }), ""},
		{"sample rate too high", enabled(func(c *Config) { c.SampleRate = 1.5 }), "sample_rate"},
		{"sample rate negative", enabled(func(c *Config) { c.SampleRate = -0.1 }), "sample_rate"},
		{"zero export interval", enabled(func(c *Config) { c.ExportInterval = 0 }), "export_interval"},
		{"zero shutdown timeout", enabled(func(c *Config) { c.ShutdownTimeout = 0 }), "shutdown timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
