package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled         bool
	Endpoint        string
	Protocol        string // grpc | http/protobuf
	ServiceName     string
	ServiceVersion  string
	Insecure        bool // no TLS
	SampleRate      float64
	ExportInterval  time.Duration
	ShutdownTimeout time.Duration
}

// NewDefaultConfig returns telemetry defaults. Export is off until an
// OTLP collector is configured.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		Protocol:        "grpc",
		ServiceName:     "memoryd",
		ServiceVersion:  "dev",
		Insecure:        true,
		SampleRate:      1.0,
		ExportInterval:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// FromAppConfig converts the application config section.
func FromAppConfig(c config.TelemetryConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = c.Enabled
	cfg.Endpoint = c.Endpoint
	cfg.Protocol = c.Protocol
	cfg.Insecure = c.Insecure
	cfg.SampleRate = c.SampleRate
	if d := c.ExportInterval.Duration(); d > 0 {
		cfg.ExportInterval = d
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	return cfg
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	switch c.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		return fmt.Errorf("protocol must be grpc or http/protobuf, got %q", c.Protocol)
	}
	// Plaintext export is only allowed to the local machine.
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false for TLS or use a local endpoint (localhost/127.0.0.1)")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %f", c.SampleRate)
	}
	if c.ExportInterval <= 0 {
		return fmt.Errorf("export_interval must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// isLocalEndpoint checks if the endpoint is a loopback address.
func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)
	raw := host

	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.LastIndex(host, ":")]
	}

	return host == "localhost" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(raw, "::1")
}
