package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
	envPrefix         = "MEMORYD_"
)

// nestedSections are two-level config sections that can be addressed from
// the environment, e.g. MEMORYD_INDEX_QDRANT_HOST -> index.qdrant.host.
var nestedSections = []string{"index_chromem", "index_qdrant"}

// DefaultPath returns ~/.config/memoryd/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "memoryd", "config.yaml")
}

// Load loads configuration from the default file location, if present, and
// the environment.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration with the following precedence, highest
// first:
//
//  1. MEMORYD_* environment variables
//  2. the YAML file at configPath (or DefaultPath when empty)
//  3. built-in defaults
//
// An explicit configPath must exist. The default path is optional.
//
// Environment variables drop the prefix and split on the first underscore:
//
//	MEMORYD_RETRIEVAL_TOP_K       -> retrieval.top_k
//	MEMORYD_LLM_API_KEY           -> llm.api_key
//	MEMORYD_INDEX_QDRANT_HOST     -> index.qdrant.host
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultPath()
	}

	if configPath != "" {
		content, err := readConfigFile(configPath)
		switch {
		case err == nil:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.Root = ExpandHome(cfg.Store.Root)
	cfg.Index.Chromem.Path = ExpandHome(cfg.Index.Chromem.Path)
	cfg.Embeddings.CacheDir = ExpandHome(cfg.Embeddings.CacheDir)
	cfg.Redaction.Allowlist = ExpandHome(cfg.Redaction.Allowlist)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps an environment variable name to a koanf key.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, nested := range nestedSections {
		if strings.HasPrefix(key, nested+"_") {
			return strings.Replace(nested, "_", ".", 1) + "." + key[len(nested)+1:]
		}
	}
	section, field, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + field
}

// readConfigFile opens the file once and validates it through the open
// descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func validateConfigFileProperties(info os.FileInfo) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("config path is not a regular file")
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o022 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (must not be group or world writable)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
