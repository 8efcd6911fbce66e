package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "PATCHVEC_"

	// DefaultConfigPath is used when no path is given and PATCHVEC_CONFIG
	// is unset.
	DefaultConfigPath = "./patchvec.yml"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PATCHVEC_AUTH__MODE, PATCHVEC_SERVER__PORT, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty,
// PATCHVEC_CONFIG is consulted, then DefaultConfigPath. A missing file is
// not an error; defaults and env vars still apply.
//
// # Environment Variable Mapping
//
// Variables use the PATCHVEC_ prefix with a double underscore as the
// nesting separator, so single underscores survive inside key names:
//
//	PATCHVEC_AUTH__MODE            -> auth.mode
//	PATCHVEC_SERVER__PORT          -> server.port
//	PATCHVEC_CHUNK__TXT__SIZE      -> chunk.txt.size
//	PATCHVEC_VECTOR_STORE__BACKEND -> vector_store.backend
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		configPath = os.Getenv("PATCHVEC_CONFIG")
	}
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	if info, err := os.Stat(configPath); err == nil {
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKeyTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKeyTransform maps PATCHVEC_SECTION__FIELD_NAME to section.field_name.
// PATCHVEC_CONFIG itself is reserved for the file path and never becomes
// a config key.
func envKeyTransform(s string) string {
	trimmed := strings.TrimPrefix(s, EnvPrefix)
	if trimmed == "CONFIG" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(trimmed), "__", ".")
}
