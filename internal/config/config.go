// Package config provides configuration loading for patchvec.
//
// Configuration is merged from built-in defaults, an optional YAML file,
// and PATCHVEC_-prefixed environment variables, in that order of
// precedence (highest last).
package config

import (
	"fmt"
)

// Config holds the complete patchvec configuration.
type Config struct {
	Dev         bool              `koanf:"dev"`
	Server      ServerConfig      `koanf:"server"`
	Auth        AuthConfig        `koanf:"auth"`
	VectorStore VectorStoreConfig `koanf:"vector_store"`
	Embedder    EmbedderConfig    `koanf:"embedder"`
	Chunk       ChunkConfig       `koanf:"chunk"`
	Limits      LimitsConfig      `koanf:"limits"`
	Log         LogConfig         `koanf:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Workers  int    `koanf:"workers"`
	LogLevel string `koanf:"log_level"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Mode is "none" (dev only, forces loopback bind) or "static".
	Mode        string            `koanf:"mode"`
	GlobalKey   string            `koanf:"global_key"`
	TenantsFile string            `koanf:"tenants_file"`
	APIKeys     map[string]string `koanf:"api_keys"`
}

// VectorStoreConfig selects and locates the vector backend.
type VectorStoreConfig struct {
	Type    string `koanf:"type"`
	Backend string `koanf:"backend"`
	DataDir string `koanf:"data_dir"`
	Qdrant  QdrantConfig `koanf:"qdrant"`
}

// QdrantConfig holds connection settings for the qdrant backend.
type QdrantConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// EmbedderConfig selects the embedding provider.
type EmbedderConfig struct {
	Type     string `koanf:"type"`
	Model    string `koanf:"model"`
	CacheDir string `koanf:"cache_dir"`
}

// ChunkConfig holds preprocessor chunking parameters.
type ChunkConfig struct {
	TXT TXTChunkConfig `koanf:"txt"`
}

// TXTChunkConfig holds the sliding-window parameters for plain text.
type TXTChunkConfig struct {
	Size    int `koanf:"size"`
	Overlap int `koanf:"overlap"`
}

// LimitsConfig holds admission and payload limits.
type LimitsConfig struct {
	Search SearchLimits `koanf:"search"`
	Ingest IngestLimits `koanf:"ingest"`
	Tenant TenantLimits `koanf:"tenant"`
}

// SearchLimits caps concurrent searches and bounds their duration.
type SearchLimits struct {
	MaxConcurrent int `koanf:"max_concurrent"`
	TimeoutMS     int `koanf:"timeout_ms"`
	Overfetch     int `koanf:"overfetch"`
}

// IngestLimits caps concurrent ingests and payload size.
type IngestLimits struct {
	MaxConcurrent int   `koanf:"max_concurrent"`
	MaxBytes      int64 `koanf:"max_bytes"`
}

// TenantLimits caps per-tenant concurrency. Zero disables the cap.
type TenantLimits struct {
	MaxConcurrent int `koanf:"max_concurrent"`
}

// LogConfig holds operational and access log destinations.
// Each destination is empty/"null" (disabled), "stdout", or a file path.
type LogConfig struct {
	OpsLog    string `koanf:"ops_log"`
	AccessLog string `koanf:"access_log"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8086
	}
	if cfg.Server.Workers == 0 {
		cfg.Server.Workers = 1
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}

	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = "none"
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "embedded"
	}
	if cfg.VectorStore.Backend == "" {
		cfg.VectorStore.Backend = "chromem"
	}
	if cfg.VectorStore.DataDir == "" {
		cfg.VectorStore.DataDir = "./data"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "fastembed"
	}
	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = "BAAI/bge-small-en-v1.5"
	}

	if cfg.Chunk.TXT.Size == 0 {
		cfg.Chunk.TXT.Size = 800
	}
	if cfg.Chunk.TXT.Overlap == 0 {
		cfg.Chunk.TXT.Overlap = 120
	}

	if cfg.Limits.Search.MaxConcurrent == 0 {
		cfg.Limits.Search.MaxConcurrent = 64
	}
	if cfg.Limits.Search.TimeoutMS == 0 {
		cfg.Limits.Search.TimeoutMS = 5000
	}
	if cfg.Limits.Search.Overfetch == 0 {
		cfg.Limits.Search.Overfetch = 5
	}
	if cfg.Limits.Ingest.MaxConcurrent == 0 {
		cfg.Limits.Ingest.MaxConcurrent = 4
	}
	if cfg.Limits.Ingest.MaxBytes == 0 {
		cfg.Limits.Ingest.MaxBytes = 64 << 20 // 64 MiB
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	switch c.Auth.Mode {
	case "none", "static":
	default:
		return fmt.Errorf("unknown auth mode: %q (supported: none, static)", c.Auth.Mode)
	}
	if c.Auth.Mode == "static" && c.Auth.GlobalKey == "" && len(c.Auth.APIKeys) == 0 && c.Auth.TenantsFile == "" {
		return fmt.Errorf("auth.mode=static requires global_key, api_keys, or tenants_file")
	}

	switch c.VectorStore.Backend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unsupported vector backend: %q (supported: chromem, qdrant)", c.VectorStore.Backend)
	}

	switch c.Embedder.Type {
	case "fastembed", "hash":
	default:
		return fmt.Errorf("unsupported embedder type: %q (supported: fastembed, hash)", c.Embedder.Type)
	}

	if c.Chunk.TXT.Size <= 0 {
		return fmt.Errorf("chunk.txt.size must be positive, got %d", c.Chunk.TXT.Size)
	}
	if c.Chunk.TXT.Overlap < 0 || c.Chunk.TXT.Overlap >= c.Chunk.TXT.Size {
		return fmt.Errorf("chunk.txt.overlap must be in [0, size), got %d", c.Chunk.TXT.Overlap)
	}

	if c.Limits.Search.MaxConcurrent < 1 {
		return fmt.Errorf("limits.search.max_concurrent must be positive")
	}
	if c.Limits.Ingest.MaxConcurrent < 1 {
		return fmt.Errorf("limits.ingest.max_concurrent must be positive")
	}
	if c.Limits.Search.Overfetch < 1 {
		return fmt.Errorf("limits.search.overfetch must be positive")
	}

	return nil
}
