package embeddings

import (
	"fmt"
)

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Type is the provider type: "fastembed" or "hash".
	Type string
	// Model is the embedding model name (fastembed only).
	Model string
	// CacheDir is the model cache directory (fastembed only).
	CacheDir string
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig) (Embedder, error) {
	switch cfg.Type {
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "hash":
		return NewHashProvider(), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Type)
	}
}
