package backend

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// FactoryConfig selects and parameterises the backend implementation.
type FactoryConfig struct {
	// Provider is "chromem" (default, embedded) or "qdrant" (external).
	Provider string

	// QdrantHost and QdrantPort locate the qdrant server.
	QdrantHost string
	QdrantPort int
}

// New creates the Backend for one collection.
//
// dir is the collection's index directory (the backend owns it);
// backendCollection is the sanitised global collection name used by
// server-side providers.
func New(cfg FactoryConfig, dir, backendCollection string, logger *zap.Logger) (Backend, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemBackend(filepath.Join(dir, "index"), logger), nil

	case "qdrant":
		return NewQdrantBackend(QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			Collection: backendCollection,
			Dir:        filepath.Join(dir, "index"),
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
