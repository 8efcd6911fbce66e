// Package embeddings provides embedding generation via multiple providers.
//
// The engine consumes embedders through the narrow Embedder interface;
// the model itself is a collaborator and never leaks past it.
package embeddings

import (
	"context"
	"errors"
)

// Sentinel errors for embedding operations.
var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embedder configuration")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty input")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")
)

// Embedder generates dense vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	// Returns one embedding per input text, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	// Some models optimize differently for queries vs documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Fingerprint identifies the model. Collections record it at
	// creation time; opening a collection with a different fingerprint
	// fails.
	Fingerprint() string

	// Close releases resources held by the provider.
	Close() error
}
