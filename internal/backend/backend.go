// Package backend wraps the embedded ANN index behind the narrow
// adapter interface the engine depends on.
//
// A Backend instance owns the numeric index of exactly one collection.
// The engine treats it as opaque: any implementation providing
// attribute-filtered k-NN search on an embedded or remote index
// satisfies the interface.
package backend

import (
	"context"
	"errors"

	"github.com/flowlexi/patchvec/internal/filterplan"
)

// Sentinel errors for backend operations.
var (
	// ErrModelMismatch is returned when an index created with one
	// embedding fingerprint is opened with another.
	ErrModelMismatch = errors.New("embedding model fingerprint mismatch")

	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid backend configuration")

	// ErrDimensionMismatch indicates a vector of the wrong size.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Row is one chunk to index: its identifier, dense vector, the
// denormalised fields available for pre-filtering, and the chunk text
// stored as payload.
type Row struct {
	RID    string
	Vector []float32
	Fields map[string]string
	Text   string
}

// Candidate is one k-NN result. Text is populated when the backend
// stores payloads; callers fall back to the sidecar otherwise.
type Candidate struct {
	RID     string
	Score   float32
	Text    string
	HasText bool
}

// Backend is the vector index adapter owned by a single collection.
type Backend interface {
	// Configure creates or opens the on-disk index. Fails with
	// ErrModelMismatch if the stored fingerprint differs.
	Configure(ctx context.Context, dim int, fingerprint string) error

	// Upsert writes vectors and their indexed fields. Atomic within the
	// call.
	Upsert(ctx context.Context, rows []Row) error

	// Delete removes vectors and index rows. Atomic.
	Delete(ctx context.Context, rids []string) error

	// Search returns up to k rows matching the pre-filter, ranked by
	// similarity (higher score = better).
	Search(ctx context.Context, vector []float32, k int, pre *filterplan.PreFilter) ([]Candidate, error)

	// Save flushes a durable snapshot.
	Save(ctx context.Context) error

	// Load restores from the durable snapshot.
	Load(ctx context.Context) error

	// Capabilities reports the pre-filter operators this backend
	// evaluates natively; the planner routes everything else to the
	// post-filter.
	Capabilities() filterplan.Capabilities

	// Close releases resources. The index stays on disk.
	Close() error
}
