package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// hashDimension is the vector size of the hash provider.
const hashDimension = 256

// HashProvider is a deterministic, dependency-free embedder: tokens are
// hashed into a fixed number of buckets and the resulting term-frequency
// vector is L2-normalised. Texts sharing tokens land near each other
// under cosine similarity, which is enough for development setups and
// for exercising the retrieval pipeline in tests. Not a semantic model.
type HashProvider struct{}

// NewHashProvider creates a deterministic local embedder.
func NewHashProvider() *HashProvider {
	return &HashProvider{}
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = embedHash(text)
	}
	return out, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return embedHash(text), nil
}

// Dimension returns the embedding dimension.
func (p *HashProvider) Dimension() int { return hashDimension }

// Fingerprint identifies the hash embedder.
func (p *HashProvider) Fingerprint() string { return "hash:fnv1a-256" }

// Close is a no-op.
func (p *HashProvider) Close() error { return nil }

func embedHash(text string) []float32 {
	vec := make([]float32, hashDimension)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[h.Sum32()%hashDimension]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

var _ Embedder = (*HashProvider)(nil)
