package backend

import (
	"context"
	"fmt"
	"sort"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/flowlexi/patchvec/internal/filterplan"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("patchvec.backend.chromem")

// chunkCollection is the single chromem collection inside a
// per-patchvec-collection database directory.
const chunkCollection = "chunks"

// ChromemBackend implements Backend using chromem-go.
//
// chromem-go is an embeddable vector database with no external service
// dependency; each patchvec collection gets its own persistent DB
// directory. Chunk text is stored as document content, so search hits
// usually carry payload text.
type ChromemBackend struct {
	dir    string
	db     *chromem.DB
	dim    int
	logger *zap.Logger
}

// NewChromemBackend creates a backend rooted at the given index
// directory. Configure must be called before any other operation.
func NewChromemBackend(dir string, logger *zap.Logger) *ChromemBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromemBackend{dir: dir, logger: logger}
}

// embeddingFunc satisfies chromem's interface requirement. Embeddings
// are always supplied explicitly, so this must never run; returning an
// error (rather than passing nil) keeps chromem from substituting its
// OpenAI default on persisted collections.
func embeddingFunc(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings are computed upstream")
}

// Configure creates or opens the persistent index.
func (b *ChromemBackend) Configure(ctx context.Context, dim int, fingerprint string) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if err := checkFingerprint(b.dir, fingerprint); err != nil {
		return err
	}

	db, err := chromem.NewPersistentDB(b.dir, false)
	if err != nil {
		return fmt.Errorf("opening chromem DB: %w", err)
	}
	if _, err := db.GetOrCreateCollection(chunkCollection, nil, embeddingFunc); err != nil {
		return fmt.Errorf("opening chunk collection: %w", err)
	}

	b.db = db
	b.dim = dim

	b.logger.Debug("chromem backend configured",
		zap.String("dir", b.dir),
		zap.Int("dim", dim),
	)
	return nil
}

func (b *ChromemBackend) collection() (*chromem.Collection, error) {
	if b.db == nil {
		return nil, fmt.Errorf("%w: backend not configured", ErrInvalidConfig)
	}
	c := b.db.GetCollection(chunkCollection, embeddingFunc)
	if c == nil {
		return nil, fmt.Errorf("chunk collection missing")
	}
	return c, nil
}

// Upsert writes vectors, indexed fields and chunk text.
func (b *ChromemBackend) Upsert(ctx context.Context, rows []Row) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("row_count", len(rows)))

	if len(rows) == 0 {
		return nil
	}

	collection, err := b.collection()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(rows))
	for i, row := range rows {
		if len(row.Vector) != b.dim {
			return fmt.Errorf("%w: row %s has %d dims, index has %d", ErrDimensionMismatch, row.RID, len(row.Vector), b.dim)
		}
		docs[i] = chromem.Document{
			ID:        row.RID,
			Content:   row.Text,
			Metadata:  row.Fields,
			Embedding: row.Vector,
		}
	}

	// Concurrency 1: embeddings are precomputed, nothing to parallelise.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Delete removes vectors and index rows by rid.
func (b *ChromemBackend) Delete(ctx context.Context, rids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.Delete")
	defer span.End()
	span.SetAttributes(attribute.Int("rid_count", len(rids)))

	if len(rids) == 0 {
		return nil
	}

	collection, err := b.collection()
	if err != nil {
		return err
	}

	if err := collection.Delete(ctx, nil, nil, rids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search runs pre-filtered k-NN over the index. Equality and
// not-equality clauses are applied against the indexed field rows; the
// planner never routes other operators here.
func (b *ChromemBackend) Search(ctx context.Context, vector []float32, k int, pre *filterplan.PreFilter) ([]Candidate, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) != b.dim {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", ErrDimensionMismatch, len(vector), b.dim)
	}

	collection, err := b.collection()
	if err != nil {
		return nil, err
	}

	count := collection.Count()
	if count == 0 {
		return []Candidate{}, nil
	}

	// chromem caps nResults at the document count. With a pre-filter we
	// rank everything and cut after filtering so the caller still gets
	// up to k matching rows.
	fetch := k
	if !pre.Empty() || fetch > count {
		fetch = count
	}

	results, err := collection.QueryEmbedding(ctx, vector, fetch, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying index: %w", err)
	}

	candidates := make([]Candidate, 0, min(k, len(results)))
	for _, r := range results {
		if !preMatches(pre, r.Metadata) {
			continue
		}
		candidates = append(candidates, Candidate{
			RID:     r.ID,
			Score:   r.Similarity,
			Text:    r.Content,
			HasText: r.Content != "",
		})
		if len(candidates) == k {
			break
		}
	}

	// chromem orders by similarity but leaves ties unordered; pin the
	// deterministic ascending-rid tie-break here.
	sortCandidates(candidates)

	span.SetAttributes(attribute.Int("results_count", len(candidates)))
	span.SetStatus(codes.Ok, "success")
	return candidates, nil
}

// preMatches applies the equality clause row filter.
func preMatches(pre *filterplan.PreFilter, fields map[string]string) bool {
	if pre.Empty() {
		return true
	}
	for _, c := range pre.Clauses {
		value, ok := fields[c.Field]
		switch c.Spec.Op {
		case filterplan.OpEq:
			if !ok || value != c.Spec.Str {
				return false
			}
		case filterplan.OpNotEq:
			// SQL NULL semantics: a row without the field never matches.
			if !ok || value == c.Spec.Str {
				return false
			}
		default:
			// Planner contract violation; fail closed.
			return false
		}
	}
	return true
}

// Save is a no-op: chromem persists every write immediately.
func (b *ChromemBackend) Save(ctx context.Context) error { return nil }

// Load is a no-op: the persistent DB is loaded at Configure.
func (b *ChromemBackend) Load(ctx context.Context) error { return nil }

// Capabilities reports native equality and not-equality support.
func (b *ChromemBackend) Capabilities() filterplan.Capabilities {
	return filterplan.Capabilities{Ops: map[filterplan.Op]bool{
		filterplan.OpEq:    true,
		filterplan.OpNotEq: true,
	}}
}

// Close releases the in-memory handle; index files stay on disk.
func (b *ChromemBackend) Close() error {
	b.db = nil
	return nil
}

// sortCandidates orders by descending score, then ascending rid. Shared
// by implementations whose store does not guarantee a total order.
func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].RID < cands[j].RID
	})
}

var _ Backend = (*ChromemBackend)(nil)
