package backend

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/flowlexi/patchvec/internal/filterplan"
)

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("patchvec.backend.qdrant")

// ridNamespace derives deterministic point UUIDs from rids, since qdrant
// point ids must be UUIDs or unsigned integers.
var ridNamespace = uuid.MustParse("9a7312d2-4e1f-4c6e-9d35-5b2f6c7b9a01")

// QdrantConfig holds connection settings for a qdrant-backed collection.
type QdrantConfig struct {
	Host string
	Port int

	// Collection is the qdrant collection name owned by this backend
	// instance.
	Collection string

	// Dir is the local collection directory; the fingerprint marker
	// lives there since qdrant has no per-collection metadata slot.
	Dir string
}

// QdrantBackend implements Backend against an external qdrant server.
type QdrantBackend struct {
	config QdrantConfig
	client *qdrant.Client
	dim    int
	logger *zap.Logger
}

// NewQdrantBackend creates a backend for one qdrant collection.
// Configure must be called before any other operation.
func NewQdrantBackend(config QdrantConfig, logger *zap.Logger) (*QdrantBackend, error) {
	if config.Collection == "" {
		return nil, fmt.Errorf("%w: collection name is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: config.Host,
		Port: config.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	return &QdrantBackend{
		config: config,
		client: client,
		logger: logger,
	}, nil
}

// Configure ensures the qdrant collection exists with the right vector
// size and verifies the local fingerprint marker.
func (b *QdrantBackend) Configure(ctx context.Context, dim int, fingerprint string) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if err := checkFingerprint(b.config.Dir, fingerprint); err != nil {
		return err
	}

	exists, err := b.client.CollectionExists(ctx, b.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if !exists {
		err := b.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: b.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}
	}

	b.dim = dim
	b.logger.Debug("qdrant backend configured",
		zap.String("collection", b.config.Collection),
		zap.Int("dim", dim),
	)
	return nil
}

// Upsert writes vectors with rid, text and indexed fields as payload.
func (b *QdrantBackend) Upsert(ctx context.Context, rows []Row) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("row_count", len(rows)))

	if len(rows) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(rows))
	for i, row := range rows {
		if len(row.Vector) != b.dim {
			return fmt.Errorf("%w: row %s has %d dims, index has %d", ErrDimensionMismatch, row.RID, len(row.Vector), b.dim)
		}

		payload := map[string]any{
			"rid":  row.RID,
			"text": row.Text,
		}
		for k, v := range row.Fields {
			payload[k] = v
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewSHA1(ridNamespace, []byte(row.RID)).String()),
			Vectors: qdrant.NewVectors(row.Vector...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	wait := true
	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: b.config.Collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Delete removes the points whose ids are derived from the given rids.
func (b *QdrantBackend) Delete(ctx context.Context, rids []string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.Delete")
	defer span.End()
	span.SetAttributes(attribute.Int("rid_count", len(rids)))

	if len(rids) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, len(rids))
	for i, rid := range rids {
		ids[i] = qdrant.NewIDUUID(uuid.NewSHA1(ridNamespace, []byte(rid)).String())
	}

	wait := true
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: b.config.Collection,
		Points:         qdrant.NewPointsSelector(ids...),
		Wait:           &wait,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search runs pre-filtered k-NN through qdrant's payload filter.
func (b *QdrantBackend) Search(ctx context.Context, vector []float32, k int, pre *filterplan.PreFilter) ([]Candidate, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) != b.dim {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", ErrDimensionMismatch, len(vector), b.dim)
	}

	filter := buildQdrantFilter(pre)
	limit := uint64(k)
	points, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: b.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying qdrant: %w", err)
	}

	candidates := make([]Candidate, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		rid := payload["rid"].GetStringValue()
		if rid == "" {
			continue
		}
		text := payload["text"].GetStringValue()
		candidates = append(candidates, Candidate{
			RID:     rid,
			Score:   p.GetScore(),
			Text:    text,
			HasText: text != "",
		})
	}

	sortCandidates(candidates)

	span.SetAttributes(attribute.Int("results_count", len(candidates)))
	span.SetStatus(codes.Ok, "success")
	return candidates, nil
}

// buildQdrantFilter maps the planner's clause list onto qdrant
// conditions: equality into Must, not-equality into MustNot. A
// not-equality also excludes points that lack the field.
func buildQdrantFilter(pre *filterplan.PreFilter) *qdrant.Filter {
	if pre.Empty() {
		return nil
	}
	filter := &qdrant.Filter{}
	for _, c := range pre.Clauses {
		condition := qdrant.NewMatch(c.Field, c.Spec.Str)
		switch c.Spec.Op {
		case filterplan.OpEq:
			filter.Must = append(filter.Must, condition)
		case filterplan.OpNotEq:
			filter.MustNot = append(filter.MustNot, condition, qdrant.NewIsEmpty(c.Field))
		}
	}
	return filter
}

// Save is a no-op: qdrant owns durability server-side.
func (b *QdrantBackend) Save(ctx context.Context) error { return nil }

// Load is a no-op: qdrant owns durability server-side.
func (b *QdrantBackend) Load(ctx context.Context) error { return nil }

// Capabilities reports native equality and not-equality support.
func (b *QdrantBackend) Capabilities() filterplan.Capabilities {
	return filterplan.Capabilities{Ops: map[filterplan.Op]bool{
		filterplan.OpEq:    true,
		filterplan.OpNotEq: true,
	}}
}

// Close closes the gRPC connection.
func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

var _ Backend = (*QdrantBackend)(nil)
