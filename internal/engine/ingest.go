package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowlexi/patchvec/internal/apperr"
	"github.com/flowlexi/patchvec/internal/backend"
	"github.com/flowlexi/patchvec/internal/metastore"
	"github.com/flowlexi/patchvec/internal/oplog"
	"github.com/flowlexi/patchvec/internal/preprocess"
)

// embedBatchSize bounds one embedder call during ingest.
const embedBatchSize = 64

// IngestResult reports a completed ingest.
type IngestResult struct {
	DocID     string  `json:"docid"`
	Chunks    int     `json:"chunks"`
	Version   int     `json:"version"`
	LatencyMS float64 `json:"latency_ms"`
}

// DeleteResult reports a document deletion.
type DeleteResult struct {
	ChunksDeleted int     `json:"chunks_deleted"`
	LatencyMS     float64 `json:"latency_ms"`
}

// IngestDocument preprocesses, embeds and indexes one document,
// atomically replacing any previous version of the same docid.
func (e *Engine) IngestDocument(ctx context.Context, tenant, name string, src preprocess.Source, docid string, metadata map[string]any) (*IngestResult, error) {
	start := time.Now()
	result, err := e.ingestDocument(ctx, tenant, name, src, docid, metadata)

	ev := oplog.Event{Op: "ingest", Tenant: tenant, Collection: name, DocID: docid}
	if result != nil {
		ev.DocID = result.DocID
		ev.Chunks = result.Chunks
	}
	e.emit(ev, start, err)

	if result != nil {
		result.LatencyMS = latencyMS(start)
	}
	return result, err
}

func (e *Engine) ingestDocument(ctx context.Context, tenant, name string, src preprocess.Source, docid string, metadata map[string]any) (*IngestResult, error) {
	release, err := e.admission.AcquireIngest(tenant)
	if err != nil {
		return nil, err
	}
	defer release()

	cfg := e.runtime.Config()
	if maxBytes := cfg.Limits.Ingest.MaxBytes; maxBytes > 0 && int64(len(src.Data)) > maxBytes {
		return nil, apperr.TooLarge("payload is %d bytes, limit is %d", len(src.Data), maxBytes)
	}

	c, err := e.getCollection(ctx, tenant, name)
	if err != nil {
		return nil, err
	}

	docid = resolveDocID(docid, src.Filename)

	size, overlap := e.runtime.TXTChunk()
	prep, err := preprocess.Process(docid, src, preprocess.Params{TXTSize: size, TXTOverlap: overlap})
	if err != nil {
		return nil, err
	}
	if len(prep.Chunks) == 0 {
		return nil, apperr.InvalidRequest("no text extracted from %s", src.Filename)
	}

	docMeta := mergeDocMeta(prep.DocMeta, metadata)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.available(); err != nil {
		return nil, err
	}
	c.state.Store(stateWriting)
	defer c.state.Store(stateReady)

	// Purge the previous version's chunks from backend and sidecar. The
	// metadata rows are replaced below in the same transaction that
	// bumps the version counter.
	oldRIDs, err := c.meta.GetRIDs(ctx, docid)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if len(oldRIDs) > 0 {
		if err := c.backend.Delete(ctx, oldRIDs); err != nil {
			return nil, apperr.Internal(err)
		}
		if err := c.sidecar.Delete(oldRIDs); err != nil {
			return nil, apperr.Internal(err)
		}
	}

	rows, err := e.embedChunks(ctx, c, docMeta, prep.Chunks)
	if err != nil {
		// Ingest does not retry embedding failures.
		return nil, err
	}

	newRIDs := make([]string, len(rows))
	for i, row := range rows {
		newRIDs[i] = row.RID
	}

	if err := c.backend.Upsert(ctx, rows); err != nil {
		return nil, apperr.Internal(err)
	}

	chunkMetas := make([]metastore.ChunkMeta, len(prep.Chunks))
	for i, chunk := range prep.Chunks {
		chunkMetas[i] = metastore.ChunkMeta{RID: chunk.RID, Ordinal: i + 1, Meta: chunk.Meta}
	}
	version, err := c.meta.UpsertChunks(ctx, docid, chunkMetas, docMeta)
	if err != nil {
		// The backend upsert landed but metadata did not: roll the
		// backend back before releasing the lock so the substores stay
		// in agreement.
		if rbErr := c.backend.Delete(ctx, newRIDs); rbErr != nil {
			e.logger.Error("rollback of backend upsert failed",
				zap.String("tenant", tenant),
				zap.String("collection", name),
				zap.String("docid", docid),
				zap.Error(rbErr),
			)
		}
		return nil, apperr.Internal(err)
	}

	for _, chunk := range prep.Chunks {
		if err := c.sidecar.Write(chunk.RID, chunk.Text); err != nil {
			return nil, apperr.Internal(err)
		}
	}

	if err := c.backend.Save(ctx); err != nil {
		return nil, apperr.Internal(err)
	}

	e.logger.Debug("document ingested",
		zap.String("tenant", tenant),
		zap.String("collection", name),
		zap.String("docid", docid),
		zap.Int("chunks", len(prep.Chunks)),
		zap.Int("version", version),
	)

	return &IngestResult{DocID: docid, Chunks: len(prep.Chunks), Version: version}, nil
}

// embedChunks embeds chunk texts in batches and builds backend rows.
// Chunks with empty text keep their metadata and sidecar slot but are
// not indexed: a blank page has nothing to match and its zero-ish
// vector would only distort ranking.
func (e *Engine) embedChunks(ctx context.Context, c *Collection, docMeta map[string]any, chunks []preprocess.Chunk) ([]backend.Row, error) {
	indexable := make([]preprocess.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk.Text) != "" {
			indexable = append(indexable, chunk)
		}
	}

	embedder := e.embedderFor(c.tenant, c.name)
	rows := make([]backend.Row, 0, len(indexable))
	for batchStart := 0; batchStart < len(indexable); batchStart += embedBatchSize {
		batch := indexable[batchStart:min(batchStart+embedBatchSize, len(indexable))]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		vectors, err := embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err, "embedding chunk batch")
		}
		if len(vectors) != len(batch) {
			return nil, apperr.Internal(fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch)))
		}

		for i, chunk := range batch {
			rows = append(rows, backend.Row{
				RID:    chunk.RID,
				Vector: vectors[i],
				Fields: indexedFields(docMeta, chunk.Meta),
				Text:   chunk.Text,
			})
		}
	}
	return rows, nil
}

// indexedFields denormalises document and chunk metadata into the
// backend row used for pre-filtering. Chunk fields win on collision.
func indexedFields(docMeta, chunkMeta map[string]any) map[string]string {
	fields := make(map[string]string, len(docMeta)+len(chunkMeta))
	for k, v := range docMeta {
		fields[k] = metaString(v)
	}
	for k, v := range chunkMeta {
		fields[k] = metaString(v)
	}
	return fields
}

func metaString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return fmt.Sprintf("%t", val)
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// mergeDocMeta layers caller-supplied metadata over the preprocessor's
// document fields (filename, content_type). Caller fields win.
func mergeDocMeta(docMeta, callerMeta map[string]any) map[string]any {
	merged := make(map[string]any, len(docMeta)+len(callerMeta))
	for k, v := range docMeta {
		merged[k] = v
	}
	for k, v := range callerMeta {
		merged[k] = v
	}
	return merged
}

// resolveDocID picks the document id: explicit, filename-derived, or a
// generated UUID.
func resolveDocID(docid, filename string) string {
	if docid != "" {
		return docid
	}
	if filename != "" {
		base := filepath.Base(filename)
		base = strings.TrimSuffix(base, filepath.Ext(base))
		cleaned := strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				return r
			case r == '-' || r == '_' || r == '.':
				return r
			default:
				return '-'
			}
		}, base)
		cleaned = strings.Trim(cleaned, "-.")
		if cleaned != "" {
			return cleaned
		}
	}
	return uuid.NewString()
}

// DeleteDocument removes a document's chunks from all three substores.
// Idempotent: a missing docid reports zero chunks deleted.
func (e *Engine) DeleteDocument(ctx context.Context, tenant, name, docid string) (*DeleteResult, error) {
	start := time.Now()
	result, err := e.deleteDocument(ctx, tenant, name, docid)

	ev := oplog.Event{Op: "delete_doc", Tenant: tenant, Collection: name, DocID: docid}
	if result != nil {
		ev.Chunks = result.ChunksDeleted
	}
	e.emit(ev, start, err)

	if result != nil {
		result.LatencyMS = latencyMS(start)
	}
	return result, err
}

func (e *Engine) deleteDocument(ctx context.Context, tenant, name, docid string) (*DeleteResult, error) {
	if docid == "" {
		return nil, apperr.InvalidRequest("docid is required")
	}

	c, err := e.getCollection(ctx, tenant, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.available(); err != nil {
		return nil, err
	}
	c.state.Store(stateWriting)
	defer c.state.Store(stateReady)

	rids, err := c.meta.DeleteDoc(ctx, docid)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if len(rids) == 0 {
		return &DeleteResult{ChunksDeleted: 0}, nil
	}

	if err := c.backend.Delete(ctx, rids); err != nil {
		return nil, apperr.Internal(err)
	}
	if err := c.sidecar.Delete(rids); err != nil {
		return nil, apperr.Internal(err)
	}
	if err := c.backend.Save(ctx); err != nil {
		return nil, apperr.Internal(err)
	}

	return &DeleteResult{ChunksDeleted: len(rids)}, nil
}
