package metastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlexi/patchvec/internal/apperr"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func chunksFor(docid string, n int) []ChunkMeta {
	chunks := make([]ChunkMeta, n)
	for i := range chunks {
		chunks[i] = ChunkMeta{
			RID:     fmt.Sprintf("%s::%d", docid, i+1),
			Ordinal: i + 1,
			Meta:    map[string]any{"chunk": i + 1},
		}
	}
	return chunks
}

func TestUpsertAndVersioning(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	v, err := s.UpsertChunks(ctx, "doc", chunksFor("doc", 3), map[string]any{"lang": "en"})
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = s.UpsertChunks(ctx, "doc", chunksFor("doc", 5), map[string]any{"lang": "en"})
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	got, err := s.GetDocVersion(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	// Absent document reports version 0.
	got, err = s.GetDocVersion(ctx, "nope")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestReingestReplacesChunkSet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.UpsertChunks(ctx, "doc", chunksFor("doc", 10), nil)
	require.NoError(t, err)

	_, err = s.UpsertChunks(ctx, "doc", chunksFor("doc", 4), nil)
	require.NoError(t, err)

	rids, err := s.GetRIDs(ctx, "doc")
	require.NoError(t, err)
	assert.Len(t, rids, 4)

	// No stale rid from the first version survives.
	meta, err := s.GetMetaBatch(ctx, []string{"doc::7"})
	require.NoError(t, err)
	assert.Empty(t, meta)
}

func TestGetRIDsOrderedByOrdinal(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	chunks := []ChunkMeta{
		{RID: "d::3", Ordinal: 3},
		{RID: "d::1", Ordinal: 1},
		{RID: "d::2", Ordinal: 2},
	}
	_, err := s.UpsertChunks(ctx, "d", chunks, nil)
	require.NoError(t, err)

	rids, err := s.GetRIDs(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"d::1", "d::2", "d::3"}, rids)
}

func TestDeleteDoc(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.UpsertChunks(ctx, "doc", chunksFor("doc", 3), nil)
	require.NoError(t, err)

	rids, err := s.DeleteDoc(ctx, "doc")
	require.NoError(t, err)
	assert.Len(t, rids, 3)

	has, err := s.HasDoc(ctx, "doc")
	require.NoError(t, err)
	assert.False(t, has)

	// Chunks cascade with the document.
	remaining, err := s.GetRIDs(ctx, "doc")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// Idempotent: second delete returns no rids, no error.
	rids, err = s.DeleteDoc(ctx, "doc")
	require.NoError(t, err)
	assert.Empty(t, rids)
}

func TestGetMetaBatchJoinsDocMeta(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	chunks := []ChunkMeta{
		{RID: "d::1", Ordinal: 1, Meta: map[string]any{"page": 1}},
		{RID: "d::2", Ordinal: 2, Meta: map[string]any{"page": 2}},
	}
	_, err := s.UpsertChunks(ctx, "d", chunks, map[string]any{"lang": "en", "filename": "d.pdf"})
	require.NoError(t, err)

	metas, err := s.GetMetaBatch(ctx, []string{"d::1", "d::2", "ghost::1"})
	require.NoError(t, err)

	require.Len(t, metas, 2)
	assert.Equal(t, "en", metas["d::1"]["lang"])
	assert.Equal(t, "d.pdf", metas["d::1"]["filename"])
	assert.Equal(t, float64(1), metas["d::1"]["page"])
	assert.Equal(t, float64(2), metas["d::2"]["page"])
	assert.Equal(t, "d", metas["d::1"]["docid"])
}

func TestChunkMetaWinsOverDocMeta(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	chunks := []ChunkMeta{{RID: "d::1", Ordinal: 1, Meta: map[string]any{"lang": "pt"}}}
	_, err := s.UpsertChunks(ctx, "d", chunks, map[string]any{"lang": "en"})
	require.NoError(t, err)

	metas, err := s.GetMetaBatch(ctx, []string{"d::1"})
	require.NoError(t, err)
	assert.Equal(t, "pt", metas["d::1"]["lang"])
}

func TestLegacyLayoutDetection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.json"), []byte("{}"), 0600))

	_, err := Open(dir)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeLegacyMetadata, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "re-ingest")
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.UpsertChunks(ctx, "base", chunksFor("base", 5), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 32)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 8; i++ {
			docid := fmt.Sprintf("doc-%d", i)
			if _, err := s.UpsertChunks(ctx, docid, chunksFor(docid, 20), nil); err != nil {
				errs <- err
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := s.GetMetaBatch(ctx, []string{"base::1", "base::2"}); err != nil {
					errs <- err
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent access error: %v", err)
	}
}

func TestUpsertAtomicVisibility(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	// A reader sees either all chunks of a doc or none.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			_, _ = s.UpsertChunks(ctx, "flap", chunksFor("flap", 7), nil)
			_, _ = s.DeleteDoc(ctx, "flap")
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		rids, err := s.GetRIDs(ctx, "flap")
		require.NoError(t, err)
		if len(rids) != 0 && len(rids) != 7 {
			t.Fatalf("observed partial chunk set: %d rids", len(rids))
		}
	}
}
