package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlexi/patchvec/internal/apperr"
	"github.com/flowlexi/patchvec/internal/config"
)

// seedBilingual ingests two documents with distinct language metadata.
func seedBilingual(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.CreateCollection(ctx, "t", "c"))

	_, err := e.IngestDocument(ctx, "t", "c",
		txtSrc("a.txt", strings.Repeat("water flows through the english river ", 60)),
		"A", map[string]any{"lang": "en"})
	require.NoError(t, err)

	_, err = e.IngestDocument(ctx, "t", "c",
		txtSrc("b.txt", strings.Repeat("water runs down the portuguese valley ", 60)),
		"B", map[string]any{"lang": "pt"})
	require.NoError(t, err)
}

func TestSearchPreFilterEquality(t *testing.T) {
	e := newTestEngine(t)
	seedBilingual(t, e)

	sr, err := e.Search(context.Background(), "t", "c", SearchRequest{
		Query: "water", K: 10, Filters: map[string]any{"lang": "en"},
	})
	require.NoError(t, err)

	require.NotEmpty(t, sr.Matches)
	for _, m := range sr.Matches {
		assert.Equal(t, "A", m.DocID)
		assert.Equal(t, "en", m.Meta["lang"])
		assert.Contains(t, m.MatchReason, "lang=en")
	}
}

func TestSearchPreFilterNegation(t *testing.T) {
	e := newTestEngine(t)
	seedBilingual(t, e)

	sr, err := e.Search(context.Background(), "t", "c", SearchRequest{
		Query: "water", K: 10, Filters: map[string]any{"lang": "!en"},
	})
	require.NoError(t, err)

	require.NotEmpty(t, sr.Matches)
	for _, m := range sr.Matches {
		assert.Equal(t, "B", m.DocID)
	}
}

func TestSearchPostFilterComparison(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateCollection(ctx, "t", "c"))

	// Enough text for several chunks, so the chunk ordinal can be
	// compared numerically through the post-filter path.
	_, err := e.IngestDocument(ctx, "t", "c",
		txtSrc("d.txt", strings.Repeat("repeated passage about rivers and tides ", 100)),
		"D", nil)
	require.NoError(t, err)

	sr, err := e.Search(ctx, "t", "c", SearchRequest{
		Query: "rivers and tides", K: 10, Filters: map[string]any{"chunk": ">2"},
	})
	require.NoError(t, err)

	require.NotEmpty(t, sr.Matches)
	for _, m := range sr.Matches {
		chunk, ok := m.Meta["chunk"].(float64)
		require.True(t, ok)
		assert.Greater(t, chunk, 2.0)
	}
}

func TestSearchFilterChainIsSubset(t *testing.T) {
	e := newTestEngine(t)
	seedBilingual(t, e)
	ctx := context.Background()

	unfiltered, err := e.Search(ctx, "t", "c", SearchRequest{Query: "water", K: 50})
	require.NoError(t, err)
	filtered, err := e.Search(ctx, "t", "c", SearchRequest{
		Query: "water", K: 50, Filters: map[string]any{"lang": "en"},
	})
	require.NoError(t, err)

	all := make(map[string]bool)
	for _, m := range unfiltered.Matches {
		all[m.ID] = true
	}
	for _, m := range filtered.Matches {
		assert.True(t, all[m.ID], "filtered hit %s not in unfiltered result", m.ID)
	}
	assert.Less(t, len(filtered.Matches), len(unfiltered.Matches))
}

func TestSearchTieBreakAscendingRID(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateCollection(ctx, "t", "c"))

	// Identical chunk texts produce identical vectors, hence equal
	// scores; order must fall back to ascending rid.
	text := strings.Repeat("same words in every chunk ", 23)[:598] // single window per doc
	_, err := e.IngestDocument(ctx, "t", "c", txtSrc("z.txt", text), "zdoc", nil)
	require.NoError(t, err)
	_, err = e.IngestDocument(ctx, "t", "c", txtSrc("a.txt", text), "adoc", nil)
	require.NoError(t, err)

	sr, err := e.Search(ctx, "t", "c", SearchRequest{Query: "same words", K: 2})
	require.NoError(t, err)

	require.Len(t, sr.Matches, 2)
	assert.Equal(t, sr.Matches[0].Score, sr.Matches[1].Score)
	assert.Equal(t, "adoc::1", sr.Matches[0].ID)
	assert.Equal(t, "zdoc::1", sr.Matches[1].ID)
}

func TestSearchInvalidFilterRejected(t *testing.T) {
	e := newTestEngine(t)
	seedBilingual(t, e)

	_, err := e.Search(context.Background(), "t", "c", SearchRequest{
		Query: "water", K: 3, Filters: map[string]any{"lang = 'en' OR 1=1 --": "x"},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidFilter, apperr.CodeOf(err))
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	e := newTestEngine(t)
	seedBilingual(t, e)

	_, err := e.Search(context.Background(), "t", "c", SearchRequest{Query: "  ", K: 3})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
}

func TestSearchMissingCollection(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Search(context.Background(), "t", "ghost", SearchRequest{Query: "x", K: 1})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestSearchRequestIDEchoed(t *testing.T) {
	e := newTestEngine(t)
	seedBilingual(t, e)

	sr, err := e.Search(context.Background(), "t", "c", SearchRequest{
		Query: "water", K: 1, RequestID: "req-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "req-42", sr.RequestID)
}

func TestConcurrentSearchesDuringIngest(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateCollection(ctx, "t", "c"))

	_, err := e.IngestDocument(ctx, "t", "c",
		txtSrc("base.txt", strings.Repeat("baseline searchable content ", 100)), "base", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 32)

	// Writer: repeatedly replace a large document.
	wg.Add(1)
	go func() {
		defer wg.Done()
		big := strings.Repeat("incoming document body with plenty of text ", 2000)
		for i := 0; i < 3; i++ {
			if _, err := e.IngestDocument(ctx, "t", "c", txtSrc("big.txt", big), "big", nil); err != nil {
				errs <- err
			}
		}
	}()

	// 16 concurrent searches while the ingest runs.
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sr, err := e.Search(ctx, "t", "c", SearchRequest{Query: "searchable content", K: 5})
			if err != nil {
				if apperr.CodeOf(err) != apperr.CodeOverloaded {
					errs <- err
				}
				return
			}
			// Any hit from the ingesting docid must be fully hydrated.
			for _, m := range sr.Matches {
				if m.DocID == "big" && len(m.Meta) == 0 {
					errs <- assert.AnError
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}
}

func TestOverloadShedding(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) { c.Limits.Search.MaxConcurrent = 1 })
	seedBilingual(t, e)

	var wg sync.WaitGroup
	var overloaded, succeeded int
	var mu sync.Mutex

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Search(context.Background(), "t", "c", SearchRequest{Query: "water", K: 3})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperr.CodeOf(err) == apperr.CodeOverloaded:
				overloaded++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, succeeded, 1)
	assert.Equal(t, 8, succeeded+overloaded)
}

func TestSearchTimeoutWithNoCandidates(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) { c.Limits.Search.TimeoutMS = 1 })
	ctx := context.Background()
	require.NoError(t, e.CreateCollection(ctx, "t", "c"))

	_, err := e.IngestDocument(ctx, "t", "c",
		txtSrc("d.txt", strings.Repeat("plenty of text to rank ", 500)), "D", nil)
	require.NoError(t, err)

	// A 1ms budget is gone before the backend call finishes; either the
	// engine reports timeout or, if the race is won, a normal result.
	sr, err := e.Search(ctx, "t", "c", SearchRequest{Query: "text to rank", K: 3})
	if err != nil {
		assert.Equal(t, apperr.CodeTimeout, apperr.CodeOf(err))
	} else {
		assert.NotNil(t, sr)
	}
}

func TestMatchReason(t *testing.T) {
	reason := matchReason([]string{"lang=en"}, "Captain Nemo!", "captain nemo commands the nautilus")
	assert.Equal(t, "matched filter lang=en; query tokens: captain, nemo", reason)

	// Deterministic per query.
	again := matchReason([]string{"lang=en"}, "Captain Nemo!", "captain nemo commands the nautilus")
	assert.Equal(t, reason, again)

	assert.Equal(t, "semantic match",
		matchReason(nil, "unrelated words", "completely different text"))
}
