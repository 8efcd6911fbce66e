package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/flowlexi/patchvec/internal/apperr"
	"github.com/flowlexi/patchvec/internal/backend"
	"github.com/flowlexi/patchvec/internal/filterplan"
	"github.com/flowlexi/patchvec/internal/metrics"
	"github.com/flowlexi/patchvec/internal/oplog"
)

// SearchRequest is one search invocation.
type SearchRequest struct {
	Query     string
	K         int
	Filters   map[string]any
	RequestID string
}

// Match is one search hit with provenance.
type Match struct {
	ID          string         `json:"id"`
	Score       float64        `json:"score"`
	Text        string         `json:"text"`
	Meta        map[string]any `json:"meta"`
	MatchReason string         `json:"match_reason"`
	DocID       string         `json:"docid"`
	Page        *int           `json:"page,omitempty"`
	Offset      *int           `json:"offset,omitempty"`
}

// SearchResult is the search response payload.
type SearchResult struct {
	Matches   []Match `json:"matches"`
	LatencyMS float64 `json:"latency_ms"`
	RequestID string  `json:"request_id,omitempty"`
	Truncated bool    `json:"truncated"`
}

// Search runs the retrieval pipeline: plan filters, embed the query,
// pre-filtered k-NN under the collection lock, hydrate and post-filter
// outside it, rank, and attach text and provenance.
func (e *Engine) Search(ctx context.Context, tenant, name string, req SearchRequest) (*SearchResult, error) {
	start := time.Now()
	result, err := e.search(ctx, tenant, name, req)

	ev := oplog.Event{Op: "search", Tenant: tenant, Collection: name, K: req.K, RequestID: req.RequestID}
	if result != nil {
		ev.Hits = len(result.Matches)
	}
	e.emit(ev, start, err)

	if result != nil {
		result.LatencyMS = latencyMS(start)
		result.RequestID = req.RequestID
		metrics.SearchHits.Observe(float64(len(result.Matches)))
	}
	return result, err
}

func (e *Engine) search(ctx context.Context, tenant, name string, req SearchRequest) (*SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, apperr.InvalidRequest("query is required")
	}
	k := req.K
	if k <= 0 {
		k = 5
	}

	release, err := e.admission.AcquireSearch(tenant)
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := e.getCollection(ctx, tenant, name)
	if err != nil {
		return nil, err
	}

	cfg := e.runtime.Config()
	timeout := time.Duration(cfg.Limits.Search.TimeoutMS) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Every metadata field is denormalised into the backend row at
	// ingest, so equality-shaped clauses are always pre-routable.
	plan, err := filterplan.Split(req.Filters, func(string) bool { return true }, c.backend.Capabilities())
	if err != nil {
		return nil, err
	}

	// The embedder call happens before the lock: it is the slowest
	// stage and needs no index state.
	queryVec, err := e.embedderFor(tenant, name).EmbedQuery(ctx, req.Query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Timeout("search timed out while embedding the query")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, err, "embedding query")
	}

	overfetch := 1
	if !plan.Post.Empty() {
		overfetch = e.runtime.SearchOverfetch()
	}

	c.mu.Lock()
	if err := c.available(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	candidates, searchErr := c.backend.Search(ctx, queryVec, k*overfetch, plan.Pre)
	c.mu.Unlock()

	if searchErr != nil {
		if errors.Is(searchErr, context.DeadlineExceeded) {
			return nil, apperr.Timeout("search timed out with no candidates")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, searchErr, "backend search")
	}

	// Hydration and post-filtering happen outside the lock so
	// concurrent searches never serialise on metadata reads.
	matches, err := e.hydrate(ctx, c, candidates, plan, req.Query, k)
	if err != nil {
		return nil, err
	}

	truncated := false
	if ctx.Err() != nil {
		if len(matches) == 0 {
			return nil, apperr.Timeout("search timed out with no candidates")
		}
		truncated = true
	}

	return &SearchResult{Matches: matches, Truncated: truncated}, nil
}

// hydrate joins candidates with their metadata, applies the post-filter
// and keeps the top k with the deterministic ascending-rid tie-break.
func (e *Engine) hydrate(ctx context.Context, c *Collection, candidates []backend.Candidate, plan *filterplan.Plan, query string, k int) ([]Match, error) {
	if len(candidates) == 0 {
		return []Match{}, nil
	}

	rids := make([]string, len(candidates))
	for i, cand := range candidates {
		rids[i] = cand.RID
	}
	metas, err := c.meta.GetMetaBatch(ctx, rids)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	filterReasons := plan.Describe()

	kept := make([]Match, 0, min(k, len(candidates)))
	for _, cand := range candidates {
		meta, ok := metas[cand.RID]
		if !ok {
			// The backend returned a rid the metadata store no longer
			// knows; a concurrent delete won the race. Skip it.
			continue
		}
		if !plan.Post.Matches(meta) {
			continue
		}

		text := cand.Text
		if !cand.HasText {
			sidecarText, found, err := c.sidecar.Read(cand.RID)
			if err != nil {
				return nil, apperr.Internal(err)
			}
			if found {
				text = sidecarText
			}
		}

		match := Match{
			ID:          cand.RID,
			Score:       float64(cand.Score),
			Text:        text,
			Meta:        meta,
			MatchReason: matchReason(filterReasons, query, text),
			DocID:       stringField(meta, "docid"),
			Page:        intField(meta, "page"),
			Offset:      intField(meta, "offset"),
		}
		kept = append(kept, match)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].ID < kept[j].ID
	})
	if len(kept) > k {
		kept = kept[:k]
	}
	return kept, nil
}

// matchReason builds the deterministic per-hit explanation: the filter
// clauses that admitted the hit plus the query tokens present in its
// text.
func matchReason(filterReasons []string, query, text string) string {
	var parts []string
	if len(filterReasons) > 0 {
		parts = append(parts, "matched filter "+strings.Join(filterReasons, ", "))
	}

	lowered := strings.ToLower(text)
	seen := make(map[string]bool)
	var tokens []string
	for _, token := range strings.Fields(strings.ToLower(query)) {
		token = strings.Trim(token, ".,;:!?\"'")
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		if strings.Contains(lowered, token) {
			tokens = append(tokens, token)
		}
		if len(tokens) == 8 {
			break
		}
	}
	if len(tokens) > 0 {
		parts = append(parts, "query tokens: "+strings.Join(tokens, ", "))
	}

	if len(parts) == 0 {
		return "semantic match"
	}
	return strings.Join(parts, "; ")
}

func stringField(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func intField(meta map[string]any, key string) *int {
	switch v := meta[key].(type) {
	case int:
		return &v
	case int64:
		n := int(v)
		return &n
	case float64:
		n := int(v)
		return &n
	default:
		return nil
	}
}
