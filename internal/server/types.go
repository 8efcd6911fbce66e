package server

// SearchBody is the POST search request body.
type SearchBody struct {
	Q         string         `json:"q"`
	K         int            `json:"k"`
	Filters   map[string]any `json:"filters,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// RenameBody is the PUT collection request body.
type RenameBody struct {
	NewName string `json:"new_name"`
}

// ErrorResponse is the error envelope: {ok:false, code, error, details?}.
type ErrorResponse struct {
	OK      bool           `json:"ok"`
	Code    string         `json:"code"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// OKResponse is the envelope for collection lifecycle operations.
type OKResponse struct {
	OK         bool    `json:"ok"`
	Tenant     string  `json:"tenant"`
	Collection string  `json:"collection,omitempty"`
	NewName    string  `json:"new_name,omitempty"`
	LatencyMS  float64 `json:"latency_ms"`
}

// ListResponse enumerates collections for a tenant.
type ListResponse struct {
	Tenant      string   `json:"tenant"`
	Collections []string `json:"collections"`
	LatencyMS   float64  `json:"latency_ms"`
}

// IngestResponse reports a completed ingest.
type IngestResponse struct {
	OK         bool    `json:"ok"`
	Tenant     string  `json:"tenant"`
	Collection string  `json:"collection"`
	DocID      string  `json:"docid"`
	Chunks     int     `json:"chunks"`
	Version    int     `json:"version"`
	LatencyMS  float64 `json:"latency_ms"`
}

// DeleteDocResponse reports a document deletion.
type DeleteDocResponse struct {
	OK            bool    `json:"ok"`
	DocID         string  `json:"docid"`
	ChunksDeleted int     `json:"chunks_deleted"`
	LatencyMS     float64 `json:"latency_ms"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadinessResponse is the readiness payload with probe details.
type ReadinessResponse struct {
	OK       bool   `json:"ok"`
	Status   string `json:"status"`
	Version  string `json:"version"`
	DataDir  string `json:"data_dir"`
	Writable bool   `json:"writable"`
}
