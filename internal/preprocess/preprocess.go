// Package preprocess turns an uploaded source into ordered, embeddable
// chunks.
//
// Supported formats: plain text (sliding character window), PDF (one
// chunk per page) and CSV (one chunk per row with header-aware metadata
// projection). Chunk rids are deterministic: re-ingesting identical
// source bytes yields identical rids.
package preprocess

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/flowlexi/patchvec/internal/apperr"
)

// Chunk is one preprocessed unit, ready for embedding and indexing.
type Chunk struct {
	// RID is the record identifier, "{docid}::{ordinal}" with a 1-based
	// ordinal that encodes chunk order within the document.
	RID string

	// Text is the chunk content. May be empty (blank PDF pages keep
	// their slot to preserve page numbering).
	Text string

	// Meta carries genuinely per-chunk fields: page, offset, row,
	// CSV-projected columns.
	Meta map[string]any
}

// Source is an uploaded document plus format hints.
type Source struct {
	Filename    string
	ContentType string
	Data        []byte
	CSV         CSVOptions
}

// Params are the runtime-resolvable chunking knobs.
type Params struct {
	TXTSize    int
	TXTOverlap int
}

// Result is the preprocessor output: ordered chunks plus document-level
// metadata.
type Result struct {
	Chunks  []Chunk
	DocMeta map[string]any
}

// format tags, resolved from the content-type hint or the filename.
const (
	formatTXT = "txt"
	formatPDF = "pdf"
	formatCSV = "csv"
)

// Process chunks a source. The docid seeds rid assignment; chunking is
// deterministic for identical source bytes and parameters.
func Process(docid string, src Source, params Params) (*Result, error) {
	format, err := resolveFormat(src)
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	switch format {
	case formatTXT:
		chunks = chunkText(docid, src.Data, params)
	case formatPDF:
		chunks, err = chunkPDF(docid, src.Data)
	case formatCSV:
		chunks, err = chunkCSV(docid, src.Data, src.CSV)
	}
	if err != nil {
		return nil, err
	}

	docMeta := map[string]any{
		"filename":     src.Filename,
		"content_type": contentTypeFor(format),
	}

	return &Result{Chunks: chunks, DocMeta: docMeta}, nil
}

// resolveFormat picks the chunker from the content-type hint, falling
// back to the filename extension.
func resolveFormat(src Source) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(src.ContentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "text/plain":
		return formatTXT, nil
	case "application/pdf":
		return formatPDF, nil
	case "text/csv":
		return formatCSV, nil
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(src.Filename), "."))
	switch ext {
	case "txt":
		return formatTXT, nil
	case "pdf":
		return formatPDF, nil
	case "csv":
		return formatCSV, nil
	}

	hint := ct
	if hint == "" {
		hint = ext
	}
	if hint == "" {
		hint = "unknown"
	}
	return "", apperr.UnsupportedMedia("unsupported file type: %s", hint)
}

func contentTypeFor(format string) string {
	switch format {
	case formatPDF:
		return "application/pdf"
	case formatCSV:
		return "text/csv"
	default:
		return "text/plain"
	}
}

// rid builds the record identifier for the 1-based ordinal.
func rid(docid string, ordinal int) string {
	return fmt.Sprintf("%s::%d", docid, ordinal)
}
