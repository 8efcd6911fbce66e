package preprocess

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/flowlexi/patchvec/internal/apperr"
)

// CSVOptions control header handling and column projection.
type CSVOptions struct {
	// HasHeader is "auto" (default), "yes", or "no". Auto treats the
	// first row as a header when none of its cells parse as a number.
	HasHeader string

	// MetaCols names header columns projected into chunk metadata
	// instead of chunk text. Requires a header.
	MetaCols []string

	// IncludeCols restricts ingested rows: "col=value" pairs that must
	// all match. Requires a header.
	IncludeCols []string
}

// chunkCSV emits one chunk per data row. With a header, MetaCols columns
// become chunk metadata and the remaining columns are joined into the
// chunk text; IncludeCols filters rows by exact cell value.
func chunkCSV(docid string, data []byte, opts CSVOptions) ([]Chunk, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInvalidRequest, err, "parsing csv")
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	hasHeader, err := resolveHeader(rows[0], opts)
	if err != nil {
		return nil, err
	}

	var header []string
	dataRows := rows
	if hasHeader {
		header = rows[0]
		dataRows = rows[1:]
	}

	metaCols := make(map[string]bool, len(opts.MetaCols))
	for _, col := range opts.MetaCols {
		col = strings.TrimSpace(col)
		if col == "" {
			continue
		}
		if indexOf(header, col) < 0 {
			return nil, apperr.InvalidRequest("meta column %q not in header", col)
		}
		metaCols[col] = true
	}

	include, err := parseIncludeCols(header, opts.IncludeCols)
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	ordinal := 0
	for rowNum, row := range dataRows {
		if !rowMatches(header, row, include) {
			continue
		}

		meta := map[string]any{
			// 1-based over data rows, header excluded.
			"row": rowNum + 1,
		}
		var textCells []string
		for i, cell := range row {
			if hasHeader && i < len(header) && metaCols[header[i]] {
				meta[header[i]] = cell
				continue
			}
			textCells = append(textCells, cell)
		}

		ordinal++
		chunks = append(chunks, Chunk{
			RID:  rid(docid, ordinal),
			Text: strings.Join(textCells, "; "),
			Meta: meta,
		})
	}
	return chunks, nil
}

// resolveHeader decides whether the first row is a header.
func resolveHeader(first []string, opts CSVOptions) (bool, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.HasHeader))
	needsHeader := len(opts.MetaCols) > 0 || len(opts.IncludeCols) > 0

	switch mode {
	case "yes":
		return true, nil
	case "no":
		if needsHeader {
			return false, apperr.InvalidRequest("column names given but csv has no header")
		}
		return false, nil
	case "", "auto":
		// A header row is all-textual: any numeric cell means data.
		for _, cell := range first {
			if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
				if needsHeader {
					return false, apperr.InvalidRequest("column names given but csv has no header")
				}
				return false, nil
			}
		}
		return true, nil
	default:
		return false, apperr.InvalidRequest("invalid csv_has_header value: %q", opts.HasHeader)
	}
}

// parseIncludeCols parses "col=value" pairs against the header.
func parseIncludeCols(header []string, pairs []string) (map[int]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	include := make(map[int]string, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		col, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, apperr.InvalidRequest("invalid include filter %q (want col=value)", pair)
		}
		idx := indexOf(header, strings.TrimSpace(col))
		if idx < 0 {
			return nil, apperr.InvalidRequest("include column %q not in header", col)
		}
		include[idx] = strings.TrimSpace(value)
	}
	return include, nil
}

func rowMatches(header, row []string, include map[int]string) bool {
	for idx, want := range include {
		if idx >= len(row) || row[idx] != want {
			return false
		}
	}
	return true
}

func indexOf(header []string, col string) int {
	for i, h := range header {
		if h == col {
			return i
		}
	}
	return -1
}
