// Package metastore is the per-collection durable metadata map:
// docid -> [rid] and rid -> chunk metadata, with document-level metadata
// stored once and joined at read time.
//
// Backed by a per-collection SQLite database in WAL journal mode, which
// gives the contract the engine relies on: reads are concurrent and
// never block the single serialised writer.
package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/flowlexi/patchvec/internal/apperr"
)

// metaDBFile is the database filename inside a collection directory.
const metaDBFile = "meta.db"

// legacyFiles are the on-disk markers of the previous storage
// generation. Their presence means the collection predates the SQLite
// layout and must be re-ingested, not silently migrated.
var legacyFiles = []string{"catalog.json", "meta.json"}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	docid       TEXT PRIMARY KEY,
	version     INTEGER NOT NULL DEFAULT 1,
	ingested_at TEXT NOT NULL,
	meta        TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS chunks (
	rid     TEXT PRIMARY KEY,
	docid   TEXT NOT NULL REFERENCES documents(docid) ON DELETE CASCADE,
	ordinal INTEGER NOT NULL,
	meta    TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_chunks_docid ON chunks(docid, ordinal);
`

// ChunkMeta pairs a rid with its per-chunk metadata for upsert.
type ChunkMeta struct {
	RID     string
	Ordinal int
	Meta    map[string]any
}

// Store is the per-collection metadata database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the metadata store inside a collection
// directory. Fails with legacy_metadata if the directory holds the
// previous storage generation.
func Open(collectionDir string) (*Store, error) {
	for _, name := range legacyFiles {
		if _, err := os.Stat(filepath.Join(collectionDir, name)); err == nil {
			return nil, apperr.New(apperr.CodeLegacyMetadata,
				"collection uses the legacy %s layout; export the source documents and re-ingest into a fresh collection", name)
		}
	}

	if err := os.MkdirAll(collectionDir, 0700); err != nil {
		return nil, fmt.Errorf("creating collection directory: %w", err)
	}

	dbPath := filepath.Join(collectionDir, metaDBFile)

	// WAL keeps readers unblocked while the ingest path writes.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening metadata database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertChunks atomically replaces all chunks of a document. The
// document's version becomes current+1 (starting at 1) and every chunk
// row is rewritten; either all chunks become visible or none do.
func (s *Store) UpsertChunks(ctx context.Context, docid string, chunks []ChunkMeta, docMeta map[string]any) (version int, err error) {
	docMetaJSON, err := marshalMeta(docMeta)
	if err != nil {
		return 0, fmt.Errorf("encoding document metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	version = 1
	var current int
	switch err = tx.QueryRowContext(ctx, `SELECT version FROM documents WHERE docid = ?`, docid).Scan(&current); {
	case err == nil:
		version = current + 1
	case errors.Is(err, sql.ErrNoRows):
		// first ingest
	default:
		return 0, fmt.Errorf("reading document version: %w", err)
	}
	err = nil

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO documents (docid, version, ingested_at, meta) VALUES (?, ?, ?, ?)
		ON CONFLICT(docid) DO UPDATE SET version = excluded.version, ingested_at = excluded.ingested_at, meta = excluded.meta`,
		docid, version, now, docMetaJSON); err != nil {
		return 0, fmt.Errorf("upserting document: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM chunks WHERE docid = ?`, docid); err != nil {
		return 0, fmt.Errorf("clearing previous chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (rid, docid, ordinal, meta) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		chunkMetaJSON, merr := marshalMeta(chunk.Meta)
		if merr != nil {
			err = fmt.Errorf("encoding chunk metadata for %s: %w", chunk.RID, merr)
			return 0, err
		}
		if _, err = stmt.ExecContext(ctx, chunk.RID, docid, chunk.Ordinal, chunkMetaJSON); err != nil {
			return 0, fmt.Errorf("inserting chunk %s: %w", chunk.RID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}
	return version, nil
}

// DeleteDoc removes a document and returns the rids of its chunks.
// Missing docid is not an error: returns an empty slice.
func (s *Store) DeleteDoc(ctx context.Context, docid string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rids, err := scanRIDs(tx.QueryContext(ctx, `SELECT rid FROM chunks WHERE docid = ? ORDER BY ordinal`, docid))
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE docid = ?`, docid); err != nil {
		return nil, fmt.Errorf("deleting document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing: %w", err)
	}
	return rids, nil
}

// HasDoc reports whether the document exists.
func (s *Store) HasDoc(ctx context.Context, docid string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE docid = ?`, docid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking document: %w", err)
	}
	return true, nil
}

// GetRIDs returns the document's rids in ordinal order.
func (s *Store) GetRIDs(ctx context.Context, docid string) ([]string, error) {
	return scanRIDs(s.db.QueryContext(ctx, `SELECT rid FROM chunks WHERE docid = ? ORDER BY ordinal`, docid))
}

// GetDocVersion returns the document's version counter, or 0 if absent.
func (s *Store) GetDocVersion(ctx context.Context, docid string) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM documents WHERE docid = ?`, docid).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading document version: %w", err)
	}
	return version, nil
}

// GetMetaBatch hydrates metadata for a rid list. Document-level metadata
// is joined onto each chunk's own fields; the chunk fields win on key
// collision. Unknown rids are simply absent from the result.
func (s *Store) GetMetaBatch(ctx context.Context, rids []string) (map[string]map[string]any, error) {
	if len(rids) == 0 {
		return map[string]map[string]any{}, nil
	}

	query := `
		SELECT c.rid, c.docid, c.meta, d.meta
		FROM chunks c JOIN documents d ON d.docid = c.docid
		WHERE c.rid IN (?` + strings.Repeat(",?", len(rids)-1) + `)`

	args := make([]any, len(rids))
	for i, rid := range rids {
		args[i] = rid
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hydrating metadata: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]any, len(rids))
	for rows.Next() {
		var rid, docid, chunkJSON, docJSON string
		if err := rows.Scan(&rid, &docid, &chunkJSON, &docJSON); err != nil {
			return nil, fmt.Errorf("scanning metadata row: %w", err)
		}

		merged := make(map[string]any)
		if err := json.Unmarshal([]byte(docJSON), &merged); err != nil {
			return nil, fmt.Errorf("decoding document metadata for %s: %w", rid, err)
		}
		var chunkMeta map[string]any
		if err := json.Unmarshal([]byte(chunkJSON), &chunkMeta); err != nil {
			return nil, fmt.Errorf("decoding chunk metadata for %s: %w", rid, err)
		}
		for k, v := range chunkMeta {
			merged[k] = v
		}
		merged["docid"] = docid

		out[rid] = merged
	}
	return out, rows.Err()
}

func scanRIDs(rows *sql.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, fmt.Errorf("querying rids: %w", err)
	}
	defer rows.Close()

	rids := []string{}
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil {
			return nil, fmt.Errorf("scanning rid: %w", err)
		}
		rids = append(rids, rid)
	}
	return rids, rows.Err()
}

func marshalMeta(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
