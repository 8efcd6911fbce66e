// Package sidecar stores chunk text on disk, one file per rid.
//
// The sidecar is the authoritative text source when the vector backend
// returns a hit without payload. Writes happen inside the collection's
// ingest lock; reads are lock-free.
package sidecar

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/flowlexi/patchvec/internal/sanitize"
)

// Store maps rid -> chunk text under a collection's chunks/ directory.
type Store struct {
	dir string
}

// Open creates the store rooted at a collection's chunks/ directory.
func Open(collectionDir string) (*Store, error) {
	dir := filepath.Join(collectionDir, "chunks")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating chunks directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Write stores the chunk text for a rid, replacing any previous content.
func (s *Store) Write(rid, text string) error {
	path := filepath.Join(s.dir, sanitize.RIDFilename(rid))
	if err := os.WriteFile(path, []byte(text), 0600); err != nil {
		return fmt.Errorf("writing chunk %s: %w", rid, err)
	}
	return nil
}

// Read returns the chunk text for a rid. Missing chunks return
// ("", false, nil).
func (s *Store) Read(rid string) (string, bool, error) {
	path := filepath.Join(s.dir, sanitize.RIDFilename(rid))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading chunk %s: %w", rid, err)
	}
	return string(data), true, nil
}

// Delete removes the sidecar files for the given rids. Missing files
// are ignored.
func (s *Store) Delete(rids []string) error {
	for _, rid := range rids {
		path := filepath.Join(s.dir, sanitize.RIDFilename(rid))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing chunk %s: %w", rid, err)
		}
	}
	return nil
}
