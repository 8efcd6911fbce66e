package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fingerprintFile records the embedding model fingerprint next to the
// index files so a collection can never be silently served by a
// different model.
const fingerprintFile = "fingerprint"

// checkFingerprint verifies the stored fingerprint in dir, writing it on
// first configure.
func checkFingerprint(dir, fingerprint string) error {
	path := filepath.Join(dir, fingerprintFile)

	data, err := os.ReadFile(path)
	if err == nil {
		stored := strings.TrimSpace(string(data))
		if stored != fingerprint {
			return fmt.Errorf("%w: index built with %q, opened with %q", ErrModelMismatch, stored, fingerprint)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("reading fingerprint: %w", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(fingerprint+"\n"), 0600); err != nil {
		return fmt.Errorf("writing fingerprint: %w", err)
	}
	return nil
}
