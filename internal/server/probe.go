package server

import (
	"os"
	"path/filepath"
)

// probeWritable verifies the data directory accepts writes, the same
// way the readiness endpoint has always checked: create and remove a
// marker file.
func probeWritable(dir string) bool {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return false
	}
	marker := filepath.Join(dir, ".writetest")
	if err := os.WriteFile(marker, []byte("ok"), 0600); err != nil {
		return false
	}
	_ = os.Remove(marker)
	return true
}
