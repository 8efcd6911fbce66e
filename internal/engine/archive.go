package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/flowlexi/patchvec/internal/apperr"
)

// Archive snapshots the entire collection directory as one opaque
// tar.gz blob, taken under the collection lock so no writer is
// mid-flight.
func (e *Engine) Archive(ctx context.Context, tenant, name string) ([]byte, error) {
	c, err := e.getCollection(ctx, tenant, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.available(); err != nil {
		return nil, err
	}

	if err := c.backend.Save(ctx); err != nil {
		return nil, apperr.Internal(err)
	}

	// Quiesce the substores so every file is flushed, then reopen.
	_ = c.close()
	data, tarErr := tarDirectory(c.dir)
	reopenErr := e.reopenLocked(ctx, c)

	if tarErr != nil {
		return nil, apperr.Internal(tarErr)
	}
	if reopenErr != nil {
		return nil, reopenErr
	}

	e.logger.Info("collection archived",
		zap.String("tenant", tenant),
		zap.String("collection", name),
		zap.Int("bytes", len(data)),
	)
	return data, nil
}

// Restore replaces the collection with the archived snapshot.
// Destructive: any existing content is removed first.
func (e *Engine) Restore(ctx context.Context, tenant, name string, data []byte) error {
	if err := validateNames(tenant, name); err != nil {
		return err
	}

	// Drop any live instance; restore works on the directory alone, so
	// a collection that cannot even be opened can still be replaced.
	e.guard.Lock()
	key := registryKey(tenant, name)
	c := e.registry[key]
	delete(e.registry, key)
	e.guard.Unlock()

	dir := e.catalog.CollectionDir(tenant, name)
	if c != nil {
		c.mu.Lock()
		c.state.Store(stateDeleting)
		_ = c.close()
		c.mu.Unlock()
	}

	if err := os.RemoveAll(dir); err != nil {
		return apperr.Internal(err)
	}
	if err := untarDirectory(dir, data); err != nil {
		_ = os.RemoveAll(dir)
		return apperr.Wrap(apperr.CodeInvalidRequest, err, "unpacking archive")
	}

	// The restored directory is opened lazily on next access, which
	// also re-verifies the schema and fingerprint.
	e.logger.Info("collection restored",
		zap.String("tenant", tenant),
		zap.String("collection", name),
	)
	return nil
}

// reopenLocked rebuilds the substores of a collection whose lock is
// already held.
func (e *Engine) reopenLocked(ctx context.Context, c *Collection) error {
	reopened, err := e.openCollection(ctx, c.tenant, c.name, false)
	if err != nil {
		c.state.Store(stateDeleting)
		return err
	}
	c.backend = reopened.backend
	c.meta = reopened.meta
	c.sidecar = reopened.sidecar
	c.schema = reopened.schema
	c.state.Store(stateReady)
	return nil
}

func tarDirectory(dir string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("archiving %s: %w", dir, err)
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func untarDirectory(dir string, data []byte) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive entry: %w", err)
		}

		// Reject entries that would escape the target directory.
		cleaned := filepath.Clean(header.Name)
		if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
			return fmt.Errorf("archive entry %q escapes the collection directory", header.Name)
		}
		target := filepath.Join(dir, cleaned)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil { //nolint:gosec // archives are operator-supplied snapshots
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			// symlinks and specials have no place in a collection snapshot
			return fmt.Errorf("archive entry %q has unsupported type", header.Name)
		}
	}
	return nil
}

// ArchiveFilename names snapshots for operators; exposed for the CLI
// collaborator.
func ArchiveFilename(tenant, name string) string {
	return fmt.Sprintf("%s_%s_%s.tar.gz", tenant, name, time.Now().UTC().Format("20060102T150405Z"))
}
