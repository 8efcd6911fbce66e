package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowlexi/patchvec/internal/apperr"
	"github.com/flowlexi/patchvec/internal/backend"
	"github.com/flowlexi/patchvec/internal/metastore"
	"github.com/flowlexi/patchvec/internal/sidecar"
)

// schemaVersion is the current on-disk collection layout generation.
const schemaVersion = 2

// schemaFile is the collection marker recording identity and the
// embedding fingerprint.
const schemaFile = "schema.json"

// collection state machine:
// absent -> initializing -> ready <-> writing -> deleting -> absent.
// All transitions except ready<->writing happen with the collection
// lock held exclusively; initializing and deleting reject operations.
const (
	stateInitializing int32 = iota
	stateReady
	stateWriting
	stateDeleting
)

// schemaInfo is the persisted schema.json payload.
type schemaInfo struct {
	SchemaVersion int    `json:"schema_version"`
	Tenant        string `json:"tenant"`
	Collection    string `json:"collection"`
	Fingerprint   string `json:"fingerprint"`
	CreatedAt     string `json:"created_at"`
}

// Collection owns one tenant collection: its lock, backend adapter,
// metadata store and sidecar directory. Consumers obtain instances
// through the engine registry, never by direct construction.
type Collection struct {
	tenant string
	name   string
	dir    string

	// mu is the collection lock: all writes, and the vector search
	// call, serialise through it.
	mu sync.Mutex

	state atomic.Int32

	backend backend.Backend
	meta    *metastore.Store
	sidecar *sidecar.Store
	schema  schemaInfo
}

// openCollection opens (or finishes creating) a collection directory and
// all three substores. The caller decides whether the directory may be
// created (create=true) or must already exist.
func (e *Engine) openCollection(ctx context.Context, tenant, name string, create bool) (*Collection, error) {
	dir := e.catalog.CollectionDir(tenant, name)

	c := &Collection{
		tenant: tenant,
		name:   name,
		dir:    dir,
	}
	c.state.Store(stateInitializing)

	embedder := e.embedderFor(tenant, name)

	schema, err := loadSchema(dir)
	switch {
	case err == nil:
		if schema.Fingerprint != embedder.Fingerprint() {
			return nil, apperr.New(apperr.CodeModelMismatch,
				"collection %s/%s was built with embedder %q, server runs %q",
				tenant, name, schema.Fingerprint, embedder.Fingerprint())
		}
		c.schema = *schema
	case os.IsNotExist(err) && create:
		c.schema = schemaInfo{
			SchemaVersion: schemaVersion,
			Tenant:        tenant,
			Collection:    name,
			Fingerprint:   embedder.Fingerprint(),
			CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		}
		if err := writeSchema(dir, c.schema); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		return nil, apperr.NotFound("collection %s/%s not found", tenant, name)
	default:
		return nil, fmt.Errorf("reading collection schema: %w", err)
	}

	meta, err := metastore.Open(dir)
	if err != nil {
		return nil, err
	}

	side, err := sidecar.Open(dir)
	if err != nil {
		meta.Close()
		return nil, err
	}

	be, err := backend.New(e.backendCfg, dir, backendCollectionName(tenant, name), e.logger)
	if err != nil {
		meta.Close()
		return nil, err
	}
	if err := be.Configure(ctx, embedder.Dimension(), embedder.Fingerprint()); err != nil {
		meta.Close()
		return nil, err
	}

	c.meta = meta
	c.sidecar = side
	c.backend = be
	c.state.Store(stateReady)
	return c, nil
}

// close releases the substores. Callers hold the collection lock.
func (c *Collection) close() error {
	var firstErr error
	if c.backend != nil {
		if err := c.backend.Close(); err != nil {
			firstErr = err
		}
		c.backend = nil
	}
	if c.meta != nil {
		if err := c.meta.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.meta = nil
	}
	return firstErr
}

// available rejects operations while the collection is initialising or
// being deleted.
func (c *Collection) available() error {
	switch c.state.Load() {
	case stateReady, stateWriting:
		return nil
	default:
		return apperr.Unavailable("collection %s/%s is in a transient state", c.tenant, c.name)
	}
}

func loadSchema(dir string) (*schemaInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, schemaFile))
	if err != nil {
		return nil, err
	}
	var schema schemaInfo
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", schemaFile, err)
	}
	return &schema, nil
}

func writeSchema(dir string, schema schemaInfo) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating collection directory: %w", err)
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, schemaFile), data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", schemaFile, err)
	}
	return nil
}
