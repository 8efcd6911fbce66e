// Package engine is the patchvec core: the multi-tenant collection
// manager and the service facade consumed by the HTTP and CLI
// collaborators.
//
// One Engine owns the data directory. Collections are shared across
// goroutines through a registry keyed by (tenant, name); the registry
// itself sits behind a process-wide guard mutex, while each collection
// carries its own lock for write serialisation.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowlexi/patchvec/internal/admission"
	"github.com/flowlexi/patchvec/internal/apperr"
	"github.com/flowlexi/patchvec/internal/backend"
	"github.com/flowlexi/patchvec/internal/catalog"
	"github.com/flowlexi/patchvec/internal/config"
	"github.com/flowlexi/patchvec/internal/embeddings"
	"github.com/flowlexi/patchvec/internal/metrics"
	"github.com/flowlexi/patchvec/internal/oplog"
	"github.com/flowlexi/patchvec/internal/sanitize"
)

// Engine is the immutable service facade built once at startup.
type Engine struct {
	runtime    *config.Runtime
	catalog    *catalog.Catalog
	admission  *admission.Controller
	embedder   embeddings.Embedder
	backendCfg backend.FactoryConfig
	oplog      *oplog.Logger
	logger     *zap.Logger

	// guard protects the registry map. Collection locks are separate
	// per-entry mutexes; registry read-or-create always goes through
	// guard, never through a double-checked fast path.
	guard    sync.Mutex
	registry map[string]*Collection
}

// Build constructs an engine from configuration. The returned engine is
// safe for concurrent use; the transport holds a reference and stays a
// thin collaborator.
func Build(rt *config.Runtime, opl *oplog.Logger, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := rt.Config()

	cat, err := catalog.New(cfg.VectorStore.DataDir)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Type:     cfg.Embedder.Type,
		Model:    cfg.Embedder.Model,
		CacheDir: cfg.Embedder.CacheDir,
	})
	if err != nil {
		return nil, fmt.Errorf("building embedder: %w", err)
	}

	e := &Engine{
		runtime:  rt,
		catalog:  cat,
		embedder: embedder,
		admission: admission.New(admission.Config{
			MaxConcurrentSearches: cfg.Limits.Search.MaxConcurrent,
			MaxConcurrentIngests:  cfg.Limits.Ingest.MaxConcurrent,
			MaxPerTenant:          cfg.Limits.Tenant.MaxConcurrent,
		}),
		backendCfg: backend.FactoryConfig{
			Provider:   cfg.VectorStore.Backend,
			QdrantHost: cfg.VectorStore.Qdrant.Host,
			QdrantPort: cfg.VectorStore.Qdrant.Port,
		},
		oplog:    opl,
		logger:   logger.Named("engine"),
		registry: make(map[string]*Collection),
	}

	logger.Info("engine built",
		zap.String("data_dir", cfg.VectorStore.DataDir),
		zap.String("backend", cfg.VectorStore.Backend),
		zap.String("embedder", embedder.Fingerprint()),
	)
	return e, nil
}

// Close releases all collections and the embedder.
func (e *Engine) Close() error {
	e.guard.Lock()
	collections := make([]*Collection, 0, len(e.registry))
	for _, c := range e.registry {
		collections = append(collections, c)
	}
	e.registry = make(map[string]*Collection)
	e.guard.Unlock()

	for _, c := range collections {
		c.mu.Lock()
		_ = c.close()
		c.mu.Unlock()
	}
	return e.embedder.Close()
}

// embedderFor returns the embedder serving a collection. Today every
// collection shares the process embedder; the indirection is the seam
// for per-collection models.
func (e *Engine) embedderFor(tenant, name string) embeddings.Embedder {
	return e.embedder
}

// backendCollectionName is the sanitised global name used by
// server-side backends.
func backendCollectionName(tenant, name string) string {
	return sanitize.BackendCollection(tenant, name)
}

func registryKey(tenant, name string) string {
	return tenant + "/" + name
}

// getCollection resolves a ready collection from the registry, lazily
// opening directories left by a previous process. Registry access is
// always under guard.
func (e *Engine) getCollection(ctx context.Context, tenant, name string) (*Collection, error) {
	if err := validateNames(tenant, name); err != nil {
		return nil, err
	}

	e.guard.Lock()
	defer e.guard.Unlock()

	key := registryKey(tenant, name)
	if c, ok := e.registry[key]; ok {
		if err := c.available(); err != nil {
			return nil, err
		}
		return c, nil
	}

	if !e.catalog.CollectionExists(tenant, name) {
		return nil, apperr.NotFound("collection %s/%s not found", tenant, name)
	}

	c, err := e.openCollection(ctx, tenant, name, false)
	if err != nil {
		return nil, err
	}
	e.registry[key] = c
	return c, nil
}

func validateNames(tenant, name string) error {
	if err := catalog.ValidateSlug("tenant", tenant); err != nil {
		return err
	}
	return catalog.ValidateSlug("collection", name)
}

// CreateCollection initialises a new collection: backend, metadata
// store, sidecar directory and schema marker. Atomic: partial state is
// removed on any mid-step failure.
func (e *Engine) CreateCollection(ctx context.Context, tenant, name string) error {
	start := time.Now()
	err := e.createCollection(ctx, tenant, name)
	e.emit(oplog.Event{Op: "create_collection", Tenant: tenant, Collection: name}, start, err)
	return err
}

func (e *Engine) createCollection(ctx context.Context, tenant, name string) error {
	if err := validateNames(tenant, name); err != nil {
		return err
	}

	e.guard.Lock()
	defer e.guard.Unlock()

	if e.catalog.CollectionExists(tenant, name) {
		return apperr.AlreadyExists("collection %s/%s already exists", tenant, name)
	}

	c, err := e.openCollection(ctx, tenant, name, true)
	if err != nil {
		// Remove whatever partial state the failed open left behind.
		_ = os.RemoveAll(e.catalog.CollectionDir(tenant, name))
		return err
	}

	e.registry[registryKey(tenant, name)] = c
	e.logger.Info("collection created",
		zap.String("tenant", tenant),
		zap.String("collection", name),
	)
	return nil
}

// DeleteCollection removes a collection and all three substores.
func (e *Engine) DeleteCollection(ctx context.Context, tenant, name string) error {
	start := time.Now()
	err := e.deleteCollection(ctx, tenant, name)
	e.emit(oplog.Event{Op: "delete_collection", Tenant: tenant, Collection: name}, start, err)
	return err
}

func (e *Engine) deleteCollection(ctx context.Context, tenant, name string) error {
	c, err := e.getCollection(ctx, tenant, name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.state.Store(stateDeleting)
	_ = c.close()
	removeErr := os.RemoveAll(c.dir)
	c.mu.Unlock()

	e.guard.Lock()
	delete(e.registry, registryKey(tenant, name))
	e.guard.Unlock()

	if removeErr != nil {
		return fmt.Errorf("removing collection directory: %w", removeErr)
	}

	e.logger.Info("collection deleted",
		zap.String("tenant", tenant),
		zap.String("collection", name),
	)
	return nil
}

// RenameCollection renames a collection directory and re-registers it
// under the new key. Deadlock-safe: the old collection lock is released
// before the new collection is ever touched, so two collection locks
// are never held at once.
func (e *Engine) RenameCollection(ctx context.Context, tenant, oldName, newName string) error {
	start := time.Now()
	err := e.renameCollection(ctx, tenant, oldName, newName)
	e.emit(oplog.Event{Op: "rename_collection", Tenant: tenant, Collection: oldName, NewName: newName}, start, err)
	return err
}

func (e *Engine) renameCollection(ctx context.Context, tenant, oldName, newName string) error {
	if err := catalog.ValidateSlug("collection", newName); err != nil {
		return err
	}

	c, err := e.getCollection(ctx, tenant, oldName)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if e.catalog.CollectionExists(tenant, newName) {
		c.mu.Unlock()
		return apperr.AlreadyExists("rename target %s/%s already exists", tenant, newName)
	}

	// Quiesce this instance; the renamed directory is reopened lazily
	// under the new key.
	c.state.Store(stateDeleting)
	_ = c.close()
	renameErr := os.Rename(c.dir, e.catalog.CollectionDir(tenant, newName))
	c.mu.Unlock()

	e.guard.Lock()
	delete(e.registry, registryKey(tenant, oldName))
	e.guard.Unlock()

	if renameErr != nil {
		return fmt.Errorf("renaming collection directory: %w", renameErr)
	}

	// Keep the recorded identity in sync with the path.
	newDir := e.catalog.CollectionDir(tenant, newName)
	if schema, err := loadSchema(newDir); err == nil {
		schema.Collection = newName
		if err := writeSchema(newDir, *schema); err != nil {
			return err
		}
	}

	e.logger.Info("collection renamed",
		zap.String("tenant", tenant),
		zap.String("from", oldName),
		zap.String("to", newName),
	)
	return nil
}

// ListTenants enumerates tenants with at least one collection.
func (e *Engine) ListTenants(ctx context.Context) ([]string, error) {
	return e.catalog.ListTenants()
}

// ListCollections enumerates a tenant's collections.
func (e *Engine) ListCollections(ctx context.Context, tenant string) ([]string, error) {
	start := time.Now()
	if err := catalog.ValidateSlug("tenant", tenant); err != nil {
		return nil, err
	}
	collections, err := e.catalog.ListCollections(tenant)
	e.emit(oplog.Event{Op: "list_collections", Tenant: tenant}, start, err)
	return collections, err
}

// DataDir exposes the engine's data directory for readiness probes.
func (e *Engine) DataDir() string { return e.catalog.DataDir() }

// emit records the operation in the ops log and prometheus.
func (e *Engine) emit(ev oplog.Event, start time.Time, err error) {
	ev.LatencyMS = latencyMS(start)
	ev.Status = "ok"
	if err != nil {
		ev.Status = "error"
		ev.ErrorCode = string(apperr.CodeOf(err))
	}
	e.oplog.Emit(ev)

	metrics.RequestsTotal.WithLabelValues(ev.Op, ev.Status).Inc()
	metrics.OpLatency.WithLabelValues(ev.Op).Observe(time.Since(start).Seconds())
}

// latencyMS reports elapsed milliseconds with two-decimal precision.
func latencyMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()/10) / 100
}
