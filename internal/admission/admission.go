// Package admission is the process-wide concurrency gate for searches
// and ingests.
//
// Gates are weighted semaphores acquired non-blockingly: an operation
// that cannot get a slot fails fast with overloaded rather than queue.
// An optional per-tenant cap bounds any single tenant's total
// concurrency across both operation kinds.
package admission

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/flowlexi/patchvec/internal/apperr"
	"github.com/flowlexi/patchvec/internal/metrics"
)

// Config sets the admission limits.
type Config struct {
	MaxConcurrentSearches int
	MaxConcurrentIngests  int

	// MaxPerTenant caps a single tenant's concurrent operations.
	// Zero disables the cap.
	MaxPerTenant int
}

// Controller gates searches and ingests.
type Controller struct {
	searches *semaphore.Weighted
	ingests  *semaphore.Weighted

	perTenant int64
	mu        sync.Mutex
	tenants   map[string]*semaphore.Weighted
}

// New creates a controller with the given limits.
func New(cfg Config) *Controller {
	searches := cfg.MaxConcurrentSearches
	if searches <= 0 {
		searches = 64
	}
	ingests := cfg.MaxConcurrentIngests
	if ingests <= 0 {
		ingests = 4
	}

	return &Controller{
		searches:  semaphore.NewWeighted(int64(searches)),
		ingests:   semaphore.NewWeighted(int64(ingests)),
		perTenant: int64(cfg.MaxPerTenant),
		tenants:   make(map[string]*semaphore.Weighted),
	}
}

// AcquireSearch claims a search slot. The returned release function must
// be called exactly once.
func (c *Controller) AcquireSearch(tenant string) (release func(), err error) {
	return c.acquire(c.searches, tenant, "search")
}

// AcquireIngest claims an ingest slot. The returned release function
// must be called exactly once.
func (c *Controller) AcquireIngest(tenant string) (release func(), err error) {
	return c.acquire(c.ingests, tenant, "ingest")
}

func (c *Controller) acquire(gate *semaphore.Weighted, tenant, kind string) (func(), error) {
	if !gate.TryAcquire(1) {
		metrics.AdmissionRejections.WithLabelValues(kind).Inc()
		return nil, apperr.Overloaded("too many concurrent %s operations", kind)
	}

	tenantGate := c.tenantGate(tenant)
	if tenantGate != nil && !tenantGate.TryAcquire(1) {
		gate.Release(1)
		metrics.AdmissionRejections.WithLabelValues("tenant").Inc()
		return nil, apperr.Overloaded("tenant %s exceeded its concurrency cap", tenant)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			gate.Release(1)
			if tenantGate != nil {
				tenantGate.Release(1)
			}
		})
	}, nil
}

// tenantGate lazily creates the per-tenant semaphore; nil when the cap
// is disabled.
func (c *Controller) tenantGate(tenant string) *semaphore.Weighted {
	if c.perTenant <= 0 || tenant == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	gate, ok := c.tenants[tenant]
	if !ok {
		gate = semaphore.NewWeighted(c.perTenant)
		c.tenants[tenant] = gate
	}
	return gate
}
