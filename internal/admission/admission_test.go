package admission

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlexi/patchvec/internal/apperr"
)

func TestSearchCapFailsFast(t *testing.T) {
	c := New(Config{MaxConcurrentSearches: 2, MaxConcurrentIngests: 1})

	r1, err := c.AcquireSearch("t")
	require.NoError(t, err)
	r2, err := c.AcquireSearch("t")
	require.NoError(t, err)

	_, err = c.AcquireSearch("t")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeOverloaded, apperr.CodeOf(err))

	r1()
	r3, err := c.AcquireSearch("t")
	require.NoError(t, err)
	r2()
	r3()
}

func TestIngestCapIndependentOfSearchCap(t *testing.T) {
	c := New(Config{MaxConcurrentSearches: 1, MaxConcurrentIngests: 1})

	rs, err := c.AcquireSearch("t")
	require.NoError(t, err)
	ri, err := c.AcquireIngest("t")
	require.NoError(t, err)

	_, err = c.AcquireIngest("t")
	assert.Error(t, err)

	rs()
	ri()
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := New(Config{MaxConcurrentSearches: 1, MaxConcurrentIngests: 1})

	release, err := c.AcquireSearch("t")
	require.NoError(t, err)
	release()
	release() // second call must not over-release

	r1, err := c.AcquireSearch("t")
	require.NoError(t, err)
	_, err = c.AcquireSearch("t")
	assert.Error(t, err)
	r1()
}

func TestPerTenantCap(t *testing.T) {
	c := New(Config{MaxConcurrentSearches: 10, MaxConcurrentIngests: 10, MaxPerTenant: 1})

	r1, err := c.AcquireSearch("acme")
	require.NoError(t, err)

	// Same tenant is capped even though the global gate has room.
	_, err = c.AcquireIngest("acme")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeOverloaded, apperr.CodeOf(err))

	// Other tenants are unaffected.
	r2, err := c.AcquireSearch("beta")
	require.NoError(t, err)

	r1()
	r2()
}

func TestConcurrentAdmission(t *testing.T) {
	c := New(Config{MaxConcurrentSearches: 2, MaxConcurrentIngests: 1})

	var inFlight, peak, rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := c.AcquireSearch("t")
			if err != nil {
				rejected.Add(1)
				return
			}
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			inFlight.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
}
