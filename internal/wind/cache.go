package wind

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/raptorhab/internal/monitoring"
	"github.com/banshee-data/raptorhab/internal/timeutil"
)

// DefaultRetryInterval is the minimum gap between fetch attempts.
const DefaultRetryInterval = 5 * time.Minute

// Cache holds the current profile and refreshes it in the background. Each
// fetch is tagged with a generation; a result that arrives after the cache
// was invalidated, overwritten or re-requested is discarded.
type Cache struct {
	source  Source
	clock   timeutil.Clock
	maxAge  time.Duration
	retry   time.Duration
	timeout time.Duration

	// OnUpdate, when set, is called with every accepted profile. It runs on
	// the fetch goroutine without the cache lock held.
	OnUpdate func(*Profile)

	mu          sync.Mutex
	profile     *Profile
	generation  uint64
	inflight    bool
	lastAttempt time.Time
	lastErr     error
	wg          sync.WaitGroup
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithMaxAge overrides MaxAge.
func WithMaxAge(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// WithRetryInterval overrides DefaultRetryInterval.
func WithRetryInterval(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.retry = d
		}
	}
}

// WithFetchTimeout bounds each background fetch.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewCache returns an empty cache. source may be nil, in which case only
// Set populates it.
func NewCache(source Source, clock timeutil.Clock, opts ...CacheOption) *Cache {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	c := &Cache{
		source:  source,
		clock:   clock,
		maxAge:  MaxAge,
		retry:   DefaultRetryInterval,
		timeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Profile returns the cached profile, which may be stale or nil.
func (c *Cache) Profile() *Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// Valid returns the cached profile if it is still fresh.
func (c *Cache) Valid() (*Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile.ValidFor(c.clock.Now(), c.maxAge) {
		return c.profile, true
	}
	return nil, false
}

// MaxAge returns the freshness window in use.
func (c *Cache) MaxAge() time.Duration { return c.maxAge }

// LastError returns the error of the most recent failed fetch.
func (c *Cache) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// NeedsRefresh reports whether the profile is absent or stale and a fetch
// may be started now.
func (c *Cache) NeedsRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsRefreshLocked(c.clock.Now())
}

func (c *Cache) needsRefreshLocked(now time.Time) bool {
	if c.source == nil || c.inflight {
		return false
	}
	if c.profile.ValidFor(now, c.maxAge) {
		return false
	}
	return c.lastAttempt.IsZero() || now.Sub(c.lastAttempt) >= c.retry
}

// MaybeRefresh starts a background fetch for (lat, lon) when one is due. It
// never blocks and reports whether a fetch was started.
func (c *Cache) MaybeRefresh(ctx context.Context, lat, lon float64) bool {
	c.mu.Lock()
	now := c.clock.Now()
	if !c.needsRefreshLocked(now) {
		c.mu.Unlock()
		return false
	}
	c.generation++
	gen := c.generation
	c.inflight = true
	c.lastAttempt = now
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		p, err := c.source.Fetch(fctx, lat, lon)
		c.complete(gen, p, err)
	}()
	return true
}

// Refresh fetches synchronously, superseding any fetch in flight.
func (c *Cache) Refresh(ctx context.Context, lat, lon float64) (*Profile, error) {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.inflight = false
	c.lastAttempt = c.clock.Now()
	src := c.source
	c.mu.Unlock()
	if src == nil {
		return nil, nil
	}
	p, err := src.Fetch(ctx, lat, lon)
	if !c.complete(gen, p, err) && err == nil {
		return nil, nil
	}
	return p, err
}

func (c *Cache) complete(gen uint64, p *Profile, err error) bool {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		monitoring.Logf("wind: discarding superseded fetch (generation %d)", gen)
		return false
	}
	c.inflight = false
	if err != nil {
		c.lastErr = err
		c.mu.Unlock()
		monitoring.Logf("wind: fetch failed: %v", err)
		return false
	}
	c.profile = p
	c.lastErr = nil
	cb := c.OnUpdate
	c.mu.Unlock()
	if cb != nil {
		cb(p)
	}
	return true
}

// Set installs p directly, superseding any fetch in flight.
func (c *Cache) Set(p *Profile) {
	c.mu.Lock()
	c.generation++
	c.inflight = false
	c.profile = p
	cb := c.OnUpdate
	c.mu.Unlock()
	if cb != nil && p != nil {
		cb(p)
	}
}

// Invalidate drops the profile and orphans any fetch in flight.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.inflight = false
	c.profile = nil
	c.lastAttempt = time.Time{}
	c.lastErr = nil
}

// Wait blocks until every background fetch has returned.
func (c *Cache) Wait() {
	c.wg.Wait()
}
