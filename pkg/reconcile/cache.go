package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/adoptboard/pkg/config"
	"github.com/nicktill/adoptboard/pkg/dataset"
	"github.com/nicktill/adoptboard/pkg/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Clock supplies the current time. Tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Snapshot is what the cache hands to readers.
type Snapshot struct {
	Table       *dataset.Table `json:"-"`
	Stats       Stats          `json:"stats"`
	RefreshedAt time.Time      `json:"refreshed_at"`

	// Stale is set when the latest refresh failed and Table is the previous
	// good one. Err holds that failure.
	Stale bool  `json:"stale"`
	Err   error `json:"-"`
}

// entry is installed atomically; it is never modified after Store.
type entry struct {
	table    *dataset.Table
	stats    Stats
	builtAt  time.Time
	lastErr  error
	failures int
	retryAt  time.Time
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Table:       e.table,
		Stats:       e.stats,
		RefreshedAt: e.builtAt,
		Stale:       e.lastErr != nil,
		Err:         e.lastErr,
	}
}

// CacheConfig configures a Cache. Zero values fall back to defaults.
type CacheConfig struct {
	TTL   time.Duration
	Clock Clock

	// Store keeps the last good table across restarts. Optional.
	Store storage.SnapshotStore

	MinBackoff time.Duration
	MaxBackoff time.Duration

	// BuildTimeout bounds one rebuild, independent of the caller's context.
	BuildTimeout time.Duration
}

// Cache holds the reconciled table for its TTL. Concurrent callers share one
// table and at most one rebuild runs at a time; waiters receive its result.
type Cache struct {
	builder Builder
	cfg     CacheConfig

	current atomic.Pointer[entry]
	group   singleflight.Group

	mu        sync.RWMutex
	listeners []func(Snapshot)
	onError   []func(error)
}

// NewCache creates a cache over builder.
func NewCache(builder Builder, cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = config.DefaultCacheTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = config.RefreshMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = config.RefreshMaxBackoff
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = config.RefreshTimeout
	}
	return &Cache{builder: builder, cfg: cfg}
}

// OnRefresh registers fn to run after every successful install. fn runs on
// the refreshing goroutine and must not block.
func (c *Cache) OnRefresh(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// OnError registers fn to run after every failed rebuild, with the build
// error. fn runs on the refreshing goroutine and must not block.
func (c *Cache) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, fn)
}

// Get is GetOrRefresh at the cache clock's current time.
func (c *Cache) Get(ctx context.Context) (Snapshot, error) {
	return c.GetOrRefresh(ctx, c.cfg.Clock.Now())
}

// GetOrRefresh returns the cached table, rebuilding it first when it is older
// than the TTL. A failed rebuild keeps the previous table, flagged stale, and
// further attempts wait out an exponential backoff. The error is non-nil only
// when there is no table to serve at all.
func (c *Cache) GetOrRefresh(ctx context.Context, now time.Time) (Snapshot, error) {
	if e := c.current.Load(); e != nil && !c.needsBuild(e, now) {
		return result(e)
	}

	v, _, _ := c.group.Do("build", func() (interface{}, error) {
		// Another caller may have finished a build while we waited.
		if e := c.current.Load(); e != nil && !c.needsBuild(e, now) {
			return e, nil
		}
		return c.rebuild(ctx, now), nil
	})
	return result(v.(*entry))
}

// Refresh rebuilds immediately, ignoring TTL and backoff. It returns the
// build error, if any, even when a stale table is still being served.
func (c *Cache) Refresh(ctx context.Context) (Snapshot, error) {
	now := c.cfg.Clock.Now()
	v, _, _ := c.group.Do("build", func() (interface{}, error) {
		return c.rebuild(ctx, now), nil
	})
	e := v.(*entry)
	if e.lastErr != nil {
		return e.snapshot(), e.lastErr
	}
	return e.snapshot(), nil
}

// Peek returns the current snapshot without building. ok is false before the
// first build attempt.
func (c *Cache) Peek() (Snapshot, bool) {
	e := c.current.Load()
	if e == nil {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// Expired reports whether the next Get would rebuild.
func (c *Cache) Expired(now time.Time) bool {
	e := c.current.Load()
	return e == nil || c.needsBuild(e, now)
}

func (c *Cache) needsBuild(e *entry, now time.Time) bool {
	if e.lastErr != nil {
		return !now.Before(e.retryAt)
	}
	return e.table == nil || now.Sub(e.builtAt) >= c.cfg.TTL
}

func result(e *entry) (Snapshot, error) {
	if e.table == nil {
		err := e.lastErr
		if err == nil {
			return e.snapshot(), ErrNoTable
		}
		return e.snapshot(), fmt.Errorf("%w: %w", ErrNoTable, err)
	}
	return e.snapshot(), nil
}

// rebuild runs one build and installs its outcome. Only called inside the
// singleflight group, so there is a single writer.
func (c *Cache) rebuild(ctx context.Context, now time.Time) *entry {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.BuildTimeout)
	defer cancel()

	prev := c.current.Load()
	table, stats, err := c.builder.Build(ctx, now)
	if err != nil {
		next := c.failed(ctx, prev, stats, err, now)
		c.current.Store(next)

		c.mu.RLock()
		hooks := slices.Clone(c.onError)
		c.mu.RUnlock()
		for _, fn := range hooks {
			fn(err)
		}
		return next
	}

	next := &entry{table: table, stats: stats, builtAt: now}
	c.current.Store(next)

	if c.cfg.Store != nil {
		if err := c.cfg.Store.Save(ctx, table); err != nil {
			log.WithError(err).Warn("Failed to save snapshot")
		}
	}

	snap := next.snapshot()
	c.mu.RLock()
	listeners := slices.Clone(c.listeners)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
	return next
}

// failed builds the entry installed after a failed rebuild. The previous
// table stays authoritative; without one, the snapshot store is consulted.
func (c *Cache) failed(ctx context.Context, prev *entry, stats Stats, err error, now time.Time) *entry {
	next := &entry{lastErr: err, failures: 1, stats: stats}
	if prev != nil {
		next.table = prev.table
		next.builtAt = prev.builtAt
		next.failures = prev.failures + 1
		if prev.table != nil {
			next.stats = prev.stats
		}
	}

	if next.table == nil && c.cfg.Store != nil {
		saved, loadErr := c.cfg.Store.Load(ctx)
		switch {
		case loadErr == nil:
			next.table = saved
			next.builtAt = saved.BuiltAt
			log.WithFields(log.Fields{
				"snapshot_id": saved.ID,
				"built_at":    saved.BuiltAt,
			}).Warn("Serving saved snapshot after failed build")
		case !errors.Is(loadErr, storage.ErrNotFound):
			log.WithError(loadErr).Warn("Failed to load saved snapshot")
		}
	}

	shift := next.failures - 1
	if shift > 16 {
		shift = 16
	}
	backoff := c.cfg.MinBackoff << shift
	if backoff > c.cfg.MaxBackoff || backoff <= 0 {
		backoff = c.cfg.MaxBackoff
	}
	next.retryAt = now.Add(backoff)

	log.WithError(err).WithFields(log.Fields{
		"failures":   next.failures,
		"retry_in":   backoff,
		"have_table": next.table != nil,
	}).Error("Table refresh failed")
	return next
}
