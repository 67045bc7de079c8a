package registry

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL is how long a fetched registry snapshot is considered fresh.
const DefaultTTL = 10 * time.Minute

// Loader produces a registry snapshot. It must not fail; degraded loads
// return Empty().
type Loader func(ctx context.Context) *ActionsRegistry

// snapshot pairs a registry with the time it was fetched.
type snapshot struct {
	registry  *ActionsRegistry
	fetchedAt time.Time
}

// Cache is a caller-owned registry cache. Snapshots are swapped atomically;
// readers never observe a partially built registry. A stale snapshot is
// served while a single background refresh runs.
type Cache struct {
	current    atomic.Pointer[snapshot]
	refreshing atomic.Bool
	loadMu     sync.Mutex
	load       Loader
	ttl        time.Duration
	logger     *zap.Logger
	onRefresh  func(*ActionsRegistry, time.Duration)
	now        func() time.Time
}

// CacheConfig configures a Cache.
type CacheConfig struct {
	RegistryURL string
	HTTPClient  *http.Client
	TTL         time.Duration
	Logger      *zap.Logger
	// OnRefresh is called after every load with the new snapshot and the
	// load duration.
	OnRefresh func(reg *ActionsRegistry, took time.Duration)
}

// NewCache creates a cache that fetches RegistryURL.
func NewCache(cfg CacheConfig) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	url := cfg.RegistryURL
	return newCache(func(ctx context.Context) *ActionsRegistry {
		return Fetch(ctx, client, url, logger)
	}, cfg.TTL, logger, cfg.OnRefresh)
}

// NewCacheWithLoader creates a cache backed by a custom loader.
func NewCacheWithLoader(load Loader, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newCache(load, ttl, logger, nil)
}

// Static returns a cache permanently holding reg.
func Static(reg *ActionsRegistry) *Cache {
	if reg == nil {
		reg = Empty()
	}
	c := newCache(func(context.Context) *ActionsRegistry { return reg }, 0, zap.NewNop(), nil)
	c.store(reg)
	return c
}

func newCache(load Loader, ttl time.Duration, logger *zap.Logger, onRefresh func(*ActionsRegistry, time.Duration)) *Cache {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		load:      load,
		ttl:       ttl,
		logger:    logger,
		onRefresh: onRefresh,
		now:       time.Now,
	}
}

// Get returns the current snapshot and when it was fetched. The first call
// loads synchronously; later calls never block on the network.
func (c *Cache) Get(ctx context.Context) (*ActionsRegistry, time.Time) {
	snap := c.current.Load()
	if snap == nil {
		return c.loadOnce(ctx)
	}

	if c.now().Sub(snap.fetchedAt) >= c.ttl && c.refreshing.CompareAndSwap(false, true) {
		go func() {
			defer c.refreshing.Store(false)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			c.Refresh(ctx)
		}()
	}
	return snap.registry, snap.fetchedAt
}

// loadOnce performs the initial synchronous load; concurrent first callers
// share it.
func (c *Cache) loadOnce(ctx context.Context) (*ActionsRegistry, time.Time) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if snap := c.current.Load(); snap != nil {
		return snap.registry, snap.fetchedAt
	}
	reg := c.Refresh(ctx)
	snap := c.current.Load()
	return reg, snap.fetchedAt
}

// Refresh loads a new snapshot and swaps it in.
func (c *Cache) Refresh(ctx context.Context) *ActionsRegistry {
	start := c.now()
	reg := c.load(ctx)
	if reg == nil {
		reg = Empty()
	}
	c.store(reg)

	took := c.now().Sub(start)
	c.logger.Debug("security registry refreshed",
		zap.Int("actions", reg.Len(SourceActions)),
		zap.Int("websites", reg.Len(SourceWebsites)),
		zap.Int("interstitials", reg.Len(SourceInterstitials)),
		zap.Duration("took", took),
	)
	if c.onRefresh != nil {
		c.onRefresh(reg, took)
	}
	return reg
}

func (c *Cache) store(reg *ActionsRegistry) {
	c.current.Store(&snapshot{registry: reg, fetchedAt: c.now()})
}

// Run refreshes the cache every TTL until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			c.Refresh(refreshCtx)
			cancel()
		}
	}
}
