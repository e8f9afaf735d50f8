package rp

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

// DefaultExpiration is the rp_cache_expiration_in_minutes default.
const DefaultExpiration = 60 * time.Minute

// DefaultFetchTimeout bounds one shared store fetch.
const DefaultFetchTimeout = 10 * time.Second

type cachedRp struct {
	rp        *Rp
	fetchedAt time.Time
}

// Cache is a time-bounded read-through cache over a Store. A fresh entry
// is served without touching the store; a stale or missing one triggers
// exactly one store fetch, shared by every concurrent caller asking for
// the same key. The cache lock is never held during a fetch, so a slow
// lookup for one oxd_id does not delay others. A shared fetch runs
// detached from the context of the caller that started it; each caller
// stops waiting when its own context ends.
//
// Records handed out are copies; callers may modify them freely.
type Cache struct {
	store        Store
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu       sync.RWMutex
	entries  map[string]cachedRp
	byClient map[string]string // client_id -> oxd_id
	gen      uint64            // bumped by every write; fetches started earlier do not populate

	group singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithFetchTimeout bounds each shared store fetch. Non-positive values
// keep DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// NewCache returns a Cache over store. A non-positive ttl selects
// DefaultExpiration.
func NewCache(store Store, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultExpiration
	}
	c := &Cache{
		store:        store,
		ttl:          ttl,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		logger:       slog.Default(),
		entries:      make(map[string]cachedRp),
		byClient:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the backing store.
func (c *Cache) Store() Store {
	return c.store
}

func (c *Cache) fresh(e cachedRp) bool {
	return c.now().Sub(e.fetchedAt) <= c.ttl
}

func (c *Cache) cached(oxdID string) (*Rp, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[oxdID]
	if !ok || !c.fresh(e) {
		return nil, false
	}
	return e.rp.Clone(), true
}

func (c *Cache) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// remember caches r unless a write happened since the fetch began at gen.
// Only a store answer for a client_id lookup enters the client index, so
// the index always names the first registered site.
func (c *Cache) remember(r *Rp, gen uint64, byClientID bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.entries[r.OxdID] = cachedRp{rp: r.Clone(), fetchedAt: c.now()}
	if byClientID && r.ClientID != "" {
		c.byClient[r.ClientID] = r.OxdID
	}
}

// load runs fetch once per key across concurrent callers. The fetch gets
// its own deadline; ctx only ends this caller's wait.
func (c *Cache) load(ctx context.Context, key string, fetch func(context.Context) (*Rp, error)) (*Rp, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return fetch(fctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Rp).Clone(), nil
	case <-ctx.Done():
		return nil, storeError(ctx.Err(), "%s", key)
	}
}

// GetRp resolves oxdID. An unregistered site is (nil, nil); what that
// means is up to the caller.
func (c *Cache) GetRp(ctx context.Context, oxdID string) (*Rp, error) {
	if strings.TrimSpace(oxdID) == "" {
		return nil, nil
	}
	if r, ok := c.cached(oxdID); ok {
		return r, nil
	}

	return c.load(ctx, "oxd:"+oxdID, func(ctx context.Context) (*Rp, error) {
		if r, ok := c.cached(oxdID); ok {
			return r, nil
		}
		gen := c.generation()
		r, err := c.store.Get(ctx, oxdID)
		if err != nil {
			return nil, storeError(err, "oxd_id %s", oxdID)
		}
		if r != nil {
			c.remember(r, gen, false)
		}
		return r, nil
	})
}

// GetRpByClientID resolves the first registered site with clientID.
func (c *Cache) GetRpByClientID(ctx context.Context, clientID string) (*Rp, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, nil
	}
	c.mu.RLock()
	oxdID, indexed := c.byClient[clientID]
	c.mu.RUnlock()
	if indexed {
		if r, ok := c.cached(oxdID); ok && r.ClientID == clientID {
			return r, nil
		}
	}

	return c.load(ctx, "client:"+clientID, func(ctx context.Context) (*Rp, error) {
		gen := c.generation()
		r, err := c.store.GetByClientID(ctx, clientID)
		if err != nil {
			return nil, storeError(err, "client_id %s", clientID)
		}
		if r != nil {
			c.remember(r, gen, true)
		}
		return r, nil
	})
}

// Put writes r through to the store and caches it.
func (c *Cache) Put(ctx context.Context, r *Rp) error {
	if err := c.store.Put(ctx, r); err != nil {
		return oxderr.Wrapf(err, oxderr.KindInternalErrorUnknown, "rp: failed to persist oxd_id %s", r.OxdID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	indexed := r.ClientID != "" && c.byClient[r.ClientID] == r.OxdID
	c.dropLocked(r.OxdID)
	c.entries[r.OxdID] = cachedRp{rp: r.Clone(), fetchedAt: c.now()}
	if indexed {
		c.byClient[r.ClientID] = r.OxdID
	}
	return nil
}

// Invalidate drops the cached entry for oxdID. The next read refetches.
func (c *Cache) Invalidate(oxdID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.dropLocked(oxdID)
}

// Remove deletes the site from the store and the cache.
func (c *Cache) Remove(ctx context.Context, oxdID string) error {
	if err := c.store.Remove(ctx, oxdID); err != nil {
		return oxderr.Wrapf(err, oxderr.KindFailedToRemoveSite, "rp: oxd_id %s", oxdID)
	}
	c.Invalidate(oxdID)
	return nil
}

// List reads every site straight from the store, in registration order.
func (c *Cache) List(ctx context.Context) ([]*Rp, error) {
	sites, err := c.store.List(ctx)
	if err != nil {
		return nil, storeError(err, "list")
	}
	return sites, nil
}

func (c *Cache) dropLocked(oxdID string) {
	if e, ok := c.entries[oxdID]; ok && c.byClient[e.rp.ClientID] == oxdID {
		delete(c.byClient, e.rp.ClientID)
	}
	delete(c.entries, oxdID)
}

// EvictExpired removes stale entries and reports how many were dropped.
// It is run by the background sweeper.
func (c *Cache) EvictExpired(context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, e := range c.entries {
		if !c.fresh(e) {
			c.dropLocked(id)
			n++
		}
	}
	if n > 0 {
		c.logger.Debug("rp cache: evicted expired entries", "count", n)
	}
	return n
}

// Len reports the number of cached entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func storeError(err error, format string, args ...any) error {
	if oxderr.IsUpstream(err) {
		return err
	}
	return oxderr.Wrapf(err, oxderr.KindFailedToGetRp, "rp: "+format, args...)
}
