// Package identity maintains the advisory mapping between provider-issued
// opaque ids and canonical phone numbers. The in-memory map is authoritative
// for reads; a single durable record backs it across restarts. A cache miss is
// never a correctness bug, only a resolver stage that falls through.
package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/anonzap/anonzap-backend/pkg/logging"
)

// Mapping is one opaque-id binding.
type Mapping struct {
	Phone     string    `json:"phone"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DurableStore persists the whole mapping set as one keyed record.
type DurableStore interface {
	Load(ctx context.Context) (map[string]Mapping, error)
	Save(ctx context.Context, mappings map[string]Mapping) error
}

const flushTimeout = 10 * time.Second

// Cache is the two-tier opaque-id cache. Writes schedule a debounced durable
// flush: one pending timer per process, cancel-and-replace on every write, so
// a burst of writes persists once after activity quiesces.
type Cache struct {
	store    DurableStore
	logger   *logging.Logger
	debounce time.Duration

	mu         sync.Mutex
	entries    map[string]Mapping
	hydrated   bool
	flushTimer *time.Timer
	closed     bool
}

// NewCache creates the cache. The durable store may be nil, which leaves the
// cache purely in-memory (resolver stage 2 degrades to cold-start misses).
func NewCache(store DurableStore, debounce time.Duration, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Default()
	}
	if debounce <= 0 {
		debounce = 3 * time.Second
	}
	return &Cache{
		store:    store,
		logger:   logger,
		debounce: debounce,
		entries:  make(map[string]Mapping),
	}
}

// CanonicalID strips the provider domain from a raw opaque identifier, e.g.
// "123456@lid" becomes "123456".
func CanonicalID(raw string) string {
	raw = strings.TrimSpace(raw)
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}
	return raw
}

// Hydrate loads the durable record into memory once per process lifetime.
// Subsequent calls are no-ops regardless of outcome; a failed load is logged
// and treated as an empty cache.
func (c *Cache) Hydrate(ctx context.Context) {
	c.mu.Lock()
	if c.hydrated || c.store == nil {
		c.hydrated = true
		c.mu.Unlock()
		return
	}
	c.hydrated = true
	c.mu.Unlock()

	loaded, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("identity: hydrate failed, starting cold", "error", err)
		return
	}
	c.mu.Lock()
	for id, m := range loaded {
		if _, exists := c.entries[id]; !exists {
			c.entries[id] = m
		}
	}
	c.mu.Unlock()
	c.logger.Info("identity: hydrated mappings", "count", len(loaded))
}

// Get returns the canonical phone bound to the opaque id, if any.
func (c *Cache) Get(ctx context.Context, opaqueID string) (string, bool) {
	c.Hydrate(ctx)
	id := CanonicalID(opaqueID)
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[id]
	if !ok || m.Phone == "" {
		return "", false
	}
	return m.Phone, true
}

// Put binds an opaque id to a phone and schedules a debounced durable flush.
func (c *Cache) Put(ctx context.Context, opaqueID, phone string) {
	c.Hydrate(ctx)
	id := CanonicalID(opaqueID)
	if id == "" || phone == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = Mapping{Phone: phone, UpdatedAt: time.Now().UTC()}
	c.scheduleFlushLocked()
}

// scheduleFlushLocked cancels any pending flush and starts the window over.
func (c *Cache) scheduleFlushLocked() {
	if c.store == nil || c.closed {
		return
	}
	if c.flushTimer != nil {
		c.flushTimer.Stop()
	}
	c.flushTimer = time.AfterFunc(c.debounce, c.flush)
}

func (c *Cache) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	c.mu.Lock()
	snapshot := make(map[string]Mapping, len(c.entries))
	for id, m := range c.entries {
		snapshot[id] = m
	}
	c.mu.Unlock()

	if err := c.store.Save(ctx, snapshot); err != nil {
		// Advisory data: a lost flush costs at most one resolver stage later.
		c.logger.Warn("identity: flush failed", "error", err, "count", len(snapshot))
		return
	}
	c.logger.Debug("identity: flushed mappings", "count", len(snapshot))
}

// Len reports the number of in-memory mappings.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close cancels any pending timer and flushes synchronously.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.flushTimer != nil && c.flushTimer.Stop()
	hasStore := c.store != nil
	c.mu.Unlock()

	if pending && hasStore {
		c.flush()
	}
}
