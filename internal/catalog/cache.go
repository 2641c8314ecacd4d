package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
)

// StagesReader is the slice of the stage repository the cache needs.
type StagesReader interface {
	List(ctx context.Context, tenantID string, workflow domain.Workflow) ([]domain.Stage, error)
}

// Cache keeps per-tenant stage catalogs in memory for a bounded TTL. Catalogs
// change rarely (seed runs, admin upserts) and are read on every transition,
// so a short TTL plus explicit Invalidate after writes keeps reads cheap
// without letting stale orderings linger.
type Cache struct {
	reader StagesReader
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

type cacheKey struct {
	tenantID string
	workflow domain.Workflow
}

type cacheEntry struct {
	stages  []domain.Stage
	expires time.Time
}

const defaultCacheTTL = 30 * time.Second

// NewCache wraps reader with a TTL cache. A non-positive ttl falls back to
// the default.
func NewCache(reader StagesReader, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{
		reader:  reader,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// Stages returns the ordered stage catalog for a tenant's workflow, reading
// through to the repository on miss or expiry.
func (c *Cache) Stages(ctx context.Context, tenantID string, workflow domain.Workflow) ([]domain.Stage, error) {
	key := cacheKey{tenantID: tenantID, workflow: workflow}

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && c.now().Before(entry.expires) {
		c.mu.Unlock()
		return entry.stages, nil
	}
	c.mu.Unlock()

	stages, err := c.reader.List(ctx, tenantID, workflow)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{stages: stages, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return stages, nil
}

// Stage resolves one stage by key from the cached catalog.
func (c *Cache) Stage(ctx context.Context, tenantID string, workflow domain.Workflow, stageKey string) (domain.Stage, error) {
	stages, err := c.Stages(ctx, tenantID, workflow)
	if err != nil {
		return domain.Stage{}, err
	}
	for _, st := range stages {
		if st.Key == stageKey {
			return st, nil
		}
	}
	return domain.Stage{}, repo.ErrNotFound
}

// Invalidate drops every cached catalog for the tenant. Seeding happens out
// of process, so callers invoke this when a read suggests the cached catalog
// is stale, typically after an empty-catalog miss.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.tenantID == tenantID {
			delete(c.entries, key)
		}
	}
}
