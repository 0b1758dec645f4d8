// Package dedup filters already-seen job postings and already-identified companies.
package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonathan/stack-scout/internal/store"
	"github.com/jonathan/stack-scout/internal/types"
)

// CompanyCache holds normalized names of identified companies. Its staleness window
// is explicit: entries are reloaded from the store once TTL has elapsed since the
// last load. A zero TTL loads once and never expires, which suits per-run caches.
type CompanyCache struct {
	mu       sync.RWMutex
	names    map[string]bool
	loadedAt time.Time
	ttl      time.Duration

	// Now is the clock; replaced in tests.
	Now func() time.Time
}

// NewCompanyCache creates an empty cache that loads on first use.
func NewCompanyCache(ttl time.Duration) *CompanyCache {
	return &CompanyCache{ttl: ttl, Now: time.Now}
}

func (c *CompanyCache) stale() bool {
	if c.names == nil {
		return true
	}
	return c.ttl > 0 && c.Now().Sub(c.loadedAt) >= c.ttl
}

func (c *CompanyCache) contains(name string) (known, fresh bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stale() {
		return false, false
	}
	return c.names[name], true
}

func (c *CompanyCache) replace(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = make(map[string]bool, len(names))
	for _, n := range names {
		c.names[types.NormalizeCompanyName(n)] = true
	}
	c.loadedAt = c.Now()
}

// Remember adds a company identified during the current run.
func (c *CompanyCache) Remember(companyName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.names == nil {
		// Not loaded yet; the next load reads it from the store.
		return
	}
	c.names[types.NormalizeCompanyName(companyName)] = true
}

// Invalidate forces a reload on next use.
func (c *CompanyCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = nil
}

// TTL returns the staleness window; zero means the cache lives for one run.
func (c *CompanyCache) TTL() time.Duration {
	return c.ttl
}

// Len returns the number of cached names.
func (c *CompanyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

// Deduplicator answers "have we seen this job" and "do we already know this company".
// It never writes to the stores.
type Deduplicator struct {
	jobs      store.JobStore
	companies store.CompanyStore
	cache     *CompanyCache
	logger    *slog.Logger
}

// New creates a Deduplicator. A nil cache disables caching and every company
// check goes to the store.
func New(jobs store.JobStore, companies store.CompanyStore, cache *CompanyCache, logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{jobs: jobs, companies: companies, cache: cache, logger: logger}
}

// Cache returns the company cache, or nil.
func (d *Deduplicator) Cache() *CompanyCache {
	return d.cache
}

// FilterNewPostings returns the postings whose job_id is not yet stored, in input
// order, using one batch lookup. Duplicate ids within the input keep the first
// occurrence. Lookup errors are returned as *types.StorageFailure, never treated
// as "all new".
func (d *Deduplicator) FilterNewPostings(ctx context.Context, postings []types.JobPosting) ([]types.JobPosting, error) {
	if len(postings) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(postings))
	for _, p := range postings {
		ids = append(ids, p.JobID)
	}
	existing, err := d.jobs.ExistingJobIDs(ctx, ids)
	if err != nil {
		return nil, types.NewStorageFailure("lookup existing job ids", err)
	}

	seen := make(map[string]bool, len(postings))
	fresh := make([]types.JobPosting, 0, len(postings))
	for _, p := range postings {
		if existing[p.JobID] || seen[p.JobID] {
			continue
		}
		seen[p.JobID] = true
		fresh = append(fresh, p)
	}
	d.logger.DebugContext(ctx, "filtered postings",
		"input", len(postings),
		"known", len(existing),
		"new", len(fresh))
	return fresh, nil
}

// IsCompanyAlreadyIdentified reports whether the company has any identified row,
// matching on the normalized name. Store errors are *types.StorageFailure.
func (d *Deduplicator) IsCompanyAlreadyIdentified(ctx context.Context, companyName string) (bool, error) {
	name := types.NormalizeCompanyName(companyName)
	if name == "" {
		return false, nil
	}
	if d.cache == nil {
		known, err := d.companies.IsCompanyIdentified(ctx, name)
		if err != nil {
			return false, types.NewStorageFailure("check identified company", err)
		}
		return known, nil
	}

	if known, fresh := d.cache.contains(name); fresh {
		return known, nil
	}
	names, err := d.companies.IdentifiedCompanyNames(ctx)
	if err != nil {
		return false, types.NewStorageFailure("load identified companies", err)
	}
	d.cache.replace(names)
	d.logger.DebugContext(ctx, "loaded identified company cache", "companies", len(names))
	known, _ := d.cache.contains(name)
	return known, nil
}

// Remember records a company identified during this run in the cache.
func (d *Deduplicator) Remember(companyName string) {
	if d.cache != nil {
		d.cache.Remember(companyName)
	}
}
