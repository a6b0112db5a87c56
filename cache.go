package pagegen

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/eringen/pagegen/pipeline"
)

// PageCache is an in-memory cache of published pages and their templates
// with TTL. It implements pipeline.Invalidator so job runs drop stale pages.
type PageCache struct {
	mu        sync.RWMutex
	pages     []pipeline.Page
	bySlug    map[string]int
	templates map[string]*Template
	fetched   time.Time
	ttl       time.Duration
	store     *Store
}

var _ pipeline.Invalidator = (*PageCache)(nil)

// NewPageCache creates a PageCache backed by the given Store.
func NewPageCache(s *Store, ttl time.Duration) *PageCache {
	return &PageCache{store: s, ttl: ttl, templates: make(map[string]*Template)}
}

func (c *PageCache) valid() bool {
	return c.pages != nil && time.Since(c.fetched) < c.ttl
}

// Invalidate clears the cache so the next read triggers a fresh load.
func (c *PageCache) Invalidate() {
	c.mu.Lock()
	c.pages = nil
	c.bySlug = nil
	c.templates = make(map[string]*Template)
	c.mu.Unlock()
}

// InvalidatePath drops the page listing so the page at path is reloaded on
// the next read. Templates stay cached.
func (c *PageCache) InvalidatePath(_ context.Context, path string) error {
	c.mu.Lock()
	c.pages = nil
	c.bySlug = nil
	c.mu.Unlock()
	return nil
}

// InvalidateTemplate drops one cached template.
func (c *PageCache) InvalidateTemplate(id string) {
	c.mu.Lock()
	delete(c.templates, id)
	c.mu.Unlock()
}

func (c *PageCache) load(ctx context.Context) error {
	if c.valid() {
		return nil
	}
	pages, err := c.store.ListPublishedPages(ctx)
	if err != nil {
		return err
	}
	if pages == nil {
		pages = []pipeline.Page{}
	}
	bySlug := make(map[string]int, len(pages))
	for i, p := range pages {
		bySlug[p.Slug] = i
	}
	c.pages = pages
	c.bySlug = bySlug
	c.fetched = time.Now()
	return nil
}

// ensureLoaded returns the cached pages after ensuring the cache is fresh.
// It tries a read lock first; only takes a write lock if a reload is needed.
func (c *PageCache) ensureLoaded(ctx context.Context) ([]pipeline.Page, map[string]int, error) {
	c.mu.RLock()
	if c.valid() {
		pages, bySlug := c.pages, c.bySlug
		c.mu.RUnlock()
		return pages, bySlug, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(ctx); err != nil {
		return nil, nil, err
	}
	return c.pages, c.bySlug, nil
}

// ListPages returns published pages, most recently updated first.
func (c *PageCache) ListPages(ctx context.Context) ([]pipeline.Page, error) {
	pages, _, err := c.ensureLoaded(ctx)
	return pages, err
}

// GetPage returns a single published page by slug. Leading and trailing
// slashes are ignored so URL paths can be passed directly.
func (c *PageCache) GetPage(ctx context.Context, slug string) (pipeline.Page, error) {
	pages, bySlug, err := c.ensureLoaded(ctx)
	if err != nil {
		return pipeline.Page{}, err
	}
	i, ok := bySlug[strings.Trim(slug, "/")]
	if !ok {
		return pipeline.Page{}, ErrNotFound
	}
	return pages[i], nil
}

// GetTemplate returns a template by ID, loading it on first use.
func (c *PageCache) GetTemplate(ctx context.Context, id string) (*Template, error) {
	c.mu.RLock()
	t, ok := c.templates[id]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}
	t, err := c.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.templates[id] = t
	c.mu.Unlock()
	return t, nil
}
