package domain

import "sync"

// Cache memoizes providers by domain name. Schema files rarely change while
// the daemon runs, so requests in the same domain share one parsed schema.
// Invalidate forces a reload after an on-disk schema edit.
type Cache struct {
	cfg Config

	mu        sync.Mutex
	providers map[string]*Provider
}

// NewCache creates a provider cache over cfg.
func NewCache(cfg Config) *Cache {
	return &Cache{
		cfg:       cfg,
		providers: make(map[string]*Provider),
	}
}

// Get returns the provider for domain, loading it on first use.
func (c *Cache) Get(domain string) (*Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.providers[domain]; ok {
		return p, nil
	}

	p, err := Load(c.cfg, domain)
	if err != nil {
		return nil, err
	}
	c.providers[domain] = p
	return p, nil
}

// Invalidate drops the cached provider for domain, if any.
func (c *Cache) Invalidate(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.providers, domain)
}
