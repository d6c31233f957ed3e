package discovery

import (
	"context"
	"sync"
)

// MemoryCache is a PageCache that lives for one session.
type MemoryCache struct {
	mu    sync.RWMutex
	pages map[string]string
}

var _ PageCache = &MemoryCache{}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{pages: make(map[string]string)}
}

func (c *MemoryCache) Get(_ context.Context, pageURL string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.pages[pageURL]
	return content, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, pageURL, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[pageURL] = content
	return nil
}
