package notion

import "sync"

// pageCache maps task ids to tracker page ids. Rows never move between
// pages, so entries are cached for the process lifetime.
type pageCache struct {
	mu    sync.RWMutex
	pages map[string]string
}

func newPageCache() pageCache {
	return pageCache{pages: make(map[string]string)}
}

func (c *pageCache) get(taskID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.pages[taskID]
	return id, ok
}

func (c *pageCache) put(taskID, pageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[taskID] = pageID
}
