package pipeline

import (
	"container/list"
	"sync"

	"screentest-backend/internal/model"
)

type cacheEntry struct {
	key   string
	value *model.GenerationResult
}

// ResultCache maps fingerprints to normalized results with least-recently-used eviction.
// A capacity of zero never evicts. Results are cloned on the way in and out.
type ResultCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	ll       *list.List
}

func NewResultCache(capacity int) *ResultCache {
	if capacity < 0 {
		capacity = 0
	}
	return &ResultCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		ll:       list.New(),
	}
}

func (c *ResultCache) Get(fingerprint string) (*model.GenerationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[fingerprint]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(elem)
	return elem.Value.(cacheEntry).value.Clone(), true
}

// Put stores result under fingerprint, replacing any previous entry.
func (c *ResultCache) Put(fingerprint string, result *model.GenerationResult) {
	if result == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{key: fingerprint, value: result.Clone()}
	if elem, ok := c.items[fingerprint]; ok {
		elem.Value = entry
		c.ll.MoveToFront(elem)
		return
	}
	c.items[fingerprint] = c.ll.PushFront(entry)
	if c.capacity > 0 && c.ll.Len() > c.capacity {
		if tail := c.ll.Back(); tail != nil {
			c.ll.Remove(tail)
			delete(c.items, tail.Value.(cacheEntry).key)
		}
	}
}

func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *ResultCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.ll = list.New()
}
