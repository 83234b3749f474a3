package courseconfig

import "sync"

type cacheKey struct {
	course string
	stage  Stage
}

// Cache keeps the most recently loaded configuration per course and stage.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*CourseConfig
}

func NewCache() *Cache {
	return &Cache{entries: map[cacheKey]*CourseConfig{}}
}

// Save stores cfg as the configuration of its course in stage.
func (c *Cache) Save(cfg *CourseConfig, stage Stage) {
	if c == nil || cfg == nil {
		return
	}
	cp := *cfg
	cp.Stage = stage
	c.mu.Lock()
	c.entries[cacheKey{cfg.Key, stage}] = &cp
	c.mu.Unlock()
}

// Get returns the cached configuration, or nil.
func (c *Cache) Get(key string, stage Stage) *CourseConfig {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[cacheKey{key, stage}]
}

func (c *Cache) Invalidate(key string, stage Stage) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, cacheKey{key, stage})
	c.mu.Unlock()
}
