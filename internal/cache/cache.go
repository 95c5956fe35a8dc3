package cache

import "sync"

// Cache remembers the first value claimed for each canonical URL.
type Cache[T any] struct {
	mu    sync.Mutex
	items map[string]T
}

func New[T any]() *Cache[T] {
	return &Cache[T]{items: make(map[string]T)}
}

// Get returns the value claimed for key, if any.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.items[key]

	return value, ok
}

// Claim stores value only if key is absent. It returns the value now held
// and true when this call stored it.
func (c *Cache[T]) Claim(key string, value T) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		return existing, false
	}
	c.items[key] = value

	return value, true
}

// Len returns the number of claimed keys.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}
