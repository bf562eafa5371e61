package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryCache struct {
	c *gocache.Cache
	// mu serializes GetDel so a key is handed out once.
	mu sync.Mutex
}

// NewMemoryCache returns an in-process Cache. Entries set with a zero ttl never expire.
func NewMemoryCache(cleanupInterval time.Duration) Cache {
	return &memoryCache{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *memoryCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(key, value, ttl)
	return nil
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", ErrCacheMiss
	}
	s, _ := v.(string)
	return s, nil
}

func (m *memoryCache) Del(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *memoryCache) GetDel(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.c.Get(key)
	if !ok {
		return "", ErrCacheMiss
	}
	m.c.Delete(key)
	s, _ := v.(string)
	return s, nil
}
