package codestore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// cleanupInterval controls how often expired entries are reaped.
const cleanupInterval = time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache for single-node deployments and
// tests. Entries are checked for expiry on read and reaped periodically
// by a background goroutine. Call Stop to end it.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
	stopGC  chan struct{}
	stopped sync.Once
}

// NewMemoryCache creates an empty cache and starts its reaper.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		stopGC:  make(chan struct{}),
	}
	go c.gcLoop()

	return c
}

// Stop terminates the background cleanup goroutine.
func (c *MemoryCache) Stop() {
	c.stopped.Do(func() { close(c.stopGC) })
}

func (c *MemoryCache) gcLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopGC:
			return
		}
	}
}

// cleanup removes all expired entries.
func (c *MemoryCache) cleanup() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Set stores a copy of value under key with the given TTL.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl <= 0 {
		return fmt.Errorf("memory set: ttl must be positive")
	}

	v := make([]byte, len(value))
	copy(v, value)

	c.mu.Lock()
	c.entries[key] = memoryEntry{value: v, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()

	return nil
}

// GetDel removes and returns the value under key. Expired entries are
// removed and reported as a miss.
func (c *MemoryCache) GetDel(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}

	delete(c.entries, key)

	if !c.now().Before(e.expiresAt) {
		return nil, ErrCacheMiss
	}

	return e.value, nil
}

// Ping always succeeds.
func (c *MemoryCache) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
