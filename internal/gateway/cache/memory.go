package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/modelrelay/gateway/internal/gateway/providers"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache keeps serialized entries in process memory. Used in tests and
// when no Redis URL is configured. Entries are serialized so lookups return
// independent snapshots, same as the Redis implementation.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Lookup retrieves a cached response, purging the entry if it has expired.
func (c *MemoryCache) Lookup(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, bool) {
	key := Key(req)

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return nil, false
	}

	var cached providers.ChatResponse
	if err := json.Unmarshal(entry.data, &cached); err != nil {
		return nil, false
	}
	return &cached, true
}

// Store caches a response for ttl.
func (c *MemoryCache) Store(ctx context.Context, req providers.ChatRequest, resp *providers.ChatResponse, ttl time.Duration) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.entries[Key(req)] = memoryEntry{data: data, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}
