package chainclient

import (
	"sync"
	"time"
)

// TokenPriceCache manages cached token prices to avoid duplicate API calls
type TokenPriceCache struct {
	mu       sync.RWMutex
	cache    map[string]*cachedPrice
	cacheTTL time.Duration
}

// cachedPrice represents a cached token price with timestamp
type cachedPrice struct {
	price     float64
	timestamp time.Time
}

// NewTokenPriceCache creates a new token price cache
func NewTokenPriceCache(cacheTTL time.Duration) *TokenPriceCache {
	return &TokenPriceCache{
		cache:    make(map[string]*cachedPrice),
		cacheTTL: cacheTTL,
	}
}

// Get retrieves a cached price if it's still valid, otherwise returns false
func (c *TokenPriceCache) Get(tokenID string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, exists := c.cache[tokenID]
	if !exists {
		return 0, false
	}

	if time.Since(cached.timestamp) > c.cacheTTL {
		return 0, false
	}

	return cached.price, true
}

// Set stores a price in the cache with current timestamp
func (c *TokenPriceCache) Set(tokenID string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[tokenID] = &cachedPrice{
		price:     price,
		timestamp: time.Now(),
	}
}

// Clear removes all cached entries
func (c *TokenPriceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string]*cachedPrice)
}

// Len returns the number of cached entries, expired ones included
func (c *TokenPriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// TTL returns the cache's time-to-live
func (c *TokenPriceCache) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cacheTTL
}
