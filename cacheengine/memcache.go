package cacheengine

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/raipay/chronikcache/substore"
)

// memCache is the memory tier of the two-tier read path: a subject ->
// {data, expiry} map with an initial TTL that extends by a fixed amount
// on every access, fronted by a background sweeper. Built on
// jellydator/ttlcache/v3, the same library a generational blockchain
// cache would use for its own touch-on-access accounting.
type memCache struct {
	cache  *ttlcache.Cache[string, *substore.Data]
	ttl    time.Duration
	extend time.Duration
}

func newMemCache(ttl, extend, sweep time.Duration) *memCache {
	c := ttlcache.New[string, *substore.Data](
		ttlcache.WithTTL[string, *substore.Data](ttl),
		ttlcache.WithDisableTouchOnHit[string, *substore.Data](),
	)
	m := &memCache{cache: c, ttl: ttl, extend: extend}
	go c.Start()
	return m
}

// get returns the cached data for key, extending its TTL by m.extend on
// hit (rather than resetting to the full initial TTL).
func (m *memCache) get(key string) (*substore.Data, bool) {
	item := m.cache.Get(key)
	if item == nil {
		return nil, false
	}

	newTTL := time.Until(item.ExpiresAt()) + m.extend
	m.cache.Set(key, item.Value(), newTTL)

	return item.Value(), true
}

func (m *memCache) set(key string, data *substore.Data) {
	m.cache.Set(key, data, m.ttl)
}

func (m *memCache) invalidate(key string) {
	m.cache.Delete(key)
}

func (m *memCache) invalidateAll() {
	m.cache.DeleteAll()
}

func (m *memCache) len() int {
	return m.cache.Len()
}

func (m *memCache) stop() {
	m.cache.Stop()
}
