package eot

import (
	"container/list"
	"time"
)

// verdictCache is a small TTL'd LRU keyed on loose-normalised transcripts.
// Capacity and TTL are fixed at construction; the session op chain serialises
// access, so no locking is needed.
type verdictCache struct {
	cap   int
	ttl   time.Duration
	order *list.List
	byKey map[string]*list.Element
}

type cacheEntry struct {
	key     string
	dec     Decision
	savedAt time.Time
}

func newVerdictCache(capacity int, ttl time.Duration) *verdictCache {
	return &verdictCache{
		cap:   capacity,
		ttl:   ttl,
		order: list.New(),
		byKey: make(map[string]*list.Element, capacity),
	}
}

func (c *verdictCache) get(key string, now time.Time) (Decision, bool) {
	el, ok := c.byKey[key]
	if !ok {
		return Decision{}, false
	}
	ent := el.Value.(*cacheEntry)
	if now.Sub(ent.savedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.byKey, key)
		return Decision{}, false
	}
	c.order.MoveToFront(el)
	return ent.dec, true
}

func (c *verdictCache) put(key string, dec Decision, now time.Time) {
	if el, ok := c.byKey[key]; ok {
		ent := el.Value.(*cacheEntry)
		ent.dec = dec
		ent.savedAt = now
		c.order.MoveToFront(el)
		return
	}
	for c.order.Len() >= c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.byKey, oldest.Value.(*cacheEntry).key)
	}
	c.byKey[key] = c.order.PushFront(&cacheEntry{key: key, dec: dec, savedAt: now})
}

func (c *verdictCache) len() int { return c.order.Len() }
