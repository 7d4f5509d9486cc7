package ingest

import (
	"sync"
	"time"
)

// DedupeCache remembers recently stored readings so redelivered messages
// are written once.
type DedupeCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	items map[string]time.Time
}

func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	if max <= 0 {
		max = 10000
	}
	return &DedupeCache{ttl: ttl, max: max, items: make(map[string]time.Time)}
}

func (d *DedupeCache) Seen(key string, now time.Time) bool {
	if d == nil || d.ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok && now.Sub(ts) <= d.ttl {
		return true
	}
	d.items[key] = now
	if len(d.items) > d.max {
		for k, ts := range d.items {
			if now.Sub(ts) > d.ttl {
				delete(d.items, k)
			}
		}
	}
	return false
}

func (d *DedupeCache) Forget(key string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	delete(d.items, key)
	d.mu.Unlock()
}
