package engine

import (
	"sync"
	"time"

	"soundmeter/internal/model"
)

// CooldownState tracks, per alert kind, when an alert was last confirmed
// and any server-imposed earliest next attempt.
type CooldownState struct {
	mu        sync.Mutex
	last      map[model.AlertKind]time.Time
	notBefore map[model.AlertKind]time.Time
}

func NewCooldownState() *CooldownState {
	return &CooldownState{
		last:      make(map[model.AlertKind]time.Time),
		notBefore: make(map[model.AlertKind]time.Time),
	}
}

// Ready reports whether kind may fire at now. cooldown is the value
// configured at evaluation time, not when the last alert fired.
func (c *CooldownState) Ready(kind model.AlertKind, now time.Time, cooldown time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if nb, ok := c.notBefore[kind]; ok && now.Before(nb) {
		return false
	}
	if ts, ok := c.last[kind]; ok && cooldown > 0 {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	return true
}

// Record marks a confirmed dispatch of kind at ts.
func (c *CooldownState) Record(kind model.AlertKind, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[kind] = ts
	delete(c.notBefore, kind)
}

// Defer suppresses kind until the given instant without touching the
// last-dispatch time.
func (c *CooldownState) Defer(kind model.AlertKind, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.notBefore[kind]; ok && cur.After(until) {
		return
	}
	c.notBefore[kind] = until
}

func (c *CooldownState) Last(kind model.AlertKind) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.last[kind]
	return ts, ok
}

func (c *CooldownState) NotBefore(kind model.AlertKind) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.notBefore[kind]
	return ts, ok
}
