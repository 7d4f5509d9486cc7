// Package alerts keeps the most recent sent alert emails in memory for the
// dashboard and the status endpoint.
package alerts

import (
	"sync"
	"time"

	"soundmeter/internal/model"
)

// History is a fixed-capacity ring of sent alerts, oldest first.
type History struct {
	mu     sync.RWMutex
	ring   []model.Alert
	next   int
	full   bool
	counts map[model.AlertKind]int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1000
	}
	return &History{
		ring:   make([]model.Alert, capacity),
		counts: make(map[model.AlertKind]int),
	}
}

func (h *History) Add(alert model.Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = alert
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}
	h.counts[alert.AlertType]++
}

// ordered must be called with the lock held.
func (h *History) ordered() []model.Alert {
	if !h.full {
		return h.ring[:h.next]
	}
	out := make([]model.Alert, 0, len(h.ring))
	out = append(out, h.ring[h.next:]...)
	return append(out, h.ring[:h.next]...)
}

type Query struct {
	Kind  model.AlertKind
	Since time.Time
	// Limit keeps the newest matches; 0 means all.
	Limit int
}

func (h *History) Find(q Query) []model.Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := []model.Alert{}
	for _, a := range h.ordered() {
		if q.Kind != "" && a.AlertType != q.Kind {
			continue
		}
		if !q.Since.IsZero() && a.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, a)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// Summary counts every alert added since start, including ones the ring
// has since dropped.
type Summary struct {
	Sent map[model.AlertKind]int          `json:"sent"`
	Last map[model.AlertKind]*model.Alert `json:"last"`
}

func (h *History) Summary() Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Summary{
		Sent: make(map[model.AlertKind]int, len(h.counts)),
		Last: make(map[model.AlertKind]*model.Alert),
	}
	for k, n := range h.counts {
		s.Sent[k] = n
	}
	list := h.ordered()
	for i := len(list) - 1; i >= 0; i-- {
		a := list[i]
		if _, ok := s.Last[a.AlertType]; !ok {
			s.Last[a.AlertType] = &a
		}
	}
	return s
}
