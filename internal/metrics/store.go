// Package metrics tracks the latest level reported by each monitor and
// exports server counters to prometheus.
package metrics

import (
	"sort"
	"sync"

	"soundmeter/internal/model"
)

type Store struct {
	mu       sync.RWMutex
	byClient map[string]model.Level
	limit    int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 100
	}
	return &Store{
		byClient: make(map[string]model.Level),
		limit:    limit,
	}
}

func (s *Store) Update(level model.Level) {
	if level.ClientID == "" {
		level.ClientID = "default"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byClient[level.ClientID]; ok && cur.Timestamp.After(level.Timestamp) {
		return
	}
	s.byClient[level.ClientID] = level
	if len(s.byClient) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(clientID string) (model.Level, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.byClient[clientID]
	return l, ok
}

// All returns the latest level of every client ordered by client id.
func (s *Store) All() []model.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Level, 0, len(s.byClient))
	for _, l := range s.byClient {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

func (s *Store) evictOldest() {
	var oldest string
	for id, l := range s.byClient {
		if oldest == "" || l.Timestamp.Before(s.byClient[oldest].Timestamp) {
			oldest = id
		}
	}
	if oldest != "" {
		delete(s.byClient, oldest)
	}
}
