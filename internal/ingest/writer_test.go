package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"soundmeter/internal/config"
	"soundmeter/internal/logging"
	"soundmeter/internal/model"
	"soundmeter/internal/normalize"
)

type memStore struct {
	mu   sync.Mutex
	logs []model.SoundLog
	fail error
}

func (m *memStore) LoadSettings(context.Context) (model.Settings, error) {
	return config.DefaultSettings(), nil
}

func (m *memStore) SaveLog(_ context.Context, log model.SoundLog) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	m.logs = append(m.logs, log)
	return int64(len(m.logs)), nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}

func TestWriterStoresAndDedupes(t *testing.T) {
	store := &memStore{}
	w := NewWriter(store, time.UTC, NewDedupeCache(time.Minute, 0), logging.Discard())
	var saved []model.SoundLog
	w.OnSaved(func(l model.SoundLog) { saved = append(saved, l) })

	fields := normalize.ReadingFields{Timestamp: "2026-03-02T11:45:00Z", Decibels: "66", ClientID: "hall"}
	log, err := w.Write(context.Background(), fields)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if log.ID != 1 || log.TimeSlotID != 1 {
		t.Fatalf("unexpected log %+v", log)
	}
	if _, err := w.Write(context.Background(), fields); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	other := fields
	other.ClientID = "annex"
	if _, err := w.Write(context.Background(), other); err != nil {
		t.Fatalf("other client: %v", err)
	}
	if store.count() != 2 || len(saved) != 2 {
		t.Fatalf("expected 2 stored readings, got %d/%d", store.count(), len(saved))
	}
}

func TestWriterForgetsFailedSaves(t *testing.T) {
	store := &memStore{fail: errors.New("disk full")}
	w := NewWriter(store, time.UTC, NewDedupeCache(time.Minute, 0), logging.Discard())
	fields := normalize.ReadingFields{Timestamp: "2026-03-02T12:45:00Z", Decibels: "66"}
	if _, err := w.Write(context.Background(), fields); err == nil {
		t.Fatalf("expected save error")
	}
	store.fail = nil
	if _, err := w.Write(context.Background(), normalize.ReadingFields{Timestamp: "2026-03-02T12:45:00Z", Decibels: "130"}); !errors.Is(err, ErrRejected) || !errors.Is(err, normalize.ErrOutOfRange) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if _, err := w.Write(context.Background(), fields); err != nil {
		t.Fatalf("retry after failure should store: %v", err)
	}
}

func TestWriterRunDrainsChannel(t *testing.T) {
	store := &memStore{}
	w := NewWriter(store, time.UTC, nil, logging.Discard())
	in := make(chan normalize.ReadingFields, 4)
	in <- normalize.ReadingFields{Timestamp: "2026-03-02T11:45:00Z", Decibels: "60"}
	in <- normalize.ReadingFields{Timestamp: "2026-03-02T09:00:00Z", Decibels: "60"}
	in <- normalize.ReadingFields{Timestamp: "2026-03-02T12:15:00Z", Decibels: "61"}
	close(in)
	w.Run(context.Background(), in)
	if store.count() != 2 {
		t.Fatalf("expected 2 stored readings, got %d", store.count())
	}
}

func TestParseJSONMap(t *testing.T) {
	fields, err := ParseJSONBytes([]byte(`{"Timestamp":"2026-03-02T11:45:00Z","decibels":71.25,"client_id":"hall","extra":true}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields.Timestamp != "2026-03-02T11:45:00Z" || fields.Decibels != "71.25" || fields.ClientID != "hall" {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if fields.Extras["extra"] != "true" {
		t.Fatalf("extras not kept %+v", fields.Extras)
	}
}

func TestDedupeCacheExpires(t *testing.T) {
	d := NewDedupeCache(time.Second, 0)
	now := time.Now()
	if d.Seen("a", now) {
		t.Fatalf("first sighting")
	}
	if !d.Seen("a", now.Add(500*time.Millisecond)) {
		t.Fatalf("expected duplicate within ttl")
	}
	if d.Seen("a", now.Add(3*time.Second)) {
		t.Fatalf("expected expiry after ttl")
	}
}
