package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"soundmeter/internal/acquisition"
	"soundmeter/internal/config"
	"soundmeter/internal/engine"
	"soundmeter/internal/logging"
	"soundmeter/internal/model"
)

type silentSource struct{}

func (silentSource) Snapshot() acquisition.FrequencySnapshot {
	return acquisition.SilentSnapshot(48000, 2048)
}

type fixedMeter struct {
	value atomic.Value
}

func newFixedMeter(v float64) *fixedMeter {
	m := &fixedMeter{}
	m.value.Store(v)
	return m
}

func (m *fixedMeter) Estimate([]float64, float64) float64 {
	return m.value.Load().(float64)
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []engine.Request
	out   model.DispatchOutcome
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req engine.Request) model.DispatchOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.out
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memorySink struct {
	mu      sync.Mutex
	records []model.LogRecord
}

func (m *memorySink) Send(_ context.Context, rec model.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func alertSettings() model.Settings {
	s := config.DefaultSettings()
	s.Thresholds.Enabled = true
	s.TickIntervalMs = 100
	return s
}

func newTestSession(t *testing.T, meter Meter, d *fakeDispatcher, sink Sink) *Session {
	t.Helper()
	return NewSession(Options{
		Source:          silentSource{},
		Meter:           meter,
		Settings:        NewStaticSettings(alertSettings()),
		Dispatcher:      d,
		Sink:            sink,
		Location:        paris(t),
		PersistInterval: 50 * time.Millisecond,
		ClientID:        "hall",
		Logger:          logging.Discard(),
	})
}

func TestTickInSlotIssuesInstantAlert(t *testing.T) {
	s := newTestSession(t, newFixedMeter(91), &fakeDispatcher{}, nil)
	now := time.Date(2026, 3, 2, 11, 45, 0, 0, paris(t))
	var seen Status
	s.opts.OnReading = func(st Status) { seen = st }

	reqs := s.tick(now, alertSettings())
	if len(reqs) != 1 || reqs[0].Kind != model.AlertInstant || reqs[0].SlotID != 1 {
		t.Fatalf("expected one instant request for slot 1, got %+v", reqs)
	}
	if !seen.InSlot || seen.Zone != model.ZoneRed || seen.Average == nil || *seen.Average != 91 {
		t.Fatalf("unexpected status %+v", seen)
	}
	if s.latest == nil || s.latest.Decibels != 91 || s.latest.ClientID != "hall" {
		t.Fatalf("expected latest in-slot record, got %+v", s.latest)
	}

	if again := s.tick(now.Add(time.Second), alertSettings()); len(again) != 0 {
		t.Fatalf("attempt in flight must suppress new requests, got %+v", again)
	}
	s.apply(outcome{req: reqs[0], out: model.DispatchOutcome{Status: model.DispatchSent}})
	if last, ok := s.evaluator.Cooldown().Last(model.AlertInstant); !ok || !last.Equal(now) {
		t.Fatalf("sent outcome should record cooldown at %v, got %v", now, last)
	}
}

func TestTickOutsideSlot(t *testing.T) {
	s := newTestSession(t, newFixedMeter(95), &fakeDispatcher{}, nil)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, paris(t))
	if reqs := s.tick(now, alertSettings()); len(reqs) != 0 {
		t.Fatalf("no alerts outside a slot, got %+v", reqs)
	}
	if s.latest != nil {
		t.Fatalf("readings outside a slot are not persisted")
	}
	if _, ok := s.evaluator.ActiveSlot(); ok {
		t.Fatalf("buffer should be dropped outside slots")
	}
}

func TestRunDispatchesOncePerCooldown(t *testing.T) {
	d := &fakeDispatcher{out: model.DispatchOutcome{Status: model.DispatchSent}}
	sink := &memorySink{}
	s := newTestSession(t, newFixedMeter(90), d, sink)
	base := time.Date(2026, 3, 2, 12, 5, 0, 0, paris(t))
	var ticks int64
	s.now = func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&ticks, 1)) * time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(450 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}

	if atomic.LoadInt64(&ticks) < 2 {
		t.Fatalf("expected several ticks, got %d", ticks)
	}
	if got := d.count(); got != 1 {
		t.Fatalf("expected exactly one instant dispatch within cooldown, got %d", got)
	}
	if sink.count() == 0 {
		t.Fatalf("expected persisted readings")
	}
}

func TestRemoteSettingsKeepsLastValid(t *testing.T) {
	var body atomic.Value
	good := alertSettings()
	good.TickIntervalMs = 500
	raw, _ := json.Marshal(good)
	body.Store(string(raw))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/config" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body.Load().(string)))
	}))
	defer srv.Close()

	rs := NewRemoteSettings(srv.URL, time.Second, logging.Discard())
	if rs.Settings().TickIntervalMs != 1000 {
		t.Fatalf("defaults expected before first refresh")
	}
	if err := rs.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := rs.Settings(); got.TickIntervalMs != 500 || !got.Thresholds.Enabled {
		t.Fatalf("unexpected settings %+v", got)
	}

	body.Store(`{"email_alerts":{"average_time_window_minutes":0}}`)
	if err := rs.Refresh(context.Background()); err == nil {
		t.Fatalf("invalid settings should be rejected")
	}
	if rs.Settings().TickIntervalMs != 500 {
		t.Fatalf("previous snapshot should be kept")
	}
}

func TestHTTPSink(t *testing.T) {
	var got atomic.Value
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/logs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var rec model.LogRecord
		_ = json.NewDecoder(r.Body).Decode(&rec)
		got.Store(rec)
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"success":false,"message":"outside slots"}`))
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL+"/", time.Second)
	rec := model.LogRecord{Timestamp: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), Decibels: 64.2, ClientID: "hall"}
	if err := sink.Send(context.Background(), rec); err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent, _ := got.Load().(model.LogRecord); sent.Decibels != 64.2 || sent.ClientID != "hall" {
		t.Fatalf("unexpected payload %+v", sent)
	}
	status.Store(http.StatusBadRequest)
	if err := sink.Send(context.Background(), rec); err == nil {
		t.Fatalf("expected rejection error")
	}
}
