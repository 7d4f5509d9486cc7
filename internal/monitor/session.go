// Package monitor runs a monitoring session: it samples the analyzer on a
// fixed tick, feeds the alert evaluator, dispatches alerts and periodically
// persists the current level.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"soundmeter/internal/acquisition"
	"soundmeter/internal/dispatch"
	"soundmeter/internal/engine"
	"soundmeter/internal/loudness"
	"soundmeter/internal/model"
	"soundmeter/internal/timeslot"
)

// Snapshotter is satisfied by *acquisition.Analyzer.
type Snapshotter interface {
	Snapshot() acquisition.FrequencySnapshot
}

// Meter is satisfied by *loudness.Estimator.
type Meter interface {
	Estimate(magnitudesDb []float64, calibrationOffsetDb float64) float64
}

type Options struct {
	Source          Snapshotter
	Meter           Meter
	Settings        SettingsSource
	Dispatcher      dispatch.Dispatcher
	Sink            Sink
	Location        *time.Location
	PersistInterval time.Duration
	ClientID        string
	Logger          *slog.Logger
	// OnReading is called from the session goroutine after every tick.
	OnReading func(Status)
}

// Status describes one tick for display.
type Status struct {
	Reading model.Reading
	Zone    model.Zone
	SlotID  int
	InSlot  bool
	Average *float64
}

type outcome struct {
	req engine.Request
	out model.DispatchOutcome
}

type Session struct {
	opts      Options
	evaluator *engine.Evaluator
	logger    *slog.Logger
	now       func() time.Time
	latest    *model.LogRecord
}

func NewSession(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.PersistInterval <= 0 {
		opts.PersistInterval = 30 * time.Second
	}
	return &Session{
		opts:      opts,
		evaluator: engine.NewEvaluator(),
		logger:    opts.Logger,
		now:       time.Now,
	}
}

func (s *Session) Evaluator() *engine.Evaluator {
	return s.evaluator
}

// Run blocks until ctx is cancelled. All evaluator state is touched only
// from this goroutine; in-flight dispatches and sink writes are waited for
// before Run returns.
func (s *Session) Run(ctx context.Context) error {
	interval := s.opts.Settings.Settings().TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	persist := time.NewTicker(s.opts.PersistInterval)
	defer persist.Stop()

	results := make(chan outcome)
	var wg sync.WaitGroup
	defer wg.Wait()

	s.logger.Info("monitoring started", "tick", interval, "persist", s.opts.PersistInterval, "client", s.opts.ClientID)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitoring stopped")
			return nil
		case res := <-results:
			s.apply(res)
		case <-persist.C:
			if rec := s.takeLatest(); rec != nil && s.opts.Sink != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					s.persist(ctx, *rec)
				}()
			}
		case <-ticker.C:
			settings := s.opts.Settings.Settings()
			for _, req := range s.tick(s.now(), settings) {
				wg.Add(1)
				go func(req engine.Request) {
					defer wg.Done()
					out := s.opts.Dispatcher.Dispatch(ctx, req)
					select {
					case results <- outcome{req: req, out: out}:
					case <-ctx.Done():
					}
				}(req)
			}
			if next := settings.TickInterval(); next > 0 && next != interval {
				s.logger.Info("tick interval changed", "from", interval, "to", next)
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// tick measures once and returns the alert attempts to dispatch.
func (s *Session) tick(now time.Time, settings model.Settings) []engine.Request {
	loc := s.opts.Location
	now = now.In(loc)
	snap := s.opts.Source.Snapshot()
	value := s.opts.Meter.Estimate(snap.Magnitudes, settings.CalibrationOffsetDb)
	reading := model.Reading{Value: value, Timestamp: now}
	slotID, inSlot := timeslot.Resolve(settings.TimeSlots, now, loc)

	reqs := s.evaluator.Tick(reading, slotID, inSlot, settings.Thresholds, settings.TickInterval())
	if inSlot {
		s.latest = &model.LogRecord{Timestamp: now, Decibels: value, ClientID: s.opts.ClientID}
	}
	st := Status{
		Reading: reading,
		Zone:    loudness.Zone(value, settings.Zones),
		SlotID:  slotID,
		InSlot:  inSlot,
	}
	if avg, ok := s.evaluator.Average(); ok {
		st.Average = &avg
	}
	s.logger.Debug("level", "db", value, "zone", st.Zone, "slot", slotID, "in_slot", inSlot)
	if s.opts.OnReading != nil {
		s.opts.OnReading(st)
	}
	return reqs
}

func (s *Session) apply(res outcome) {
	if !s.evaluator.Apply(res.req, res.out) {
		s.logger.Warn("stale dispatch outcome ignored", "attempt", res.req.ID, "kind", res.req.Kind)
		return
	}
	switch res.out.Status {
	case model.DispatchInCooldown:
		s.logger.Info("alert deferred by server", "kind", res.req.Kind, "next", res.out.NextEligibleAt, "seconds_remaining", res.out.SecondsRemaining)
	case model.DispatchTransportFailure:
		s.logger.Warn("alert dispatch failed", "kind", res.req.Kind, "detail", res.out.Detail)
	}
}

func (s *Session) takeLatest() *model.LogRecord {
	rec := s.latest
	s.latest = nil
	return rec
}

func (s *Session) persist(ctx context.Context, rec model.LogRecord) {
	if err := s.opts.Sink.Send(ctx, rec); err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("persist reading failed", "err", err, "db", rec.Decibels)
		}
		return
	}
	s.logger.Debug("reading persisted", "db", rec.Decibels, "ts", rec.Timestamp)
}
