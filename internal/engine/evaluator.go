// Package engine decides when sound readings should raise alerts.
//
// An Evaluator is owned by a single monitoring session. Tick is called once
// per reading and returns the dispatch requests to send; the caller sends
// them however it likes and reports each result back through Apply.
package engine

import (
	"time"

	"github.com/google/uuid"

	"soundmeter/internal/model"
)

type Request struct {
	ID        string
	Kind      model.AlertKind
	Value     float64
	Average   *float64
	SlotID    int
	Timestamp time.Time
}

func (r Request) AlertRequest() model.AlertRequest {
	return model.AlertRequest{
		AlertType:  r.Kind,
		CurrentDb:  r.Value,
		AverageDb:  r.Average,
		Timestamp:  r.Timestamp,
		TimeSlotID: r.SlotID,
	}
}

type Evaluator struct {
	buffer   *RollingBuffer
	cooldown *CooldownState
	inflight map[model.AlertKind]string
	newID    func() string
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		cooldown: NewCooldownState(),
		inflight: make(map[model.AlertKind]string),
		newID:    uuid.NewString,
	}
}

// RequiredSamples is the number of readings that make an averaging window
// of the given length "full enough" at the given tick interval.
func RequiredSamples(window, tick time.Duration) int {
	if tick <= 0 {
		tick = time.Second
	}
	if window <= 0 {
		return 1
	}
	return int((window + tick - 1) / tick)
}

// Tick feeds one reading. active reports whether a time slot is currently
// open and slotID names it.
func (e *Evaluator) Tick(r model.Reading, slotID int, active bool, th model.Thresholds, tick time.Duration) []Request {
	if !active {
		e.buffer = nil
		return nil
	}
	now := r.Timestamp
	if e.buffer == nil || e.buffer.SlotID() != slotID {
		e.buffer = NewRollingBuffer(slotID)
		e.buffer.Add(Sample{Timestamp: now, Value: r.Value})
	} else {
		e.buffer.Add(Sample{Timestamp: now, Value: r.Value})
		e.buffer.Evict(now.Add(-th.AverageWindow()))
	}

	if !th.Enabled {
		return nil
	}
	cooldown := th.Cooldown()
	var out []Request

	if r.Value > th.InstantDb && e.eligible(model.AlertInstant, now, cooldown) {
		out = append(out, e.issue(Request{
			Kind:      model.AlertInstant,
			Value:     r.Value,
			SlotID:    slotID,
			Timestamp: now,
		}))
	}

	if e.buffer.Len() >= RequiredSamples(th.AverageWindow(), tick) {
		avg, _ := e.buffer.Mean()
		if avg > th.AverageDb && e.eligible(model.AlertAverage, now, cooldown) {
			out = append(out, e.issue(Request{
				Kind:      model.AlertAverage,
				Value:     r.Value,
				Average:   &avg,
				SlotID:    slotID,
				Timestamp: now,
			}))
		}
	}
	return out
}

func (e *Evaluator) eligible(kind model.AlertKind, now time.Time, cooldown time.Duration) bool {
	if _, busy := e.inflight[kind]; busy {
		return false
	}
	return e.cooldown.Ready(kind, now, cooldown)
}

func (e *Evaluator) issue(req Request) Request {
	req.ID = e.newID()
	e.inflight[req.Kind] = req.ID
	return req
}

// Apply records the outcome of a dispatch attempt. Each attempt is applied
// at most once; stale or repeated outcomes return false and change nothing.
func (e *Evaluator) Apply(req Request, out model.DispatchOutcome) bool {
	if id, ok := e.inflight[req.Kind]; !ok || id != req.ID {
		return false
	}
	delete(e.inflight, req.Kind)
	switch out.Status {
	case model.DispatchSent:
		e.cooldown.Record(req.Kind, req.Timestamp)
	case model.DispatchInCooldown:
		until := out.NextEligibleAt
		if until.IsZero() {
			until = req.Timestamp.Add(time.Duration(out.SecondsRemaining) * time.Second)
		}
		e.cooldown.Defer(req.Kind, until)
	}
	return true
}

// ActiveSlot returns the slot the buffer currently belongs to.
func (e *Evaluator) ActiveSlot() (int, bool) {
	if e.buffer == nil {
		return 0, false
	}
	return e.buffer.SlotID(), true
}

// Average is the mean of the current slot buffer.
func (e *Evaluator) Average() (float64, bool) {
	if e.buffer == nil {
		return 0, false
	}
	return e.buffer.Mean()
}

func (e *Evaluator) Buffer() []Sample {
	if e.buffer == nil {
		return nil
	}
	return e.buffer.Samples()
}

func (e *Evaluator) Cooldown() *CooldownState {
	return e.cooldown
}

func (e *Evaluator) InFlight(kind model.AlertKind) bool {
	_, ok := e.inflight[kind]
	return ok
}
