package engine

import (
	"fmt"
	"testing"
	"time"

	"soundmeter/internal/model"
	"soundmeter/internal/timeslot"
)

func testThresholds() model.Thresholds {
	return model.Thresholds{
		InstantDb:            85,
		AverageDb:            75,
		AverageWindowMinutes: 2,
		CooldownMinutes:      5,
		Enabled:              true,
	}
}

func newEvaluatorForTest() *Evaluator {
	e := NewEvaluator()
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("attempt-%d", n)
	}
	return e
}

var base = time.Date(2026, 3, 2, 11, 45, 0, 0, time.UTC)

func reading(i int, v float64) model.Reading {
	return model.Reading{Value: v, Timestamp: base.Add(time.Duration(i) * time.Second)}
}

func sent() model.DispatchOutcome {
	return model.DispatchOutcome{Status: model.DispatchSent}
}

func TestInstantFiresOnceThenCoolsDown(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	th.AverageDb = 200
	var fired []float64
	for i, v := range []float64{70, 70, 90, 91} {
		for _, req := range e.Tick(reading(i, v), 1, true, th, time.Second) {
			if req.Kind != model.AlertInstant {
				t.Fatalf("unexpected kind %s", req.Kind)
			}
			fired = append(fired, req.Value)
			e.Apply(req, sent())
		}
	}
	if len(fired) != 1 || fired[0] != 90 {
		t.Fatalf("expected a single alert at 90, got %v", fired)
	}
	last, ok := e.Cooldown().Last(model.AlertInstant)
	if !ok || !last.Equal(base.Add(2*time.Second)) {
		t.Fatalf("unexpected last dispatch %v", last)
	}
}

func TestAverageWaitsForFullWindow(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	th.InstantDb = 100
	need := RequiredSamples(th.AverageWindow(), time.Second)
	if need != 120 {
		t.Fatalf("expected 120 samples, got %d", need)
	}
	for i := 0; i < need; i++ {
		reqs := e.Tick(reading(i, 80), 1, true, th, time.Second)
		if i < need-1 && len(reqs) > 0 {
			t.Fatalf("average fired early at sample %d", i+1)
		}
		if i == need-1 {
			if len(reqs) != 1 || reqs[0].Kind != model.AlertAverage {
				t.Fatalf("expected average alert at sample %d, got %+v", need, reqs)
			}
			if reqs[0].Average == nil || *reqs[0].Average != 80 {
				t.Fatalf("unexpected average %v", reqs[0].Average)
			}
		}
	}
}

func TestAverageGatingIgnoresEarlyLoudSamples(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	th.InstantDb = 200
	th.AverageWindowMinutes = 0.5
	for i := 0; i < 29; i++ {
		if reqs := e.Tick(reading(i, 110), 1, true, th, time.Second); len(reqs) > 0 {
			t.Fatalf("average fired with %d samples", i+1)
		}
	}
	if reqs := e.Tick(reading(29, 110), 1, true, th, time.Second); len(reqs) != 1 {
		t.Fatalf("expected average alert once window is full")
	}
}

func TestRequiredSamplesRoundsUp(t *testing.T) {
	cases := []struct {
		window time.Duration
		tick   time.Duration
		want   int
	}{
		{2 * time.Minute, time.Second, 120},
		{5 * time.Minute, 500 * time.Millisecond, 600},
		{time.Minute, 7 * time.Second, 9},
		{time.Minute, 0, 60},
	}
	for _, c := range cases {
		if got := RequiredSamples(c.window, c.tick); got != c.want {
			t.Fatalf("RequiredSamples(%v, %v) = %d, want %d", c.window, c.tick, got, c.want)
		}
	}
}

func TestSlotChangeResetsBuffer(t *testing.T) {
	slots := []model.TimeSlot{
		{ID: 1, Start: "11:30", End: "12:00"},
		{ID: 2, Start: "12:00", End: "12:30"},
	}
	e := newEvaluatorForTest()
	th := testThresholds()
	th.Enabled = false
	start := time.Date(2026, 3, 2, 11, 59, 55, 0, time.UTC)
	prev := -1
	for i := 0; i < 10; i++ {
		now := start.Add(time.Duration(i) * time.Second)
		id, ok := timeslot.Resolve(slots, now, time.UTC)
		if !ok {
			t.Fatalf("no slot at %v", now)
		}
		e.Tick(model.Reading{Value: 60, Timestamp: now}, id, ok, th, time.Second)
		if prev != -1 && id != prev {
			buf := e.Buffer()
			if len(buf) != 1 || !buf[0].Timestamp.Equal(now) {
				t.Fatalf("expected buffer to hold only the post-crossing reading, got %+v", buf)
			}
		}
		prev = id
	}
	if slot, _ := e.ActiveSlot(); slot != 2 {
		t.Fatalf("expected slot 2 active, got %d", slot)
	}
	if len(e.Buffer()) != 5 {
		t.Fatalf("expected 5 readings after crossing, got %d", len(e.Buffer()))
	}
}

func TestLeavingSlotDropsBuffer(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	e.Tick(reading(0, 60), 3, true, th, time.Second)
	if reqs := e.Tick(reading(1, 100), 0, false, th, time.Second); len(reqs) != 0 {
		t.Fatalf("no alerts expected outside a slot")
	}
	if _, ok := e.ActiveSlot(); ok {
		t.Fatalf("expected no active slot")
	}
	if e.Buffer() != nil {
		t.Fatalf("expected buffer dropped")
	}
}

func TestBufferEvictsOldReadings(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	th.Enabled = false
	th.AverageWindowMinutes = 1
	for i := 0; i < 200; i++ {
		e.Tick(reading(i, 50), 1, true, th, time.Second)
	}
	buf := e.Buffer()
	if len(buf) != 61 {
		t.Fatalf("expected 61 readings within the window, got %d", len(buf))
	}
	if !buf[0].Timestamp.Equal(base.Add(139 * time.Second)) {
		t.Fatalf("unexpected oldest reading %v", buf[0].Timestamp)
	}
}

func TestCooldownsAreIndependent(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	th.AverageWindowMinutes = 1.0 / 60
	reqs := e.Tick(reading(0, 90), 1, true, th, time.Second)
	if len(reqs) != 2 {
		t.Fatalf("expected both kinds, got %+v", reqs)
	}
	for _, req := range reqs {
		if req.Kind == model.AlertInstant {
			e.Apply(req, sent())
		} else {
			e.Apply(req, model.DispatchOutcome{Status: model.DispatchTransportFailure})
		}
	}
	if _, ok := e.Cooldown().Last(model.AlertAverage); ok {
		t.Fatalf("average cooldown must not move with instant")
	}
	reqs = e.Tick(reading(1, 90), 1, true, th, time.Second)
	if len(reqs) != 1 || reqs[0].Kind != model.AlertAverage {
		t.Fatalf("expected only the average kind to retry, got %+v", reqs)
	}
}

func TestCooldownReadsLiveValue(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	th.AverageDb = 200
	for _, req := range e.Tick(reading(0, 90), 1, true, th, time.Second) {
		e.Apply(req, sent())
	}
	if reqs := e.Tick(reading(120, 90), 1, true, th, time.Second); len(reqs) != 0 {
		t.Fatalf("still inside the 5 minute cooldown")
	}
	th.CooldownMinutes = 1
	if reqs := e.Tick(reading(121, 90), 1, true, th, time.Second); len(reqs) != 1 {
		t.Fatalf("shortened cooldown should allow the alert")
	}
}

func TestServerCooldownDefersNextAttempt(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	th.AverageDb = 200
	th.CooldownMinutes = 0
	reqs := e.Tick(reading(0, 90), 1, true, th, time.Second)
	if len(reqs) != 1 {
		t.Fatalf("expected instant alert")
	}
	e.Apply(reqs[0], model.DispatchOutcome{Status: model.DispatchInCooldown, SecondsRemaining: 180})
	if _, ok := e.Cooldown().Last(model.AlertInstant); ok {
		t.Fatalf("server cooldown must not record a local dispatch")
	}
	if reqs := e.Tick(reading(179, 90), 1, true, th, time.Second); len(reqs) != 0 {
		t.Fatalf("attempt before server window elapsed")
	}
	if reqs := e.Tick(reading(180, 90), 1, true, th, time.Second); len(reqs) != 1 {
		t.Fatalf("expected attempt once server window elapsed")
	}
}

func TestServerHintTakesPrecedence(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	th.AverageDb = 200
	th.CooldownMinutes = 0
	reqs := e.Tick(reading(0, 90), 1, true, th, time.Second)
	next := base.Add(10 * time.Minute)
	e.Apply(reqs[0], model.DispatchOutcome{Status: model.DispatchInCooldown, NextEligibleAt: next, SecondsRemaining: 1})
	if reqs := e.Tick(reading(300, 90), 1, true, th, time.Second); len(reqs) != 0 {
		t.Fatalf("expected suppression until %v", next)
	}
	if reqs := e.Tick(reading(600, 90), 1, true, th, time.Second); len(reqs) != 1 {
		t.Fatalf("expected attempt at %v", next)
	}
}

func TestTransportFailureRetriesNextTick(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	th.AverageDb = 200
	reqs := e.Tick(reading(0, 90), 1, true, th, time.Second)
	e.Apply(reqs[0], model.DispatchOutcome{Status: model.DispatchTransportFailure})
	if reqs := e.Tick(reading(1, 90), 1, true, th, time.Second); len(reqs) != 1 {
		t.Fatalf("expected retry on next tick")
	}
}

func TestDisabledOutcomeLeavesCooldown(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	th.AverageDb = 200
	reqs := e.Tick(reading(0, 90), 1, true, th, time.Second)
	e.Apply(reqs[0], model.DispatchOutcome{Status: model.DispatchDisabled})
	if _, ok := e.Cooldown().Last(model.AlertInstant); ok {
		t.Fatalf("disabled outcome must not record a dispatch")
	}
}

func TestInFlightSuppressesDuplicates(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	th.AverageDb = 200
	first := e.Tick(reading(0, 90), 1, true, th, time.Second)
	if len(first) != 1 {
		t.Fatalf("expected first attempt")
	}
	if reqs := e.Tick(reading(1, 95), 1, true, th, time.Second); len(reqs) != 0 {
		t.Fatalf("attempt already in flight")
	}
	if !e.InFlight(model.AlertInstant) {
		t.Fatalf("expected in-flight attempt")
	}
	e.Apply(first[0], model.DispatchOutcome{Status: model.DispatchTransportFailure})
	if e.InFlight(model.AlertInstant) {
		t.Fatalf("outcome should clear in-flight attempt")
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	th.AverageDb = 200
	th.CooldownMinutes = 0
	reqs := e.Tick(reading(0, 90), 1, true, th, time.Second)
	if !e.Apply(reqs[0], sent()) {
		t.Fatalf("first outcome should apply")
	}
	if e.Apply(reqs[0], model.DispatchOutcome{Status: model.DispatchInCooldown, SecondsRemaining: 600}) {
		t.Fatalf("repeated outcome should be ignored")
	}
	if _, ok := e.Cooldown().NotBefore(model.AlertInstant); ok {
		t.Fatalf("ignored outcome must not change state")
	}
}

func TestDisabledThresholdsNeverFire(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	th.Enabled = false
	for i := 0; i < 300; i++ {
		if reqs := e.Tick(reading(i, 119), 1, true, th, time.Second); len(reqs) != 0 {
			t.Fatalf("alerts disabled")
		}
	}
}

func TestRequestCarriesWireFields(t *testing.T) {
	e := newEvaluatorForTest()
	th := testThresholds()
	th.AverageDb = 200
	reqs := e.Tick(reading(0, 90), 4, true, th, time.Second)
	ar := reqs[0].AlertRequest()
	if ar.AlertType != model.AlertInstant || ar.CurrentDb != 90 || ar.TimeSlotID != 4 || ar.AverageDb != nil {
		t.Fatalf("unexpected wire request %+v", ar)
	}
	if reqs[0].ID != "attempt-1" {
		t.Fatalf("unexpected id %s", reqs[0].ID)
	}
}
