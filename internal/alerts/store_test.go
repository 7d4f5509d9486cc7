package alerts

import (
	"testing"
	"time"

	"soundmeter/internal/model"
)

func fill(h *History, n int) time.Time {
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		kind := model.AlertInstant
		if i%2 == 1 {
			kind = model.AlertAverage
		}
		h.Add(model.Alert{Timestamp: base.Add(time.Duration(i) * time.Minute), AlertType: kind, CurrentDb: float64(80 + i)})
	}
	return base
}

func TestHistoryWrapsAround(t *testing.T) {
	h := NewHistory(3)
	base := fill(h, 5)
	all := h.Find(Query{})
	if len(all) != 3 || all[0].CurrentDb != 82 || all[2].CurrentDb != 84 {
		t.Fatalf("unexpected alerts %+v", all)
	}
	if got := h.Find(Query{Limit: 1}); len(got) != 1 || got[0].CurrentDb != 84 {
		t.Fatalf("unexpected limited list %+v", got)
	}
	if got := h.Find(Query{Since: base.Add(3 * time.Minute)}); len(got) != 2 {
		t.Fatalf("expected 2 alerts since 12:03, got %d", len(got))
	}
	if got := h.Find(Query{Kind: model.AlertAverage}); len(got) != 1 || got[0].CurrentDb != 83 {
		t.Fatalf("unexpected average alerts %+v", got)
	}
}

func TestHistoryBeforeWrap(t *testing.T) {
	h := NewHistory(10)
	fill(h, 2)
	if got := h.Find(Query{}); len(got) != 2 || got[0].CurrentDb != 80 {
		t.Fatalf("unexpected alerts %+v", got)
	}
	if got := NewHistory(4).Find(Query{}); got == nil || len(got) != 0 {
		t.Fatalf("empty history should return an empty slice")
	}
}

func TestSummary(t *testing.T) {
	h := NewHistory(3)
	fill(h, 5)
	s := h.Summary()
	if s.Sent[model.AlertInstant] != 3 || s.Sent[model.AlertAverage] != 2 {
		t.Fatalf("unexpected counts %+v", s.Sent)
	}
	if last := s.Last[model.AlertAverage]; last == nil || last.CurrentDb != 83 {
		t.Fatalf("unexpected last average %+v", last)
	}
	if last := s.Last[model.AlertInstant]; last == nil || last.CurrentDb != 84 {
		t.Fatalf("unexpected last instant %+v", last)
	}
}
