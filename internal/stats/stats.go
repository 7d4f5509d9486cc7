// Package stats summarises stored readings for alert emails and trend
// reports.
package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"soundmeter/internal/loudness"
	"soundmeter/internal/model"
	"soundmeter/internal/storage"
)

var ErrGranularity = errors.New("granularity must be day, week, or month")

type RecentReading struct {
	Timestamp string     `json:"timestamp"`
	Decibels  float64    `json:"db"`
	Zone      model.Zone `json:"zone"`
}

type PeriodStatistics struct {
	PeakDb         float64         `json:"peak_db"`
	PeakTimestamp  string          `json:"peak_timestamp"`
	AverageDb      float64         `json:"average_db"`
	GreenPercent   float64         `json:"green_percent"`
	YellowPercent  float64         `json:"yellow_percent"`
	RedPercent     float64         `json:"red_percent"`
	RecentReadings []RecentReading `json:"recent_readings"`
	Count          int             `json:"reading_count"`
}

type SlotReader interface {
	SlotReadings(ctx context.Context, slotID int, until time.Time) ([]model.SoundLog, error)
}

// ForSlot computes statistics for a slot from the start of its day up to
// until. It returns nil when nothing has been recorded yet.
func ForSlot(ctx context.Context, store SlotReader, slotID int, until time.Time, zones model.Zones) (*PeriodStatistics, error) {
	logs, err := store.SlotReadings(ctx, slotID, until)
	if err != nil {
		return nil, err
	}
	return Summarize(logs, zones), nil
}

// Summarize expects logs oldest first.
func Summarize(logs []model.SoundLog, zones model.Zones) *PeriodStatistics {
	if len(logs) == 0 {
		return nil
	}
	var (
		sum                float64
		peak               = logs[0]
		green, yellow, red int
	)
	for _, l := range logs {
		sum += l.Decibels
		if l.Decibels > peak.Decibels {
			peak = l
		}
		switch loudness.Zone(l.Decibels, zones) {
		case model.ZoneRed:
			red++
		case model.ZoneYellow:
			yellow++
		default:
			green++
		}
	}
	n := float64(len(logs))
	out := &PeriodStatistics{
		PeakDb:        peak.Decibels,
		PeakTimestamp: peak.Timestamp.Format("15:04:05"),
		AverageDb:     round1(sum / n),
		GreenPercent:  round1(float64(green) / n * 100),
		YellowPercent: round1(float64(yellow) / n * 100),
		RedPercent:    round1(float64(red) / n * 100),
		Count:         len(logs),
	}
	for i := len(logs) - 1; i >= 0 && len(out.RecentReadings) < 5; i-- {
		l := logs[i]
		out.RecentReadings = append(out.RecentReadings, RecentReading{
			Timestamp: l.Timestamp.Format("15:04:05"),
			Decibels:  l.Decibels,
			Zone:      loudness.Zone(l.Decibels, zones),
		})
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case Day, Week, Month:
		return g, nil
	}
	return "", fmt.Errorf("%w: %q", ErrGranularity, s)
}

type Span struct {
	Label string
	Start time.Time
	End   time.Time
}

const dateLayout = "2006-01-02"

// Spans splits [start, end] into calendar periods. Weeks start on Monday
// and months on the 1st, so the first period may begin before start.
func Spans(g Granularity, start, end time.Time) []Span {
	start = dateOnly(start)
	end = dateOnly(end)
	var out []Span
	switch g {
	case Day:
		for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, 1) {
			out = append(out, Span{Label: cur.Format("Mon Jan 02"), Start: cur, End: cur})
		}
	case Week:
		offset := (int(start.Weekday()) + 6) % 7
		for cur := start.AddDate(0, 0, -offset); !cur.After(end); cur = cur.AddDate(0, 0, 7) {
			weekEnd := cur.AddDate(0, 0, 6)
			_, week := cur.ISOWeek()
			label := fmt.Sprintf("Week %d (%s-%s)", week, cur.Format("Jan 02"), weekEnd.Format("02"))
			out = append(out, Span{Label: label, Start: cur, End: weekEnd})
		}
	case Month:
		for cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC); !cur.After(end); cur = cur.AddDate(0, 1, 0) {
			out = append(out, Span{Label: cur.Format("January 2006"), Start: cur, End: cur.AddDate(0, 1, -1)})
		}
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type SlotTrend struct {
	SlotID       int     `json:"slot_id"`
	SlotName     string  `json:"slot_name"`
	AvgDb        float64 `json:"avg_db"`
	PeakDb       float64 `json:"peak_db"`
	GreenPct     float64 `json:"green_pct"`
	OrangePct    float64 `json:"orange_pct"`
	RedPct       float64 `json:"red_pct"`
	ReadingCount int64   `json:"reading_count"`
}

type TrendPeriod struct {
	Label string      `json:"label"`
	Start string      `json:"start"`
	End   string      `json:"end"`
	Data  []SlotTrend `json:"data"`
}

type TrendThresholds struct {
	Orange float64 `json:"orange"`
	Red    float64 `json:"red"`
}

type Trends struct {
	Granularity Granularity     `json:"granularity"`
	Thresholds  TrendThresholds `json:"thresholds"`
	Periods     []TrendPeriod   `json:"periods"`
}

type Aggregator interface {
	Aggregate(ctx context.Context, from, to string, slotIDs []int, zones model.Zones) ([]storage.AggregateRow, error)
}

// BuildTrends aggregates every period between start and end. Periods
// without readings are left out.
func BuildTrends(ctx context.Context, store Aggregator, g Granularity, start, end time.Time, slotIDs []int, zones model.Zones) (Trends, error) {
	out := Trends{
		Granularity: g,
		Thresholds:  TrendThresholds{Orange: zones.OrangeDb, Red: zones.RedDb},
		Periods:     []TrendPeriod{},
	}
	for _, p := range Spans(g, start, end) {
		from, to := p.Start.Format(dateLayout), p.End.Format(dateLayout)
		rows, err := store.Aggregate(ctx, from, to, slotIDs, zones)
		if err != nil {
			return out, fmt.Errorf("aggregate %s: %w", p.Label, err)
		}
		var data []SlotTrend
		for _, r := range rows {
			if r.Total == 0 {
				continue
			}
			total := float64(r.Total)
			data = append(data, SlotTrend{
				SlotID:       r.SlotID,
				SlotName:     r.SlotName,
				AvgDb:        round1(r.AvgDb),
				PeakDb:       round1(r.PeakDb),
				GreenPct:     round1(float64(r.Green) / total * 100),
				OrangePct:    round1(float64(r.Yellow) / total * 100),
				RedPct:       round1(float64(r.Red) / total * 100),
				ReadingCount: r.Total,
			})
		}
		if len(data) == 0 {
			continue
		}
		out.Periods = append(out.Periods, TrendPeriod{Label: p.Label, Start: from, End: to, Data: data})
	}
	return out, nil
}
