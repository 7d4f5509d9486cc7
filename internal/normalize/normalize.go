// Package normalize turns loosely typed reading submissions into stored
// sound logs.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"soundmeter/internal/model"
	"soundmeter/internal/timeslot"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrOutOfRange   = errors.New("decibels must be between 0 and 120")
	ErrOutsideSlots = errors.New("timestamp outside recording hours")
)

type ReadingFields struct {
	Timestamp string
	Decibels  string
	ClientID  string
	Extras    map[string]string
}

// Normalize validates a submission and assigns it to the time slot that
// contains its timestamp in loc.
func Normalize(fields ReadingFields, slots []model.TimeSlot, loc *time.Location) (model.SoundLog, error) {
	if loc == nil {
		loc = time.UTC
	}
	if strings.TrimSpace(fields.Timestamp) == "" {
		return model.SoundLog{}, fmt.Errorf("%w: timestamp", ErrMissingField)
	}
	if strings.TrimSpace(fields.Decibels) == "" {
		return model.SoundLog{}, fmt.Errorf("%w: decibels", ErrMissingField)
	}
	ts, err := ParseTimestamp(fields.Timestamp, loc)
	if err != nil {
		return model.SoundLog{}, fmt.Errorf("parse timestamp: %w", err)
	}
	ts = ts.In(loc)

	db, err := strconv.ParseFloat(strings.TrimSpace(fields.Decibels), 64)
	if err != nil {
		return model.SoundLog{}, fmt.Errorf("parse decibels: %w", err)
	}
	if math.IsNaN(db) || db < model.MinDecibels || db > model.MaxDecibels {
		return model.SoundLog{}, ErrOutOfRange
	}

	slotID, ok := timeslot.Resolve(slots, ts, loc)
	if !ok {
		return model.SoundLog{}, fmt.Errorf("%w: %s", ErrOutsideSlots, ts.Format("15:04:05 MST"))
	}
	slot, _ := timeslot.Find(slots, slotID)

	return model.SoundLog{
		Timestamp:  ts,
		Decibels:   db,
		TimeSlotID: slotID,
		SlotName:   slot.Name,
		ClientID:   strings.TrimSpace(fields.ClientID),
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts RFC 3339 and common variants. Timestamps without
// a zone are read in loc; bare integers are unix seconds or milliseconds.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if len(value) >= 13 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}
