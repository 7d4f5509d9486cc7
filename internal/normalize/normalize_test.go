package normalize

import (
	"errors"
	"testing"
	"time"

	"soundmeter/internal/config"
)

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func TestNormalizeAssignsSlot(t *testing.T) {
	loc := paris(t)
	slots := config.DefaultSettings().TimeSlots
	log, err := Normalize(ReadingFields{Timestamp: "2026-03-02T11:05:00Z", Decibels: "72.5", ClientID: " hall "}, slots, loc)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if log.TimeSlotID != 2 || log.SlotName != "Period 2" {
		t.Fatalf("expected slot 2 for 12:05 Paris, got %+v", log)
	}
	if log.Timestamp.Location() != loc || log.Timestamp.Hour() != 12 {
		t.Fatalf("timestamp not converted %v", log.Timestamp)
	}
	if log.Decibels != 72.5 || log.ClientID != "hall" {
		t.Fatalf("unexpected fields %+v", log)
	}
}

func TestNormalizeNaiveTimestampIsLocal(t *testing.T) {
	slots := config.DefaultSettings().TimeSlots
	log, err := Normalize(ReadingFields{Timestamp: "2026-03-02 13:10:00", Decibels: "60"}, slots, paris(t))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if log.TimeSlotID != 4 {
		t.Fatalf("expected slot 4, got %d", log.TimeSlotID)
	}
}

func TestNormalizeRejects(t *testing.T) {
	slots := config.DefaultSettings().TimeSlots
	loc := paris(t)
	cases := []struct {
		name   string
		fields ReadingFields
		want   error
	}{
		{"missing timestamp", ReadingFields{Decibels: "60"}, ErrMissingField},
		{"missing decibels", ReadingFields{Timestamp: "2026-03-02 12:00:00"}, ErrMissingField},
		{"too loud", ReadingFields{Timestamp: "2026-03-02 12:00:00", Decibels: "121"}, ErrOutOfRange},
		{"negative", ReadingFields{Timestamp: "2026-03-02 12:00:00", Decibels: "-1"}, ErrOutOfRange},
		{"before lunch", ReadingFields{Timestamp: "2026-03-02 10:00:00", Decibels: "60"}, ErrOutsideSlots},
		{"end is exclusive", ReadingFields{Timestamp: "2026-03-02 13:30:00", Decibels: "60"}, ErrOutsideSlots},
	}
	for _, c := range cases {
		if _, err := Normalize(c.fields, slots, loc); !errors.Is(err, c.want) {
			t.Fatalf("%s: expected %v, got %v", c.name, c.want, err)
		}
	}
	if _, err := Normalize(ReadingFields{Timestamp: "yesterday", Decibels: "60"}, slots, loc); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseTimestampUnix(t *testing.T) {
	ts, err := ParseTimestamp("1772449500", time.UTC)
	if err != nil || ts.Unix() != 1772449500 {
		t.Fatalf("unix seconds: %v %v", ts, err)
	}
	ts, err = ParseTimestamp("1772449500123", time.UTC)
	if err != nil || ts.UnixMilli() != 1772449500123 {
		t.Fatalf("unix millis: %v %v", ts, err)
	}
}
