// Package timeslot maps wall-clock instants onto the configured monitoring
// periods of a civil day.
package timeslot

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"soundmeter/internal/model"
)

var ErrOverlap = errors.New("time slots overlap")

// Clock is a time of day with second resolution, stored as seconds since
// midnight.
type Clock int

const day = Clock(24 * 60 * 60)

func ParseClock(value string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM[:SS]", value)
	}
	limits := []int{24, 60, 60}
	var fields [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid clock time %q", value)
		}
		// 24:00 is accepted as end of day.
		if n >= limits[i] && !(i == 0 && n == 24) {
			return 0, fmt.Errorf("invalid clock time %q", value)
		}
		fields[i] = n
	}
	c := Clock(fields[0]*3600 + fields[1]*60 + fields[2])
	if c > day {
		return 0, fmt.Errorf("invalid clock time %q", value)
	}
	return c, nil
}

func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(c)/3600, int(c)%3600/60, int(c)%60)
}

type interval struct {
	id         int
	name       string
	start, end Clock
}

func parse(slot model.TimeSlot) (interval, error) {
	start, err := ParseClock(slot.Start)
	if err != nil {
		return interval{}, fmt.Errorf("slot %d start: %w", slot.ID, err)
	}
	end, err := ParseClock(slot.End)
	if err != nil {
		return interval{}, fmt.Errorf("slot %d end: %w", slot.ID, err)
	}
	if end <= start {
		return interval{}, fmt.Errorf("slot %d: end %s must be after start %s", slot.ID, end, start)
	}
	return interval{id: slot.ID, name: slot.Name, start: start, end: end}, nil
}

// Validate rejects malformed, duplicate or overlapping slots. Touching
// boundaries (one slot ending where the next starts) are allowed.
func Validate(slots []model.TimeSlot) error {
	parsed := make([]interval, 0, len(slots))
	seen := make(map[int]struct{}, len(slots))
	for _, s := range slots {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate time slot id %d", s.ID)
		}
		seen[s.ID] = struct{}{}
		iv, err := parse(s)
		if err != nil {
			return err
		}
		parsed = append(parsed, iv)
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].start < parsed[j].start })
	for i := 1; i < len(parsed); i++ {
		prev, cur := parsed[i-1], parsed[i]
		if cur.start < prev.end {
			return fmt.Errorf("%w: slot %d [%s, %s) and slot %d [%s, %s)", ErrOverlap,
				prev.id, prev.start, prev.end, cur.id, cur.start, cur.end)
		}
	}
	return nil
}

// Resolve returns the id of the slot whose [start, end) contains the
// time-of-day of now in loc. Slots that fail to parse never match.
func Resolve(slots []model.TimeSlot, now time.Time, loc *time.Location) (int, bool) {
	if loc != nil {
		now = now.In(loc)
	}
	c := ClockOf(now)
	for _, s := range slots {
		iv, err := parse(s)
		if err != nil {
			continue
		}
		if c >= iv.start && c < iv.end {
			return iv.id, true
		}
	}
	return 0, false
}

// Find returns the slot with the given id.
func Find(slots []model.TimeSlot, id int) (model.TimeSlot, bool) {
	for _, s := range slots {
		if s.ID == id {
			return s, true
		}
	}
	return model.TimeSlot{}, false
}
