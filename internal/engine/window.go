package engine

import "time"

type Sample struct {
	Timestamp time.Time
	Value     float64
}

// RollingBuffer holds the readings of a single time slot, oldest first.
type RollingBuffer struct {
	slotID  int
	samples []Sample
	head    int
}

func NewRollingBuffer(slotID int) *RollingBuffer {
	return &RollingBuffer{
		slotID:  slotID,
		samples: make([]Sample, 0, 128),
	}
}

func (b *RollingBuffer) SlotID() int {
	return b.slotID
}

func (b *RollingBuffer) Add(s Sample) {
	b.samples = append(b.samples, s)
}

// Evict drops every sample strictly older than cutoff.
func (b *RollingBuffer) Evict(cutoff time.Time) {
	for b.head < len(b.samples) {
		if !b.samples[b.head].Timestamp.Before(cutoff) {
			break
		}
		b.head++
	}
	if b.head > 0 && b.head*2 >= len(b.samples) {
		b.samples = append(b.samples[:0:0], b.samples[b.head:]...)
		b.head = 0
	}
}

func (b *RollingBuffer) Len() int {
	return len(b.samples) - b.head
}

func (b *RollingBuffer) Mean() (float64, bool) {
	n := b.Len()
	if n == 0 {
		return 0, false
	}
	sum := 0.0
	for _, s := range b.samples[b.head:] {
		sum += s.Value
	}
	return sum / float64(n), true
}

func (b *RollingBuffer) Samples() []Sample {
	out := make([]Sample, b.Len())
	copy(out, b.samples[b.head:])
	return out
}
