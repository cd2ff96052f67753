package ledger

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidDuration rejects zero or negative audio durations.
var ErrInvalidDuration = errors.New("duration must be positive")

// Entry is one billed span of audio: duration × rate = cost.
type Entry struct {
	Duration time.Duration
	Cost     float64
	At       time.Time
}

// Ledger converts transcribed audio duration into monetary cost at a fixed
// per-minute rate and keeps a running total. All updates are serialized; the
// total is always the sum of recorded entries and never decreases while a
// meeting is active.
type Ledger struct {
	ratePerMinute float64
	clock         func() time.Time

	mu       sync.Mutex
	entries  []Entry
	total    float64
	duration time.Duration
}

func New(ratePerMinute float64) *Ledger {
	return &Ledger{ratePerMinute: ratePerMinute, clock: time.Now}
}

// Record bills one span of transcribed audio.
func (l *Ledger) Record(d time.Duration) (Entry, error) {
	if d <= 0 {
		return Entry{}, ErrInvalidDuration
	}
	entry := Entry{
		Duration: d,
		Cost:     d.Seconds() / 60.0 * l.ratePerMinute,
		At:       l.clock().UTC(),
	}
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.total += entry.Cost
	l.duration += d
	l.mu.Unlock()
	return entry, nil
}

// Total returns the accumulated cost in the configured currency.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// TotalDuration returns the accumulated billed audio duration.
func (l *Ledger) TotalDuration() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.duration
}

// Entries returns a copy of all recorded entries.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
