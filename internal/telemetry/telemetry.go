// Package telemetry records collector activity for one VM instance.
//
// A Recorder holds events in memory and is cheap enough to attach
// unconditionally. The SQLite sink persists events for offline analysis
// across runs; the regprobe tool wires it behind -profile-db.
package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordyorel/orus-lang-sub001/internal/vm"
)

// Event is one recorded collection cycle.
type Event struct {
	Instance    string
	Cycle       uint64
	At          time.Time
	BytesBefore int
	BytesAfter  int
	Freed       int
	Duration    time.Duration
}

// maxEvents bounds the in-memory buffer; old events are dropped once a
// long-running VM exceeds it. Persist through the SQLite sink when the
// full history matters.
const maxEvents = 4096

// Recorder accumulates collection events in memory. Safe for use from
// the mutator goroutine plus readers on other goroutines.
type Recorder struct {
	mu       sync.Mutex
	instance string
	events   []Event
	dropped  int
}

// NewRecorder creates a recorder with a fresh instance identifier.
func NewRecorder() *Recorder {
	return &Recorder{instance: uuid.NewString()}
}

// Instance returns the identifier tagged onto every event.
func (r *Recorder) Instance() string { return r.instance }

// Observe converts collector statistics into an event. Install it with
// vm.SetCollectionObserver.
func (r *Recorder) Observe(stats vm.GCStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) >= maxEvents {
		n := copy(r.events, r.events[1:])
		r.events = r.events[:n]
		r.dropped++
	}
	r.events = append(r.events, Event{
		Instance:    r.instance,
		Cycle:       stats.Cycle,
		At:          time.Now(),
		BytesBefore: stats.BytesBefore,
		BytesAfter:  stats.BytesAfter,
		Freed:       stats.Freed,
		Duration:    stats.Duration,
	})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of buffered events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Dropped returns how many events fell off the front of the buffer.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
