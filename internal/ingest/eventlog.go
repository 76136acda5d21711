package ingest

import (
	"sync"
	"time"

	"github.com/tinytelemetry/tally/internal/model"
)

// EventLog retains processed events until retention prunes them.
type EventLog struct {
	mu     sync.RWMutex
	events []model.Event
}

// NewEventLog creates an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// Append copies batch into the log.
func (l *EventLog) Append(batch []*model.Event) {
	if len(batch) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range batch {
		l.events = append(l.events, *ev)
	}
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Prune drops every event older than cutoff and returns how many went.
// Drain order only approximates timestamp order across producers, so every
// entry is checked.
func (l *EventLog) Prune(cutoff time.Time) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := make([]model.Event, 0, len(l.events))
	for _, ev := range l.events {
		if !ev.Timestamp.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	removed := int64(len(l.events) - len(kept))
	if removed > 0 {
		l.events = kept
	}
	return removed
}

// Since returns copies of the events with timestamp at or after cutoff.
func (l *EventLog) Since(cutoff time.Time) []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.Event
	for _, ev := range l.events {
		if !ev.Timestamp.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}
