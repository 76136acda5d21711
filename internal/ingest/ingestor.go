// Package ingest accepts producer events, maps them onto metric records and
// keeps the log of processed events.
package ingest

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/telemetry"
)

var log = logrus.WithField("component", "ingest")

// IngestorConfig holds optional collaborators for the ingestor.
type IngestorConfig struct {
	Now       func() time.Time
	Telemetry *telemetry.Metrics
}

// Ingestor is the producer entry point. RecordEvent never blocks on
// metric mapping except for critical event types.
type Ingestor struct {
	rec model.MetricRecorder
	now func() time.Time
	tm  *telemetry.Metrics

	mu      sync.Mutex
	pending []*model.Event

	failed atomic.Int64
}

// NewIngestor creates an ingestor that maps critical events onto rec.
func NewIngestor(rec model.MetricRecorder, conf ...IngestorConfig) *Ingestor {
	in := &Ingestor{
		rec: rec,
		now: time.Now,
	}
	if len(conf) > 0 {
		if conf[0].Now != nil {
			in.now = conf[0].Now
		}
		in.tm = conf[0].Telemetry
	}
	return in
}

// RecordEvent queues an event and returns its id. Critical types are also
// mapped before return; their queued copy is already marked processed so the
// next drain only logs them.
func (in *Ingestor) RecordEvent(eventType string, payload map[string]any, userID string) string {
	ev := &model.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   maps.Clone(payload),
		UserID:    userID,
		Timestamp: in.now(),
	}

	critical := IsCritical(eventType)
	if critical {
		in.apply(ev)
	}

	in.mu.Lock()
	in.pending = append(in.pending, ev)
	n := len(in.pending)
	in.mu.Unlock()

	in.tm.EventRecorded(critical)
	in.tm.SetPending(n)
	return ev.ID
}

// apply maps ev and marks it processed whatever the outcome.
func (in *Ingestor) apply(ev *model.Event) {
	if err := Apply(in.rec, ev); err != nil {
		in.failed.Add(1)
		in.tm.EventFailed(ev.Type)
		log.WithError(err).WithField("event_type", ev.Type).Warn("event mapping failed")
	}
	ev.Processed = true
}

// takeBatch removes up to max events from the head of the queue.
func (in *Ingestor) takeBatch(max int) []*model.Event {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.pending) == 0 {
		return nil
	}
	if max <= 0 || max > len(in.pending) {
		max = len(in.pending)
	}
	batch := in.pending[:max:max]
	rest := in.pending[max:]
	if len(rest) == 0 {
		in.pending = nil
	} else {
		in.pending = rest
	}
	in.tm.SetPending(len(in.pending))
	return batch
}

// Pending returns the number of queued events.
func (in *Ingestor) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.pending)
}

// Failed returns the number of events whose mapping failed.
func (in *Ingestor) Failed() int64 {
	return in.failed.Load()
}
