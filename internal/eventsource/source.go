// Package eventsource adapts line producers (stdin, TCP) to a common
// interface and merges them into one envelope stream.
package eventsource

import (
	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/tally/internal/model"
)

var log = logrus.WithField("component", "eventsource")

// Source is a unified interface for all line input sources.
type Source interface {
	Lines() <-chan model.IngestEnvelope
	Stop()
	Name() string
}
