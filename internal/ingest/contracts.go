package ingest

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/tally/internal/model"
)

const (
	// ProcessorModeParse decodes JSON event and metric lines.
	ProcessorModeParse = "parse"
	// ProcessorModePassthrough records every line as a raw_line event.
	ProcessorModePassthrough = "passthrough"

	// PassthroughEventType is the event type used for raw lines.
	PassthroughEventType = "raw_line"
)

// ProcessResult holds the result of processing one ingest line.
type ProcessResult struct {
	Source  string
	Line    *Line
	EventID string
	Err     error
}

// EnvelopeProcessor consumes source-tagged ingest lines and forwards them to
// the engine's write side.
type EnvelopeProcessor interface {
	Name() string
	ProcessEnvelope(model.IngestEnvelope) *ProcessResult
}

// NewEnvelopeProcessor creates the processor for mode. Empty means parse.
func NewEnvelopeProcessor(mode string, sink model.WriteAPI, sourceName string) (EnvelopeProcessor, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ProcessorModeParse:
		return NewLineProcessor(sink, sourceName), nil
	case ProcessorModePassthrough:
		return NewPassthroughProcessor(sink, sourceName), nil
	default:
		return nil, fmt.Errorf("unknown processor mode %q (want %s or %s)", mode, ProcessorModeParse, ProcessorModePassthrough)
	}
}
