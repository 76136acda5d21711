package ingest

import (
	"strings"
	"sync"

	"github.com/tinytelemetry/tally/internal/model"
)

// PassthroughProcessor skips JSON decoding and records each line as a
// raw_line event. raw_line has no metric mapping, so these lines only reach
// the event log and exports.
type PassthroughProcessor struct {
	mu         sync.RWMutex
	sink       model.EventRecorder
	sourceName string
}

// NewPassthroughProcessor creates a new passthrough processor.
func NewPassthroughProcessor(sink model.EventRecorder, sourceName string) *PassthroughProcessor {
	return &PassthroughProcessor{
		sink:       sink,
		sourceName: sourceName,
	}
}

func (p *PassthroughProcessor) Name() string { return ProcessorModePassthrough }

// ProcessLine processes an untagged line using the processor source name.
func (p *PassthroughProcessor) ProcessLine(line string) *ProcessResult {
	return p.ProcessEnvelope(model.IngestEnvelope{
		Source: p.getSourceName(),
		Line:   line,
	})
}

// ProcessEnvelope processes one source-tagged line.
func (p *PassthroughProcessor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	line := strings.TrimRight(env.Line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil
	}

	source := env.Source
	if source == "" {
		source = p.getSourceName()
	}

	res := &ProcessResult{Source: source}
	if p.sink != nil {
		res.EventID = p.sink.RecordEvent(PassthroughEventType, map[string]any{
			"line":   line,
			"source": source,
		}, "")
	}
	return res
}

// SetSourceName updates the default source name for untagged lines.
func (p *PassthroughProcessor) SetSourceName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sourceName = name
}

func (p *PassthroughProcessor) getSourceName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sourceName
}
