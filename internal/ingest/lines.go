package ingest

import (
	"strings"
	"sync"

	"github.com/tinytelemetry/tally/internal/model"
)

// maxPartialJSON caps one accumulated multi-line object.
const maxPartialJSON = 1 << 20

type jsonAccumulator struct {
	buf   strings.Builder
	depth int
}

// LineProcessor decodes JSON lines into RecordEvent and RecordMetric calls.
// Objects may span several lines; partial objects are accumulated per source
// so interleaved sources do not corrupt each other.
type LineProcessor struct {
	sink model.WriteAPI

	mu         sync.Mutex
	sourceName string
	partial    map[string]*jsonAccumulator
}

// NewLineProcessor creates a new line processor.
func NewLineProcessor(sink model.WriteAPI, sourceName string) *LineProcessor {
	return &LineProcessor{
		sink:       sink,
		sourceName: sourceName,
		partial:    make(map[string]*jsonAccumulator),
	}
}

func (p *LineProcessor) Name() string { return ProcessorModeParse }

// ProcessLine processes an untagged line using the processor source name.
func (p *LineProcessor) ProcessLine(line string) *ProcessResult {
	return p.ProcessEnvelope(model.IngestEnvelope{Line: line})
}

// ProcessEnvelope processes one source-tagged line. It returns nil while a
// multi-line object is still being accumulated.
func (p *LineProcessor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	if strings.TrimSpace(env.Line) == "" {
		return nil
	}

	p.mu.Lock()
	source := env.Source
	if source == "" {
		source = p.sourceName
	}
	text, complete := p.accumulate(source, env.Line)
	p.mu.Unlock()

	if !complete {
		return nil
	}
	return p.processEntry(source, text)
}

// accumulate must be called with p.mu held.
func (p *LineProcessor) accumulate(source, line string) (string, bool) {
	acc := p.partial[source]
	if acc == nil {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "{") {
			return trimmed, true
		}
		depth := CountJSONDepth(line)
		if depth <= 0 {
			return trimmed, true
		}
		acc = &jsonAccumulator{depth: depth}
		acc.buf.WriteString(line)
		acc.buf.WriteString("\n")
		p.partial[source] = acc
		return "", false
	}

	acc.buf.WriteString(line)
	acc.buf.WriteString("\n")
	acc.depth += CountJSONDepth(line)

	if acc.depth > 0 && acc.buf.Len() < maxPartialJSON {
		return "", false
	}
	delete(p.partial, source)
	return strings.TrimSpace(acc.buf.String()), true
}

func (p *LineProcessor) processEntry(source, text string) *ProcessResult {
	res := &ProcessResult{Source: source}

	parsed, err := ParseLine(text)
	if err != nil {
		log.WithError(err).WithField("source", source).Debug("skipping ingest line")
		res.Err = err
		return res
	}
	res.Line = parsed

	if p.sink == nil {
		return res
	}
	switch parsed.Kind {
	case LineEvent:
		res.EventID = p.sink.RecordEvent(parsed.Type, parsed.Payload, parsed.UserID)
	case LineMetric:
		res.Err = p.sink.RecordMetric(parsed.Metric, parsed.Value, parsed.Tags, parsed.UserID)
	}
	return res
}

// CountJSONDepth counts the net change in JSON nesting depth for a line.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}

		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}

	return depth
}

// SetSourceName updates the default source name for untagged lines.
func (p *LineProcessor) SetSourceName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sourceName = name
}
