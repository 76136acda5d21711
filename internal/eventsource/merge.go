package eventsource

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tinytelemetry/tally/internal/model"
	"golang.org/x/sync/errgroup"
)

// DefaultMergeBuffer is the default capacity of the merged envelope stream.
const DefaultMergeBuffer = 50_000

// Merged fans several sources into one envelope stream. Every envelope is
// tagged with the name of the source it came from; blank lines are dropped.
type Merged struct {
	cancel  context.CancelFunc
	sources []Source
	out     chan model.IngestEnvelope
	counts  []atomic.Int64
	done    chan struct{}

	stopOnce sync.Once
}

// Merge starts forwarding every source immediately. The stream closes once
// all sources are exhausted or Stop is called.
func Merge(parent context.Context, sources []Source, buffer int) *Merged {
	if buffer <= 0 {
		buffer = DefaultMergeBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	m := &Merged{
		cancel:  cancel,
		sources: sources,
		out:     make(chan model.IngestEnvelope, buffer),
		counts:  make([]atomic.Int64, len(sources)),
		done:    make(chan struct{}),
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			m.pump(gctx, i, src)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(m.out)
		close(m.done)
		log.WithField("lines", m.Counts()).Debug("merged sources drained")
	}()
	return m
}

func (m *Merged) pump(ctx context.Context, i int, src Source) {
	name := src.Name()
	in := src.Lines()
	for {
		var env model.IngestEnvelope
		var ok bool
		select {
		case <-ctx.Done():
			return
		case env, ok = <-in:
			if !ok {
				return
			}
		}
		if strings.TrimSpace(env.Line) == "" {
			continue
		}
		if env.Source == "" {
			env.Source = name
		}
		select {
		case m.out <- env:
			m.counts[i].Add(1)
		case <-ctx.Done():
			return
		}
	}
}

// Envelopes returns the merged stream.
func (m *Merged) Envelopes() <-chan model.IngestEnvelope { return m.out }

// Empty reports whether there was nothing to merge.
func (m *Merged) Empty() bool { return len(m.sources) == 0 }

// Names lists the merged sources in order.
func (m *Merged) Names() []string {
	names := make([]string, len(m.sources))
	for i, src := range m.sources {
		names[i] = src.Name()
	}
	return names
}

// Counts returns how many envelopes each source has forwarded so far.
func (m *Merged) Counts() map[string]int64 {
	out := make(map[string]int64, len(m.sources))
	for i, src := range m.sources {
		out[src.Name()] += m.counts[i].Load()
	}
	return out
}

// Stop stops every source and waits for the stream to close.
func (m *Merged) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		for _, src := range m.sources {
			src.Stop()
		}
	})
	<-m.done
}
