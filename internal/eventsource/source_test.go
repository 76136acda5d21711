package eventsource

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/tcpserver"
)

func collect(t *testing.T, ch <-chan model.IngestEnvelope) []model.IngestEnvelope {
	t.Helper()
	var out []model.IngestEnvelope
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, env)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for lines channel to close")
		}
	}
}

func TestStdinSourceReadsUntilEOF(t *testing.T) {
	in := strings.NewReader("{\"event\":\"a\"}\n\n{\"event\":\"b\"}\n")
	src := newStdinSourceWithReader(context.Background(), in)

	got := collect(t, src.Lines())
	require.Len(t, got, 2)
	assert.Equal(t, "stdin", got[0].Source)
	assert.Equal(t, `{"event":"b"}`, got[1].Line)
}

func TestStdinSourceStopClosesLines(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	src := newStdinSourceWithReader(context.Background(), r)
	src.Stop()
	src.Stop()

	assert.Empty(t, collect(t, src.Lines()))
}

func TestStdinSourceStopsOnOversizedLine(t *testing.T) {
	in := strings.NewReader(strings.Repeat("x", 128) + "\nok\n")
	src := newStdinSourceWithReader(context.Background(), in, StdinConfig{MaxLineSize: 32})
	assert.Empty(t, collect(t, src.Lines()))
}

func TestTCPSource(t *testing.T) {
	srv := tcpserver.NewServer("127.0.0.1:0")
	require.NoError(t, srv.Start())

	var src Source = NewTCPSource(srv)
	assert.Equal(t, "tcp", src.Name())

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	_, err = fmt.Fprintln(conn, `{"metric":"response_time","value":1}`)
	require.NoError(t, err)

	select {
	case env := <-src.Lines():
		assert.Equal(t, "tcp", env.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no line received")
	}
	conn.Close()
	src.Stop()
	assert.Empty(t, collect(t, src.Lines()))
}
