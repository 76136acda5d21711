package tcpserver

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/tally/internal/model"
)

func TestNewServer_DefaultLocalhostAddress(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "127.0.0.1:4000", NewServer("").Addr())
}

func TestNewServer_UsesConfiguredAddressAndBuffers(t *testing.T) {
	t.Parallel()

	s := NewServer("0.0.0.0:5000", ServerConfig{LineChannelSize: 64, MaxLineSize: 2048})
	assert.Equal(t, "0.0.0.0:5000", s.Addr())
	assert.Equal(t, 64, cap(s.lineChan))
	assert.Equal(t, 2048, s.maxLineSize)
}

func TestServerDeliversLines(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	require.NoError(t, s.Start())

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	_, err = fmt.Fprint(conn, `{"event":"user_message"}`+"\n\n"+`{"metric":"response_time","value":3}`+"\n")
	require.NoError(t, err)

	var got []model.IngestEnvelope
	for len(got) < 2 {
		select {
		case env := <-s.Lines():
			got = append(got, env)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %d lines", len(got))
		}
	}
	assert.Equal(t, "tcp", got[0].Source)
	assert.True(t, strings.HasPrefix(got[1].Line, `{"metric"`))

	// an idle client does not block shutdown
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	_, ok := <-s.Lines()
	assert.False(t, ok)
	conn.Close()
}

func TestServerDropsOversizedLines(t *testing.T) {
	s := NewServer("127.0.0.1:0", ServerConfig{MaxLineSize: 16})
	require.NoError(t, s.Start())
	defer s.Stop()

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = fmt.Fprintln(conn, strings.Repeat("x", 64))
	require.NoError(t, err)

	select {
	case env := <-s.Lines():
		t.Fatalf("unexpected line %q", env.Line)
	case <-time.After(100 * time.Millisecond):
	}
}
