package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTransportRoundTrip(t *testing.T) {
	tr := NewMemoryTransport()

	l, err := tr.Listen("game")
	require.NoError(t, err)
	defer l.Close()

	client, err := tr.Dial("game", time.Second)
	require.NoError(t, err)
	defer client.Close()

	server, err := l.Accept()
	require.NoError(t, err)
	defer server.Close()

	require.NoError(t, client.WriteFrame([]byte("hello")))
	require.NoError(t, client.WriteFrame([]byte("world")))

	b, err := server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)

	b, err = server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), b)

	require.NoError(t, server.WriteFrame([]byte("ack")))
	b, err = client.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("ack"), b)
}

func TestMemoryTransportDeliversBufferedFramesAfterClose(t *testing.T) {
	tr := NewMemoryTransport()

	l, err := tr.Listen("game")
	require.NoError(t, err)
	defer l.Close()

	client, err := tr.Dial("game", time.Second)
	require.NoError(t, err)

	server, err := l.Accept()
	require.NoError(t, err)
	defer server.Close()

	require.NoError(t, client.WriteFrame([]byte("last words")))
	require.NoError(t, client.Close())

	b, err := server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("last words"), b)

	_, err = server.ReadFrame()
	require.Error(t, err)
	assert.True(t, IsClosed(err))
}

func TestMemoryTransportDialErrors(t *testing.T) {
	tr := NewMemoryTransport()

	_, err := tr.Dial("nowhere", 10*time.Millisecond)
	assert.Error(t, err)

	l, err := tr.Listen("game")
	require.NoError(t, err)
	_, err = tr.Listen("game")
	assert.Error(t, err)

	require.NoError(t, l.Close())
	_, err = tr.Listen("game")
	assert.NoError(t, err)
}

func TestTCPTransportRoundTrip(t *testing.T) {
	tr := NewTCPTransport()

	l, err := tr.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan Conn, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err := tr.Dial(l.Addr(), time.Second)
	require.NoError(t, err)
	defer client.Close()

	server, ok := <-accepted
	require.True(t, ok)
	defer server.Close()

	frame := []byte(`{"kind":"heartbeat"}`)
	require.NoError(t, client.WriteFrame(frame))

	b, err := server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, frame, b)

	require.NoError(t, server.Close())
	_, err = client.ReadFrame()
	require.Error(t, err)
	assert.True(t, IsClosed(err))
}

func TestTCPWriteFrameRejectsOversize(t *testing.T) {
	tr := NewTCPTransport()

	l, err := tr.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		c, err := l.Accept()
		if err == nil {
			defer c.Close()
			_, _ = c.ReadFrame()
		}
	}()

	client, err := tr.Dial(l.Addr(), time.Second)
	require.NoError(t, err)
	defer client.Close()

	assert.Error(t, client.WriteFrame(make([]byte, MaxFrameSize+1)))
}

func TestWSTransportRoundTrip(t *testing.T) {
	tr := NewWSTransport()

	l, err := tr.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan Conn, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err := tr.Dial(l.Addr(), time.Second)
	require.NoError(t, err)
	defer client.Close()

	server, ok := <-accepted
	require.True(t, ok)
	defer server.Close()

	frame := []byte(`{"kind":"spawn"}`)
	require.NoError(t, client.WriteFrame(frame))

	b, err := server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, frame, b)
}
