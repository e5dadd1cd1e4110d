// Package transport provides reliable, ordered, bidirectional frame streams
// between peers. Each frame is an opaque byte slice; framing and transport
// details stay below the message layer so envelopes round-trip unchanged.
package transport

import "time"

// MaxFrameSize is the largest frame a connection will read or write.
// Frames advertising a larger size are treated as malformed.
const MaxFrameSize = 1 << 20

// Conn is one reliable ordered frame stream to a single peer.
type Conn interface {
	// WriteFrame sends one frame. Frames arrive in write order.
	WriteFrame(b []byte) error
	// ReadFrame blocks until the next frame arrives. It returns
	// ErrConnectionClosed once the stream is gone.
	ReadFrame() ([]byte, error)
	// Close tears the stream down. Safe to call more than once.
	Close() error
	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}

// Listener accepts inbound connections.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}

// Transport creates listeners and outbound connections.
type Transport interface {
	Listen(addr string) (Listener, error)
	Dial(addr string, timeout time.Duration) (Conn, error)
}

// ErrConnectionClosed is returned when the underlying stream is closed.
type ErrConnectionClosed struct{}

func (e *ErrConnectionClosed) Error() string {
	return "connection closed"
}

// IsClosed reports whether err indicates a closed connection.
func IsClosed(err error) bool {
	_, ok := err.(*ErrConnectionClosed)
	return ok
}
