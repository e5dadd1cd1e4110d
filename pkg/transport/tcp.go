package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// TCPTransport frames messages over plain TCP streams with a 4-byte
// big-endian length prefix.
type TCPTransport struct{}

// NewTCPTransport creates a TCP transport.
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

// Listen starts accepting TCP connections on addr, e.g. ":9001".
func (t *TCPTransport) Listen(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %v", addr, err)
	}
	return &tcpListener{ln: ln}, nil
}

// Dial opens a TCP connection to addr within the given timeout.
func (t *TCPTransport) Dial(addr string, timeout time.Duration) (Conn, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %v", addr, err)
	}
	return newTCPConn(c), nil
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, &ErrConnectionClosed{}
		}
		return nil, err
	}
	return newTCPConn(c), nil
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}

func (l *tcpListener) Addr() string {
	return l.ln.Addr().String()
}

type tcpConn struct {
	conn net.Conn

	writeMu sync.Mutex
	readMu  sync.Mutex
}

func newTCPConn(c net.Conn) *tcpConn {
	return &tcpConn{conn: c}
}

func (c *tcpConn) WriteFrame(b []byte) error {
	if len(b) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d", len(b), MaxFrameSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(b)))
	if _, err := c.conn.Write(header[:]); err != nil {
		return closedOr(err)
	}
	if _, err := c.conn.Write(b); err != nil {
		return closedOr(err)
	}
	return nil
}

func (c *tcpConn) ReadFrame() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, closedOr(err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || size > MaxFrameSize {
		return nil, fmt.Errorf("malformed frame header: size %d", size)
	}

	b := make([]byte, size)
	if _, err := io.ReadFull(c.conn, b); err != nil {
		return nil, closedOr(err)
	}
	return b, nil
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// closedOr maps stream teardown errors onto ErrConnectionClosed and passes
// everything else through.
func closedOr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return &ErrConnectionClosed{}
	}
	return err
}
