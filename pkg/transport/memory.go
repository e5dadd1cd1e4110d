package transport

import (
	"fmt"
	"sync"
	"time"
)

// memoryBacklog bounds in-flight frames per direction. A writer that gets
// this far ahead of the reader blocks, matching TCP backpressure.
const memoryBacklog = 4096

// MemoryTransport connects peers inside one process without touching the
// network. Host and client can share a transport instance for local play,
// and tests get deterministic connections.
type MemoryTransport struct {
	mu        sync.Mutex
	listeners map[string]*memoryListener
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		listeners: make(map[string]*memoryListener),
	}
}

// Listen registers a listener under addr, which is an opaque key rather
// than a real network address.
func (t *MemoryTransport) Listen(addr string) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.listeners[addr]; exists {
		return nil, fmt.Errorf("address %s is already in use", addr)
	}

	l := &memoryListener{
		transport: t,
		addr:      addr,
		accept:    make(chan Conn, 16),
		done:      make(chan struct{}),
	}
	t.listeners[addr] = l
	return l, nil
}

// Dial connects to the listener registered under addr.
func (t *MemoryTransport) Dial(addr string, timeout time.Duration) (Conn, error) {
	t.mu.Lock()
	l, ok := t.listeners[addr]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("nothing is listening on %s", addr)
	}

	local, remote := newMemoryPair(addr)
	select {
	case l.accept <- remote:
		return local, nil
	case <-l.done:
		return nil, &ErrConnectionClosed{}
	case <-time.After(timeout):
		return nil, fmt.Errorf("dial to %s timed out", addr)
	}
}

type memoryListener struct {
	transport *MemoryTransport
	addr      string
	accept    chan Conn

	closeOnce sync.Once
	done      chan struct{}
}

func (l *memoryListener) Accept() (Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.done:
		return nil, &ErrConnectionClosed{}
	}
}

func (l *memoryListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.transport.mu.Lock()
		delete(l.transport.listeners, l.addr)
		l.transport.mu.Unlock()
	})
	return nil
}

func (l *memoryListener) Addr() string {
	return l.addr
}

type memoryConn struct {
	addr string
	recv chan []byte
	peer *memoryConn

	closeOnce sync.Once
	done      chan struct{}
}

// newMemoryPair creates the two crossed halves of an in-process connection.
func newMemoryPair(addr string) (*memoryConn, *memoryConn) {
	a := &memoryConn{
		addr: addr,
		recv: make(chan []byte, memoryBacklog),
		done: make(chan struct{}),
	}
	b := &memoryConn{
		addr: addr,
		recv: make(chan []byte, memoryBacklog),
		done: make(chan struct{}),
	}
	a.peer = b
	b.peer = a
	return a, b
}

func (c *memoryConn) WriteFrame(b []byte) error {
	if len(b) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d", len(b), MaxFrameSize)
	}

	frame := make([]byte, len(b))
	copy(frame, b)

	select {
	case <-c.done:
		return &ErrConnectionClosed{}
	case <-c.peer.done:
		return &ErrConnectionClosed{}
	case c.peer.recv <- frame:
		return nil
	}
}

func (c *memoryConn) ReadFrame() ([]byte, error) {
	// Frames written before the peer closed still get delivered.
	select {
	case b := <-c.recv:
		return b, nil
	default:
	}

	select {
	case b := <-c.recv:
		return b, nil
	case <-c.done:
		return nil, &ErrConnectionClosed{}
	case <-c.peer.done:
		return nil, &ErrConnectionClosed{}
	}
}

func (c *memoryConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *memoryConn) RemoteAddr() string {
	return fmt.Sprintf("memory://%s", c.addr)
}
