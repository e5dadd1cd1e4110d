package transport

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pylonengine/netsync/pkg/log"
)

// WSTransport frames messages over WebSocket binary messages, for peers
// behind proxies or browsers that cannot speak raw TCP.
type WSTransport struct {
	upgrader websocket.Upgrader
}

// NewWSTransport creates a WebSocket transport.
func NewWSTransport() *WSTransport {
	return &WSTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Listen serves a WebSocket upgrade endpoint on addr and hands upgraded
// connections to Accept.
func (t *WSTransport) Listen(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %v", addr, err)
	}

	l := &wsListener{
		ln:     ln,
		accept: make(chan Conn, 16),
		done:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		c, err := t.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("Failed to upgrade websocket connection: %v", err)
			return
		}
		select {
		case l.accept <- newWSConn(c):
		case <-l.done:
			_ = c.Close()
		}
	})
	l.server = &http.Server{Handler: mux}

	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("Websocket listener stopped: %v", err)
		}
	}()

	return l, nil
}

// Dial opens a WebSocket connection to addr within the given timeout.
func (t *WSTransport) Dial(addr string, timeout time.Duration) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	c, _, err := dialer.Dial(fmt.Sprintf("ws://%s/", addr), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ws://%s/: %v", addr, err)
	}
	return newWSConn(c), nil
}

type wsListener struct {
	ln     net.Listener
	server *http.Server
	accept chan Conn

	closeOnce sync.Once
	done      chan struct{}
}

func (l *wsListener) Accept() (Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.done:
		return nil, &ErrConnectionClosed{}
	}
}

func (l *wsListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	return l.server.Close()
}

func (l *wsListener) Addr() string {
	return l.ln.Addr().String()
}

type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func newWSConn(c *websocket.Conn) *wsConn {
	c.SetReadLimit(MaxFrameSize)
	return &wsConn{conn: c}
}

func (c *wsConn) WriteFrame(b []byte) error {
	if len(b) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d", len(b), MaxFrameSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			return &ErrConnectionClosed{}
		}
		return err
	}
	return nil
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		messageType, b, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				return nil, &ErrConnectionClosed{}
			}
			return nil, closedOr(err)
		}
		if messageType != websocket.BinaryMessage {
			// Control and text messages are not part of the protocol.
			continue
		}
		return b, nil
	}
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
