package network

import (
	"github.com/pylonengine/netsync/pkg/scheduler"
	"github.com/pylonengine/netsync/pkg/transport"
)

// ConnectionState tracks one live peer connection. On the server there is
// one per client; on a client there is one for the server.
type ConnectionState struct {
	// ID is the peer id on the far side of this connection. The server
	// assigns ids sequentially starting at 1 and is itself peer 0.
	ID   uint32
	conn transport.Conn

	// sched holds this connection's outbound traffic until the dispatch
	// phase of Update drains it.
	sched *scheduler.Scheduler

	handshaken bool
	lastSeen   float64
	lastPing   float64
	violations int
}

func newConnectionState(id uint32, conn transport.Conn, rates scheduler.Rates, now float64) *ConnectionState {
	return &ConnectionState{
		ID:       id,
		conn:     conn,
		sched:    scheduler.NewScheduler(rates),
		lastSeen: now,
		lastPing: now,
	}
}

// RemoteAddr describes the peer for logging.
func (c *ConnectionState) RemoteAddr() string {
	return c.conn.RemoteAddr()
}
