// Package network implements the actor-state synchronization manager: peer
// connections with handshake and heartbeat, the networked actor registry,
// dirty-state replication with per-actor sync policies, the full-sync
// protocol for late joiners, and prioritized outbound dispatch.
//
// The manager is single-threaded by contract. Transport goroutines only
// deserialize frames and enqueue them; every piece of connection, registry
// and actor state mutates exclusively inside Update, on the caller's
// goroutine. Event callbacks run there too.
package network

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pylonengine/netsync/pkg/actors"
	"github.com/pylonengine/netsync/pkg/log"
	"github.com/pylonengine/netsync/pkg/messages"
	"github.com/pylonengine/netsync/pkg/queue"
	"github.com/pylonengine/netsync/pkg/scheduler"
	"github.com/pylonengine/netsync/pkg/transport"
)

type mode int

const (
	modeIdle mode = iota
	modeServer
	modeClient
)

func (m mode) String() string {
	switch m {
	case modeServer:
		return "server"
	case modeClient:
		return "client"
	default:
		return "idle"
	}
}

// OrphanPolicy decides what happens to a client's actors when it leaves.
type OrphanPolicy int

const (
	// OrphanDestroy removes the leaving client's actors everywhere.
	OrphanDestroy OrphanPolicy = iota
	// OrphanAdopt transfers them to server ownership.
	OrphanAdopt
)

// HandlerFunc handles an application-defined message kind. Sender is the
// peer id the message arrived from.
type HandlerFunc func(sender uint32, msg *messages.Message)

// ErrNotOwner is returned when a local operation targets an actor the local
// peer does not own.
type ErrNotOwner struct {
	Identity string
}

func (e *ErrNotOwner) Error() string {
	return fmt.Sprintf("local peer does not own actor %s", e.Identity)
}

// NewManagerOptions configures a Manager. Zero values fall back to the
// defaults documented per field.
type NewManagerOptions struct {
	Transport transport.Transport
	// Factory constructs components when mirroring remote spawns. Defaults
	// to a factory with only the built-in component types.
	Factory *actors.Factory
	// MaxConnections caps concurrent clients when hosting. Default 16.
	MaxConnections int
	// Rates are the throttled tier send rates. Default 60/20/5 per second.
	Rates scheduler.Rates
	// HeartbeatInterval is the keepalive period in seconds. Default 2.
	HeartbeatInterval float64
	// HeartbeatTimeout marks a peer dead after this many silent seconds.
	// Default 10.
	HeartbeatTimeout float64
	// ViolationThreshold drops a client after this many authority
	// violations. Default 10; 0 keeps the default, use a negative value to
	// disable.
	ViolationThreshold int
	// OrphanPolicy decides the fate of a leaving client's actors.
	OrphanPolicy OrphanPolicy
	// InboundQueueSize bounds frames buffered between transport goroutines
	// and Update. Default 4096.
	InboundQueueSize int
}

// StatusSnapshot is a point-in-time view of the manager for status and
// metrics endpoints. It is safe to read from other goroutines.
type StatusSnapshot struct {
	Mode             string   `json:"mode"`
	LocalPeerID      uint32   `json:"localPeerID"`
	Peers            []uint32 `json:"peers"`
	Actors           int      `json:"actors"`
	MessagesSent     uint64   `json:"messagesSent"`
	MessagesReceived uint64   `json:"messagesReceived"`
	BytesSent        uint64   `json:"bytesSent"`
	BytesReceived    uint64   `json:"bytesReceived"`
	FramesDiscarded  uint64   `json:"framesDiscarded"`
	QueueDepth       int      `json:"queueDepth"`
	UptimeSeconds    float64  `json:"uptimeSeconds"`
}

// Inbound queue items produced by transport goroutines.
type connOpened struct {
	conn transport.Conn
}

type connClosed struct {
	peerID uint32
}

type badFrame struct {
	peerID uint32
	size   int
}

type inboundFrame struct {
	peerID uint32
	size   int
	msg    *messages.Message
}

// Manager owns every connection and every networked actor of one peer.
type Manager struct {
	opts     NewManagerOptions
	factory  *actors.Factory
	events   *Events
	registry *Registry
	handlers map[string]HandlerFunc

	mode        mode
	listener    transport.Listener
	connections map[uint32]*ConnectionState
	nextPeerID  uint32
	server      *ConnectionState
	localPeerID uint32

	fullSyncActive    bool
	fullSyncExpected  int
	fullSyncRemaining int

	inbound queue.Queue
	clock   float64
	tick    uint64

	messagesSent     uint64
	messagesReceived uint64
	bytesSent        uint64
	bytesReceived    uint64
	framesDiscarded  uint64

	statusMu sync.RWMutex
	status   StatusSnapshot
}

// NewManager creates an idle manager. Call Host or Connect to go live.
func NewManager(opts NewManagerOptions) *Manager {
	if opts.Transport == nil {
		opts.Transport = transport.NewTCPTransport()
	}
	if opts.Factory == nil {
		opts.Factory = actors.NewFactory()
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 16
	}
	if opts.Rates == (scheduler.Rates{}) {
		opts.Rates = scheduler.DefaultRates()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 2
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 10
	}
	if opts.ViolationThreshold == 0 {
		opts.ViolationThreshold = 10
	}
	if opts.InboundQueueSize <= 0 {
		opts.InboundQueueSize = 4096
	}

	return &Manager{
		opts:        opts,
		factory:     opts.Factory,
		events:      newEvents(),
		registry:    NewRegistry(),
		handlers:    make(map[string]HandlerFunc),
		connections: make(map[uint32]*ConnectionState),
		nextPeerID:  1,
		inbound:     queue.NewInMemoryQueue(opts.InboundQueueSize),
	}
}

// Events returns the observer registration surface.
func (m *Manager) Events() *Events {
	return m.events
}

// LocalPeerID returns this peer's id: 0 for the server, the assigned id for
// a connected client.
func (m *Manager) LocalPeerID() uint32 {
	return m.localPeerID
}

// Host starts listening for clients on addr.
func (m *Manager) Host(addr string) error {
	if m.mode != modeIdle {
		return fmt.Errorf("manager is already %s", m.mode)
	}

	l, err := m.opts.Transport.Listen(addr)
	if err != nil {
		return fmt.Errorf("failed to host on %s: %w", addr, err)
	}

	m.listener = l
	m.mode = modeServer
	m.localPeerID = 0
	go m.acceptLoop(l)

	log.Info("Hosting on %s", l.Addr())
	return nil
}

// Connect dials a server within the given timeout, sends the handshake
// request and returns. Acceptance or refusal surfaces through events on
// subsequent Updates.
func (m *Manager) Connect(addr string, timeout time.Duration) error {
	if m.mode != modeIdle {
		return fmt.Errorf("manager is already %s", m.mode)
	}

	conn, err := m.opts.Transport.Dial(addr, timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	msg, err := messages.NewMessage(messages.KindConnectRequest, 0, messages.PriorityInstant, "", &messages.ConnectRequest{
		Version:    messages.ProtocolVersion,
		ProposedID: uuid.NewString(),
	})
	if err != nil {
		_ = conn.Close()
		return err
	}
	b, err := messages.SerializeMessage(msg)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := conn.WriteFrame(b); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to send connect request: %w", err)
	}

	m.server = newConnectionState(0, conn, m.opts.Rates, m.clock)
	m.mode = modeClient
	m.messagesSent++
	m.bytesSent += uint64(len(b))
	go m.readLoop(conn, 0)

	log.Info("Connected to %s, awaiting handshake", conn.RemoteAddr())
	return nil
}

// Disconnect tears down every connection and returns the manager to idle.
func (m *Manager) Disconnect() error {
	switch m.mode {
	case modeServer:
		_ = m.listener.Close()
		m.listener = nil
		for _, cs := range m.connectionList() {
			m.dropConnection(cs, "server shutting down")
		}
		m.mode = modeIdle
	case modeClient:
		m.serverLost("disconnect requested")
	default:
		return fmt.Errorf("manager is not hosting or connected")
	}
	// Frames the torn-down session already queued must not leak into a
	// later Host or Connect.
	if err := m.inbound.ClearQueue(); err != nil {
		log.Warn("Failed to clear inbound queue: %v", err)
	}
	return nil
}

// RegisterHandler installs a handler for an application-defined message
// kind. Protocol kinds cannot be overridden.
func (m *Manager) RegisterHandler(kind string, fn HandlerFunc) error {
	if kind == "" {
		return fmt.Errorf("message kind is empty")
	}
	if isProtocolKind(kind) {
		return fmt.Errorf("kind %q is reserved", kind)
	}
	if _, exists := m.handlers[kind]; exists {
		return fmt.Errorf("kind %q already has a handler", kind)
	}
	m.handlers[kind] = fn
	return nil
}

// Broadcast queues a message of any kind to every connected peer: all
// clients when hosting, the server when connected.
func (m *Manager) Broadcast(kind string, priority messages.Priority, payload interface{}) error {
	msg, err := messages.NewMessage(kind, m.localPeerID, priority, "", payload)
	if err != nil {
		return err
	}
	return m.broadcastMessage(msg, 0, false)
}

// SendTo queues a message to one peer. On a client the only valid peer is
// the server, id 0.
func (m *Manager) SendTo(peer uint32, kind string, priority messages.Priority, payload interface{}) error {
	msg, err := messages.NewMessage(kind, m.localPeerID, priority, "", payload)
	if err != nil {
		return err
	}

	switch m.mode {
	case modeServer:
		cs, ok := m.connections[peer]
		if !ok || !cs.handshaken {
			return fmt.Errorf("no connected peer %d", peer)
		}
		return m.enqueue(cs, msg)
	case modeClient:
		if peer != 0 {
			return fmt.Errorf("clients can only send to the server (peer 0), not %d", peer)
		}
		if m.server == nil || !m.server.handshaken {
			return fmt.Errorf("handshake is not complete")
		}
		return m.enqueue(m.server, msg)
	default:
		return fmt.Errorf("manager is not hosting or connected")
	}
}

// Peers returns the ids of connected peers in ascending order.
func (m *Manager) Peers() []uint32 {
	switch m.mode {
	case modeServer:
		out := make([]uint32, 0, len(m.connections))
		for id, cs := range m.connections {
			if cs.handshaken {
				out = append(out, id)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	case modeClient:
		if m.server != nil && m.server.handshaken {
			return []uint32{0}
		}
	}
	return nil
}

// Update advances the manager by dt seconds: applies everything received
// since the last call, detects and queues dirty state, runs heartbeats and
// timeouts, and dispatches each connection's scheduled traffic.
func (m *Manager) Update(dt float64) {
	m.clock += dt
	m.tick++

	m.processInbound()

	switch m.mode {
	case modeServer:
		m.replicateOwned()
		m.runHeartbeats()
		m.runTimeouts()
		for _, cs := range m.connectionList() {
			m.flush(cs, dt)
		}
	case modeClient:
		if m.server != nil && m.server.handshaken {
			m.replicateOwned()
			m.runHeartbeats()
			m.runTimeouts()
		}
		if m.server != nil {
			m.flush(m.server, dt)
		}
	}

	m.refreshStatus()
}

// Status returns the latest snapshot. Safe from any goroutine.
func (m *Manager) Status() StatusSnapshot {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.status
}

func (m *Manager) acceptLoop(l transport.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if !transport.IsClosed(err) {
				log.Error("Accept failed: %v", err)
			}
			return
		}
		if err := m.inbound.Enqueue(&connOpened{conn: conn}); err != nil {
			log.Warn("Inbound queue full, refusing connection from %s", conn.RemoteAddr())
			_ = conn.Close()
		}
	}
}

func (m *Manager) readLoop(conn transport.Conn, peerID uint32) {
	for {
		b, err := conn.ReadFrame()
		if err != nil {
			if !transport.IsClosed(err) {
				log.Warn("Read from peer %d failed: %v", peerID, err)
			}
			_ = m.inbound.Enqueue(&connClosed{peerID: peerID})
			return
		}
		msg, err := messages.DeserializeMessage(b)
		if err != nil {
			log.Warn("Discarding malformed frame from peer %d: %v", peerID, err)
			_ = m.inbound.Enqueue(&badFrame{peerID: peerID, size: len(b)})
			continue
		}
		if err := m.inbound.Enqueue(&inboundFrame{peerID: peerID, size: len(b), msg: msg}); err != nil {
			log.Warn("Inbound queue full, dropping %s frame from peer %d", msg.Kind, peerID)
		}
	}
}

func (m *Manager) processInbound() {
	items, err := m.inbound.ReadAllMessages()
	if err != nil {
		log.Error("Failed to read inbound queue: %v", err)
		return
	}
	for _, item := range items {
		switch v := item.(type) {
		case *connOpened:
			m.handleOpened(v.conn)
		case *connClosed:
			m.handleClosed(v.peerID)
		case *badFrame:
			m.bytesReceived += uint64(v.size)
			m.framesDiscarded++
		case *inboundFrame:
			m.bytesReceived += uint64(v.size)
			cs := m.lookupConnection(v.peerID)
			if cs == nil {
				m.framesDiscarded++
				continue
			}
			m.messagesReceived++
			cs.lastSeen = m.clock
			m.dispatch(cs, v.msg)
		default:
			log.Error("Unexpected inbound item %T", item)
		}
	}
}

func (m *Manager) lookupConnection(peerID uint32) *ConnectionState {
	switch m.mode {
	case modeServer:
		return m.connections[peerID]
	case modeClient:
		if peerID == 0 {
			return m.server
		}
	}
	return nil
}

func (m *Manager) handleOpened(conn transport.Conn) {
	if m.mode != modeServer {
		_ = conn.Close()
		return
	}
	if len(m.connections) >= m.opts.MaxConnections {
		log.Warn("Refusing connection from %s: at capacity (%d)", conn.RemoteAddr(), m.opts.MaxConnections)
		m.refuse(conn, messages.RefusalReasonFull)
		return
	}

	id := m.nextPeerID
	m.nextPeerID++
	m.connections[id] = newConnectionState(id, conn, m.opts.Rates, m.clock)
	go m.readLoop(conn, id)
	log.Debug("Connection %d opened from %s", id, conn.RemoteAddr())
}

// refuse writes a refusal directly, outside any scheduler, then closes.
func (m *Manager) refuse(conn transport.Conn, reason string) {
	msg, err := messages.NewMessage(messages.KindConnectRefused, 0, messages.PriorityInstant, "", &messages.ConnectRefused{Reason: reason})
	if err == nil {
		if b, err := messages.SerializeMessage(msg); err == nil {
			if conn.WriteFrame(b) == nil {
				m.messagesSent++
				m.bytesSent += uint64(len(b))
			}
		}
	}
	_ = conn.Close()
}

func (m *Manager) handleClosed(peerID uint32) {
	switch m.mode {
	case modeServer:
		if cs, ok := m.connections[peerID]; ok {
			m.dropConnection(cs, "closed by peer")
		}
	case modeClient:
		if m.server != nil {
			m.serverLost("connection closed")
		}
	}
}

// dropConnection removes a client connection: queued outbound traffic is
// discarded immediately and the leaving client's actors follow the orphan
// policy.
func (m *Manager) dropConnection(cs *ConnectionState, reason string) {
	cs.sched.Drop()
	_ = cs.conn.Close()
	delete(m.connections, cs.ID)
	log.Info("Connection %d dropped: %s", cs.ID, reason)

	if !cs.handshaken {
		return
	}
	m.handleOrphans(cs.ID)
	m.events.firePeerDisconnect(cs.ID)
}

func (m *Manager) handleOrphans(peerID uint32) {
	for _, na := range m.registry.All() {
		if na.ownership != ClientOwned || na.owner != peerID {
			continue
		}
		switch m.opts.OrphanPolicy {
		case OrphanAdopt:
			log.Info("Adopting actor %s from departed peer %d", na.identity, peerID)
			na.ownership = ServerOwned
			na.owner = 0
			m.announceAdoption(na)
		default:
			log.Info("Destroying actor %s of departed peer %d", na.identity, peerID)
			m.registry.Unregister(na.identity)
			m.broadcastDestroy(na.identity, peerID)
			m.events.fireRemoteDestroy(na.identity)
		}
	}
}

// serverLost handles the client side of losing the server: mirrors of
// remote actors are destroyed, locally owned actors stay.
func (m *Manager) serverLost(reason string) {
	cs := m.server
	m.server = nil
	m.mode = modeIdle
	m.fullSyncActive = false

	if cs != nil {
		cs.sched.Drop()
		_ = cs.conn.Close()
	}
	log.Info("Server connection lost: %s", reason)

	for _, na := range m.registry.All() {
		if na.ownership == LocalOnly {
			continue
		}
		if na.ownership == ClientOwned && na.owner == m.localPeerID {
			continue
		}
		m.registry.Unregister(na.identity)
		m.events.fireRemoteDestroy(na.identity)
	}

	if cs != nil && cs.handshaken {
		m.events.firePeerDisconnect(0)
	}
}

func (m *Manager) runHeartbeats() {
	payload := &messages.Heartbeat{Timestamp: time.Now().UnixMilli()}
	for _, cs := range m.liveConnections() {
		if m.clock-cs.lastPing < m.opts.HeartbeatInterval {
			continue
		}
		cs.lastPing = m.clock
		msg, err := messages.NewMessage(messages.KindHeartbeat, m.localPeerID, messages.PriorityInstant, "", payload)
		if err != nil {
			log.Error("Failed to build heartbeat: %v", err)
			return
		}
		if err := m.enqueue(cs, msg); err != nil {
			log.Warn("Failed to queue heartbeat for peer %d: %v", cs.ID, err)
		}
	}
}

func (m *Manager) runTimeouts() {
	if m.mode == modeClient {
		if m.server != nil && m.clock-m.server.lastSeen > m.opts.HeartbeatTimeout {
			log.Warn("Server silent for %.1fs, dropping", m.clock-m.server.lastSeen)
			m.serverLost("heartbeat timeout")
		}
		return
	}
	// Connections awaiting their handshake hold a capacity slot, so the
	// sweep covers peers that never send one.
	for _, cs := range m.connectionList() {
		if m.clock-cs.lastSeen <= m.opts.HeartbeatTimeout {
			continue
		}
		log.Warn("Peer %d silent for %.1fs, dropping", cs.ID, m.clock-cs.lastSeen)
		m.dropConnection(cs, "heartbeat timeout")
	}
}

func (m *Manager) liveConnections() []*ConnectionState {
	if m.mode == modeClient {
		if m.server != nil && m.server.handshaken {
			return []*ConnectionState{m.server}
		}
		return nil
	}
	out := make([]*ConnectionState, 0, len(m.connections))
	for _, cs := range m.connections {
		if cs.handshaken {
			out = append(out, cs)
		}
	}
	return out
}

func (m *Manager) connectionList() []*ConnectionState {
	out := make([]*ConnectionState, 0, len(m.connections))
	for _, cs := range m.connections {
		out = append(out, cs)
	}
	return out
}

// enqueue serializes a message once and queues the frame on the
// connection's scheduler tier matching the message priority.
func (m *Manager) enqueue(cs *ConnectionState, msg *messages.Message) error {
	b, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize %s message: %w", msg.Kind, err)
	}
	return cs.sched.Enqueue(b, scheduler.Tier(msg.Priority))
}

// broadcastMessage queues a message to every live connection, optionally
// skipping one peer (used when relaying).
func (m *Manager) broadcastMessage(msg *messages.Message, skip uint32, useSkip bool) error {
	switch m.mode {
	case modeServer:
		b, err := messages.SerializeMessage(msg)
		if err != nil {
			return fmt.Errorf("failed to serialize %s message: %w", msg.Kind, err)
		}
		for _, cs := range m.liveConnections() {
			if useSkip && cs.ID == skip {
				continue
			}
			if err := cs.sched.Enqueue(b, scheduler.Tier(msg.Priority)); err != nil {
				log.Warn("Failed to queue %s for peer %d: %v", msg.Kind, cs.ID, err)
			}
		}
		return nil
	case modeClient:
		if m.server == nil || !m.server.handshaken {
			return fmt.Errorf("handshake is not complete")
		}
		return m.enqueue(m.server, msg)
	default:
		return fmt.Errorf("manager is not hosting or connected")
	}
}

func (m *Manager) broadcastDestroy(identity string, skip uint32) {
	if m.mode != modeServer {
		return
	}
	msg, err := messages.NewMessage(messages.KindDestroy, m.localPeerID, messages.PriorityInstant, identity, &messages.Destroy{Identity: identity})
	if err != nil {
		log.Error("Failed to build destroy for %s: %v", identity, err)
		return
	}
	_ = m.broadcastMessage(msg, skip, true)
}

// flush drains a connection's scheduler for this cycle and writes the
// frames. A write failure tears the connection down.
func (m *Manager) flush(cs *ConnectionState, dt float64) {
	for _, item := range cs.sched.Drain(dt) {
		b, ok := item.([]byte)
		if !ok {
			log.Error("Unexpected scheduler item %T", item)
			continue
		}
		if err := cs.conn.WriteFrame(b); err != nil {
			log.Warn("Write to peer %d failed: %v", cs.ID, err)
			if m.mode == modeServer {
				m.dropConnection(cs, "write failed")
			} else {
				m.serverLost("write failed")
			}
			return
		}
		m.messagesSent++
		m.bytesSent += uint64(len(b))
	}
}

func (m *Manager) refreshStatus() {
	snapshot := StatusSnapshot{
		Mode:             m.mode.String(),
		LocalPeerID:      m.localPeerID,
		Peers:            m.Peers(),
		Actors:           m.registry.Len(),
		MessagesSent:     m.messagesSent,
		MessagesReceived: m.messagesReceived,
		BytesSent:        m.bytesSent,
		BytesReceived:    m.bytesReceived,
		FramesDiscarded:  m.framesDiscarded,
		QueueDepth:       m.inbound.Size(),
		UptimeSeconds:    m.clock,
	}
	m.statusMu.Lock()
	m.status = snapshot
	m.statusMu.Unlock()
}

func isProtocolKind(kind string) bool {
	switch kind {
	case messages.KindConnectRequest, messages.KindConnectAccepted, messages.KindConnectRefused,
		messages.KindSpawn, messages.KindDestroy, messages.KindComponentUpdate,
		messages.KindFullSyncRequest, messages.KindFullSyncManifest, messages.KindFullSyncData,
		messages.KindHeartbeat:
		return true
	}
	return false
}
