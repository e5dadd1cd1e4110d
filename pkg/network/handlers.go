package network

import (
	"encoding/json"

	"github.com/pylonengine/netsync/pkg/log"
	"github.com/pylonengine/netsync/pkg/messages"
)

func (m *Manager) dispatch(cs *ConnectionState, msg *messages.Message) {
	if m.mode == modeServer {
		m.dispatchServer(cs, msg)
	} else {
		m.dispatchClient(cs, msg)
	}
}

func (m *Manager) dispatchServer(cs *ConnectionState, msg *messages.Message) {
	if !cs.handshaken && msg.Kind != messages.KindConnectRequest {
		m.discard("Discarding %s from peer %d before handshake", msg.Kind, cs.ID)
		return
	}

	switch msg.Kind {
	case messages.KindConnectRequest:
		m.handleConnectRequest(cs, msg)
	case messages.KindHeartbeat:
		// lastSeen is already refreshed for every inbound frame.
	case messages.KindSpawn:
		m.handleSpawnFromClient(cs, msg)
	case messages.KindDestroy:
		m.handleDestroyFromClient(cs, msg)
	case messages.KindComponentUpdate:
		m.handleUpdateFromClient(cs, msg)
	case messages.KindFullSyncRequest:
		m.handleFullSyncRequest(cs)
	case messages.KindConnectAccepted, messages.KindConnectRefused,
		messages.KindFullSyncManifest, messages.KindFullSyncData:
		m.discard("Discarding server-only %s from peer %d", msg.Kind, cs.ID)
	default:
		m.dispatchCustom(cs.ID, msg)
	}
}

func (m *Manager) dispatchClient(cs *ConnectionState, msg *messages.Message) {
	if !cs.handshaken && msg.Kind != messages.KindConnectAccepted && msg.Kind != messages.KindConnectRefused {
		m.discard("Discarding %s before handshake completed", msg.Kind)
		return
	}

	switch msg.Kind {
	case messages.KindConnectAccepted:
		m.handleConnectAccepted(msg)
	case messages.KindConnectRefused:
		m.handleConnectRefused(msg)
	case messages.KindHeartbeat:
	case messages.KindSpawn:
		m.applyRemoteSpawn(msg, false)
	case messages.KindFullSyncManifest:
		m.handleFullSyncManifest(msg)
	case messages.KindFullSyncData:
		m.applyRemoteSpawn(msg, true)
	case messages.KindDestroy:
		m.handleRemoteDestroy(msg)
	case messages.KindComponentUpdate:
		m.handleRemoteUpdate(msg)
	default:
		m.dispatchCustom(msg.Sender, msg)
	}
}

func (m *Manager) dispatchCustom(sender uint32, msg *messages.Message) {
	handler, ok := m.handlers[msg.Kind]
	if !ok {
		m.discard("Discarding %s: no handler registered", msg.Kind)
		return
	}
	handler(sender, msg)
}

// discard logs and counts a frame that will not be applied. Bad input never
// errors out of the tick loop.
func (m *Manager) discard(format string, args ...interface{}) {
	m.framesDiscarded++
	log.Warn(format, args...)
}

func (m *Manager) handleConnectRequest(cs *ConnectionState, msg *messages.Message) {
	if cs.handshaken {
		m.discard("Discarding repeated connect request from peer %d", cs.ID)
		return
	}

	var req messages.ConnectRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		m.discard("Discarding malformed connect request from peer %d: %v", cs.ID, err)
		return
	}
	if req.Version != messages.ProtocolVersion {
		log.Warn("Refusing peer %d: protocol version %d, want %d", cs.ID, req.Version, messages.ProtocolVersion)
		delete(m.connections, cs.ID)
		cs.sched.Drop()
		m.refuse(cs.conn, messages.RefusalReasonBadVersion)
		return
	}

	cs.handshaken = true
	reply, err := messages.NewMessage(messages.KindConnectAccepted, 0, messages.PriorityInstant, "", &messages.ConnectAccepted{
		PeerID:      cs.ID,
		MaxPeers:    m.opts.MaxConnections,
		PeersOnline: len(m.liveConnections()),
	})
	if err != nil {
		log.Error("Failed to build connect accepted for peer %d: %v", cs.ID, err)
		return
	}
	if err := m.enqueue(cs, reply); err != nil {
		log.Error("Failed to queue connect accepted for peer %d: %v", cs.ID, err)
		return
	}

	log.Info("Peer %d connected from %s (proposed %s)", cs.ID, cs.RemoteAddr(), req.ProposedID)
	m.events.firePeerConnect(cs.ID)
}

func (m *Manager) handleConnectAccepted(msg *messages.Message) {
	var acc messages.ConnectAccepted
	if err := json.Unmarshal(msg.Payload, &acc); err != nil {
		m.discard("Discarding malformed connect accepted: %v", err)
		return
	}

	m.localPeerID = acc.PeerID
	m.server.handshaken = true
	m.server.lastSeen = m.clock
	m.server.lastPing = m.clock
	log.Info("Handshake complete, assigned peer id %d (%d/%d online)", acc.PeerID, acc.PeersOnline, acc.MaxPeers)
	m.events.fireConnectAccepted(acc.PeerID)

	// Late joiners converge in one round trip: ask for the world now.
	m.fullSyncActive = true
	req, err := messages.NewMessage(messages.KindFullSyncRequest, m.localPeerID, messages.PriorityInstant, "", &messages.FullSyncRequest{})
	if err != nil {
		log.Error("Failed to build full sync request: %v", err)
		return
	}
	if err := m.enqueue(m.server, req); err != nil {
		log.Error("Failed to queue full sync request: %v", err)
	}
}

func (m *Manager) handleConnectRefused(msg *messages.Message) {
	var ref messages.ConnectRefused
	if err := json.Unmarshal(msg.Payload, &ref); err != nil {
		ref.Reason = "unknown"
	}
	log.Warn("Connection refused by server: %s", ref.Reason)
	m.events.fireConnectRefused(ref.Reason)
	m.serverLost("refused: " + ref.Reason)
}

func (m *Manager) handleFullSyncRequest(cs *ConnectionState) {
	var live []*netActor
	for _, na := range m.registry.All() {
		if na.ownership != LocalOnly {
			live = append(live, na)
		}
	}

	manifest, err := messages.NewMessage(messages.KindFullSyncManifest, m.localPeerID, messages.PriorityInstant, "", &messages.FullSyncManifest{Count: len(live)})
	if err != nil {
		log.Error("Failed to build full sync manifest: %v", err)
		return
	}
	if err := m.enqueue(cs, manifest); err != nil {
		log.Error("Failed to queue full sync manifest for peer %d: %v", cs.ID, err)
		return
	}

	for _, na := range live {
		sp := m.buildSpawnPayload(na, false)
		msg, err := messages.NewMessage(messages.KindFullSyncData, m.localPeerID, messages.PriorityInstant, na.identity, sp)
		if err != nil {
			log.Error("Failed to build full sync data for %s: %v", na.identity, err)
			continue
		}
		if err := m.enqueue(cs, msg); err != nil {
			log.Error("Failed to queue full sync data for peer %d: %v", cs.ID, err)
		}
	}
	log.Debug("Full sync of %d actors queued for peer %d", len(live), cs.ID)
}

func (m *Manager) handleFullSyncManifest(msg *messages.Message) {
	var man messages.FullSyncManifest
	if err := json.Unmarshal(msg.Payload, &man); err != nil {
		m.discard("Discarding malformed full sync manifest: %v", err)
		return
	}
	m.fullSyncExpected = man.Count
	m.fullSyncRemaining = man.Count
	if man.Count == 0 && m.fullSyncActive {
		m.fullSyncActive = false
		m.events.fireFullSyncComplete(0)
	}
}

func (m *Manager) handleSpawnFromClient(cs *ConnectionState, msg *messages.Message) {
	var sp messages.Spawn
	if err := json.Unmarshal(msg.Payload, &sp); err != nil {
		m.discard("Discarding malformed spawn from peer %d: %v", cs.ID, err)
		return
	}
	if sp.Identity == "" {
		m.discard("Discarding spawn with empty identity from peer %d", cs.ID)
		return
	}

	actor, err := m.buildMirror(&sp)
	if err != nil {
		m.discard("Cannot mirror spawn %s from peer %d: %v", sp.Identity, cs.ID, err)
		return
	}
	na := &netActor{
		identity:  sp.Identity,
		actor:     actor,
		ownership: ClientOwned,
		owner:     cs.ID,
		tier:      tierFor(msg.Priority),
		lastSent:  make(map[string]map[string][]byte),
		claimTick: m.tick,
	}

	if existing, ok := m.registry.Resolve(sp.Identity); ok {
		// Simultaneous claims on one identity: the lowest connection id
		// wins, and the server's own spawns count as connection 0.
		if existing.claimTick == m.tick && existing.ownership == ClientOwned && cs.ID < existing.owner {
			log.Warn("Spawn race on %s: peer %d displaces peer %d", sp.Identity, cs.ID, existing.owner)
			m.registry.replace(na)
		} else {
			m.discard("Discarding spawn for claimed identity %s from peer %d", sp.Identity, cs.ID)
			return
		}
	} else if err := m.registry.Register(na); err != nil {
		m.discard("Cannot register spawn from peer %d: %v", cs.ID, err)
		return
	}

	_ = m.broadcastMessage(msg, cs.ID, true)
	m.events.fireRemoteSpawn(sp.Identity, actor)
}

func (m *Manager) handleDestroyFromClient(cs *ConnectionState, msg *messages.Message) {
	var d messages.Destroy
	if err := json.Unmarshal(msg.Payload, &d); err != nil {
		m.discard("Discarding malformed destroy from peer %d: %v", cs.ID, err)
		return
	}

	na, ok := m.registry.Resolve(d.Identity)
	if !ok {
		m.discard("Discarding destroy for unknown actor %s from peer %d", d.Identity, cs.ID)
		return
	}
	if na.ownership != ClientOwned || na.owner != cs.ID {
		m.violation(cs, d.Identity)
		return
	}

	m.registry.Unregister(d.Identity)
	_ = m.broadcastMessage(msg, cs.ID, true)
	m.events.fireRemoteDestroy(d.Identity)
}

func (m *Manager) handleUpdateFromClient(cs *ConnectionState, msg *messages.Message) {
	var upd messages.ComponentUpdate
	if err := json.Unmarshal(msg.Payload, &upd); err != nil {
		m.discard("Discarding malformed update from peer %d: %v", cs.ID, err)
		return
	}

	na, ok := m.registry.Resolve(upd.Identity)
	if !ok {
		m.discard("Discarding update for unknown actor %s from peer %d", upd.Identity, cs.ID)
		return
	}
	if na.ownership != ClientOwned || na.owner != cs.ID {
		m.violation(cs, upd.Identity)
		return
	}

	m.applyUpdate(na, &upd)
	_ = m.broadcastMessage(msg, cs.ID, true)
}

func (m *Manager) handleRemoteDestroy(msg *messages.Message) {
	var d messages.Destroy
	if err := json.Unmarshal(msg.Payload, &d); err != nil {
		m.discard("Discarding malformed destroy: %v", err)
		return
	}
	if _, ok := m.registry.Resolve(d.Identity); !ok {
		m.discard("Discarding destroy for unknown actor %s", d.Identity)
		return
	}
	m.registry.Unregister(d.Identity)
	m.events.fireRemoteDestroy(d.Identity)
}

func (m *Manager) handleRemoteUpdate(msg *messages.Message) {
	var upd messages.ComponentUpdate
	if err := json.Unmarshal(msg.Payload, &upd); err != nil {
		m.discard("Discarding malformed update: %v", err)
		return
	}

	na, ok := m.registry.Resolve(upd.Identity)
	if !ok {
		m.discard("Discarding update for unknown actor %s", upd.Identity)
		return
	}
	if m.ownsLocally(na) {
		m.discard("Discarding echoed update for locally owned actor %s", upd.Identity)
		return
	}
	m.applyUpdate(na, &upd)
}

// violation records a peer writing to an actor it does not own. Repeat
// offenders past the threshold are dropped.
func (m *Manager) violation(cs *ConnectionState, identity string) {
	m.framesDiscarded++
	cs.violations++
	log.Warn("Authority violation by peer %d on actor %s (%d total)", cs.ID, identity, cs.violations)
	m.events.fireAuthorityDenied(cs.ID, identity)
	if m.opts.ViolationThreshold > 0 && cs.violations >= m.opts.ViolationThreshold {
		m.dropConnection(cs, "authority violation threshold reached")
	}
}
