package network

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/pylonengine/netsync/pkg/actors"
	"github.com/pylonengine/netsync/pkg/codec"
	"github.com/pylonengine/netsync/pkg/log"
	"github.com/pylonengine/netsync/pkg/messages"
	"github.com/pylonengine/netsync/pkg/scheduler"
)

// tierFor maps a message priority onto its scheduler tier. The two enums
// share values by construction.
func tierFor(p messages.Priority) scheduler.Tier {
	return scheduler.Tier(p)
}

func priorityFor(t scheduler.Tier) messages.Priority {
	return messages.Priority(t)
}

// SpawnOptions configures SpawnNetworked.
type SpawnOptions struct {
	// Identity pins the network identity; a fresh one is generated when
	// empty.
	Identity string
	// Policy filters which attributes travel. Nil shares everything.
	Policy *SyncPolicy
	// Priority is the tier of this actor's ongoing state updates. Note the
	// zero value is PriorityInstant; use DefaultSpawnOptions for the usual
	// medium tier.
	Priority messages.Priority
	// Local registers the actor with an identity but never produces
	// traffic for it.
	Local bool
}

// DefaultSpawnOptions returns options that sync on the medium tier with
// everything shared.
func DefaultSpawnOptions() SpawnOptions {
	return SpawnOptions{Priority: messages.PriorityMedium}
}

// SpawnNetworked registers an actor for synchronization, owned by the local
// peer, and announces it to connected peers. It returns the actor's network
// identity.
func (m *Manager) SpawnNetworked(actor *actors.Actor, opts SpawnOptions) (string, error) {
	if m.mode == modeIdle {
		return "", fmt.Errorf("manager is not hosting or connected")
	}
	if m.mode == modeClient && !opts.Local && (m.server == nil || !m.server.handshaken) {
		return "", fmt.Errorf("handshake is not complete")
	}

	identity := opts.Identity
	if identity == "" {
		identity = uuid.NewString()
	}

	na := &netActor{
		identity:  identity,
		actor:     actor,
		policy:    opts.Policy,
		tier:      tierFor(opts.Priority),
		lastSent:  make(map[string]map[string][]byte),
		claimTick: m.tick,
	}
	switch {
	case opts.Local:
		na.ownership = LocalOnly
	case m.mode == modeServer:
		na.ownership = ServerOwned
		na.owner = 0
	default:
		na.ownership = ClientOwned
		na.owner = m.localPeerID
	}

	if err := m.registry.Register(na); err != nil {
		return "", err
	}
	if opts.Local {
		return identity, nil
	}

	// Announce with the full permitted attribute set, and make it the
	// dirty-detection baseline.
	sp := m.buildSpawnPayload(na, true)
	msg, err := messages.NewMessage(messages.KindSpawn, m.localPeerID, messages.PriorityInstant, identity, sp)
	if err != nil {
		m.registry.Unregister(identity)
		return "", err
	}
	if err := m.broadcastMessage(msg, 0, false); err != nil {
		m.registry.Unregister(identity)
		return "", err
	}
	return identity, nil
}

// DestroyNetworked removes a locally owned actor everywhere.
func (m *Manager) DestroyNetworked(identity string) error {
	na, ok := m.registry.Resolve(identity)
	if !ok {
		return fmt.Errorf("unknown actor %s", identity)
	}
	if na.ownership != LocalOnly && !m.ownsLocally(na) {
		return &ErrNotOwner{Identity: identity}
	}

	m.registry.Unregister(identity)
	if na.ownership == LocalOnly {
		return nil
	}

	msg, err := messages.NewMessage(messages.KindDestroy, m.localPeerID, messages.PriorityInstant, identity, &messages.Destroy{Identity: identity})
	if err != nil {
		return err
	}
	return m.broadcastMessage(msg, 0, false)
}

// ForceSync marks every permitted attribute of a locally owned actor for
// retransmission on the next Update, dirty or not.
func (m *Manager) ForceSync(identity string) error {
	na, ok := m.registry.Resolve(identity)
	if !ok {
		return fmt.Errorf("unknown actor %s", identity)
	}
	if !m.ownsLocally(na) {
		return &ErrNotOwner{Identity: identity}
	}
	na.forceSync = true
	return nil
}

// IsOwner reports whether the local peer may mutate the actor.
func (m *Manager) IsOwner(identity string) bool {
	na, ok := m.registry.Resolve(identity)
	if !ok {
		return false
	}
	return na.ownership == LocalOnly || m.ownsLocally(na)
}

// Resolve returns the live actor registered under an identity.
func (m *Manager) Resolve(identity string) (*actors.Actor, bool) {
	na, ok := m.registry.Resolve(identity)
	if !ok {
		return nil, false
	}
	return na.actor, true
}

// IdentityOf returns the network identity an actor is registered under.
func (m *Manager) IdentityOf(actor *actors.Actor) (string, bool) {
	return m.registry.IdentityOf(actor)
}

func (m *Manager) ownsLocally(na *netActor) bool {
	switch m.mode {
	case modeServer:
		return na.ownership == ServerOwned
	case modeClient:
		return na.ownership == ClientOwned && na.owner == m.localPeerID
	default:
		return false
	}
}

// replicateOwned runs the per-tick dirty pass over locally owned actors and
// queues one update per actor that changed since its last transmission.
func (m *Manager) replicateOwned() {
	conns := m.liveConnections()
	if len(conns) == 0 {
		return
	}

	for _, na := range m.registry.All() {
		if na.ownership == LocalOnly || !m.ownsLocally(na) {
			continue
		}
		upd := m.collectDirty(na)
		if upd == nil {
			continue
		}
		msg, err := messages.NewMessage(messages.KindComponentUpdate, m.localPeerID, priorityFor(na.tier), na.identity, upd)
		if err != nil {
			log.Error("Failed to build update for %s: %v", na.identity, err)
			continue
		}
		if err := m.broadcastMessage(msg, 0, false); err != nil {
			log.Warn("Failed to queue update for %s: %v", na.identity, err)
		}
	}
}

// collectDirty compares each permitted attribute's encoded bytes against
// the last transmitted baseline and returns the delta, advancing the
// baseline. Returns nil when nothing changed.
func (m *Manager) collectDirty(na *netActor) *messages.ComponentUpdate {
	var components map[string]messages.ComponentAttrs

	for _, c := range na.actor.Components() {
		for _, attr := range c.SyncAttrs() {
			if !na.policy.Allows(c.Type(), attr) {
				continue
			}
			v, err := c.GetAttr(attr)
			if err != nil {
				log.Warn("Skipping unreadable attribute %s.%s on %s: %v", c.Type(), attr, na.identity, err)
				continue
			}
			encoded, err := codec.Encode(v)
			if err != nil {
				// One bad attribute never blocks the rest of the actor.
				log.Warn("Skipping unencodable attribute %s.%s on %s: %v", c.Type(), attr, na.identity, err)
				continue
			}
			if !na.forceSync {
				if prev, ok := na.sentBytes(c.Type(), attr); ok && bytes.Equal(prev, encoded) {
					continue
				}
			}
			if components == nil {
				components = make(map[string]messages.ComponentAttrs)
			}
			attrs, ok := components[c.Type()]
			if !ok {
				attrs = make(messages.ComponentAttrs)
				components[c.Type()] = attrs
			}
			attrs[attr] = encoded
			na.markSent(c.Type(), attr, encoded)
		}
	}
	na.forceSync = false

	if components == nil {
		return nil
	}
	return &messages.ComponentUpdate{Identity: na.identity, Components: components}
}

// buildSpawnPayload captures the full permitted attribute set of an actor.
// With record set the captured bytes also become the dirty baseline.
func (m *Manager) buildSpawnPayload(na *netActor, record bool) *messages.Spawn {
	sp := &messages.Spawn{
		Identity:  na.identity,
		Name:      na.actor.Name,
		Ownership: na.ownership.String(),
		Owner:     na.owner,
	}
	for _, c := range na.actor.Components() {
		attrs := make(messages.ComponentAttrs)
		for _, attr := range c.SyncAttrs() {
			if !na.policy.Allows(c.Type(), attr) {
				continue
			}
			v, err := c.GetAttr(attr)
			if err != nil {
				log.Warn("Skipping unreadable attribute %s.%s on %s: %v", c.Type(), attr, na.identity, err)
				continue
			}
			encoded, err := codec.Encode(v)
			if err != nil {
				log.Warn("Skipping unencodable attribute %s.%s on %s: %v", c.Type(), attr, na.identity, err)
				continue
			}
			attrs[attr] = encoded
			if record {
				na.markSent(c.Type(), attr, encoded)
			}
		}
		sp.Components = append(sp.Components, messages.SpawnComponent{Type: c.Type(), Attrs: attrs})
	}
	return sp
}

// buildMirror instantiates a local replica of a remotely spawned actor via
// the component factory.
func (m *Manager) buildMirror(sp *messages.Spawn) (*actors.Actor, error) {
	actor, err := actors.NewActor(sp.Name)
	if err != nil {
		return nil, err
	}
	for _, comp := range sp.Components {
		c, err := m.factory.New(comp.Type)
		if err != nil {
			return nil, fmt.Errorf("cannot mirror component: %w", err)
		}
		applyAttrs(c, comp.Attrs, sp.Identity)
		if err := actor.AddComponent(c); err != nil {
			return nil, err
		}
	}
	return actor, nil
}

// applyRemoteSpawn handles spawn and full-sync-data on a client. Applying a
// spawn for an already mirrored identity refreshes its attributes, so full
// syncs are idempotent.
func (m *Manager) applyRemoteSpawn(msg *messages.Message, fromFullSync bool) {
	var sp messages.Spawn
	if err := unmarshalPayload(msg, &sp); err != nil {
		m.discard("Discarding malformed spawn: %v", err)
	} else if sp.Identity == "" {
		m.discard("Discarding spawn with empty identity")
	} else if existing, ok := m.registry.Resolve(sp.Identity); ok {
		m.applySpawnAttrs(existing, &sp)
	} else if actor, err := m.buildMirror(&sp); err != nil {
		m.discard("Cannot mirror spawn %s: %v", sp.Identity, err)
	} else {
		ownership, ok := parseOwnership(sp.Ownership)
		if !ok {
			ownership = ServerOwned
		}
		na := &netActor{
			identity:  sp.Identity,
			actor:     actor,
			ownership: ownership,
			owner:     sp.Owner,
			tier:      tierFor(msg.Priority),
			lastSent:  make(map[string]map[string][]byte),
			claimTick: m.tick,
		}
		if err := m.registry.Register(na); err != nil {
			m.discard("Cannot register spawn %s: %v", sp.Identity, err)
		} else {
			m.events.fireRemoteSpawn(sp.Identity, actor)
		}
	}

	if fromFullSync && m.fullSyncActive {
		m.fullSyncRemaining--
		if m.fullSyncRemaining <= 0 {
			m.fullSyncActive = false
			m.events.fireFullSyncComplete(m.fullSyncExpected)
		}
	}
}

// announceAdoption re-broadcasts an adopted actor's spawn so remaining
// mirrors learn the new owner. The captured bytes re-baseline dirty
// detection, covering state the departed owner changed but never sent.
func (m *Manager) announceAdoption(na *netActor) {
	sp := m.buildSpawnPayload(na, true)
	msg, err := messages.NewMessage(messages.KindSpawn, m.localPeerID, messages.PriorityInstant, na.identity, sp)
	if err != nil {
		log.Error("Failed to build adoption announcement for %s: %v", na.identity, err)
		return
	}
	if err := m.broadcastMessage(msg, 0, false); err != nil {
		log.Warn("Failed to queue adoption announcement for %s: %v", na.identity, err)
	}
}

func (m *Manager) applySpawnAttrs(na *netActor, sp *messages.Spawn) {
	if ownership, ok := parseOwnership(sp.Ownership); ok && (ownership != na.ownership || sp.Owner != na.owner) {
		log.Info("Actor %s ownership is now %s (peer %d)", na.identity, sp.Ownership, sp.Owner)
		na.ownership = ownership
		na.owner = sp.Owner
	}
	for _, comp := range sp.Components {
		c, ok := na.actor.Component(comp.Type)
		if !ok {
			log.Warn("Mirror %s has no %s component, skipping", na.identity, comp.Type)
			continue
		}
		applyAttrs(c, comp.Attrs, na.identity)
	}
}

func (m *Manager) applyUpdate(na *netActor, upd *messages.ComponentUpdate) {
	for typeName, attrs := range upd.Components {
		c, ok := na.actor.Component(typeName)
		if !ok {
			log.Warn("Actor %s has no %s component, skipping update", na.identity, typeName)
			continue
		}
		applyAttrs(c, attrs, na.identity)
	}
}

func applyAttrs(c actors.Component, attrs messages.ComponentAttrs, identity string) {
	for name, raw := range attrs {
		v, err := codec.Decode(raw)
		if err != nil {
			log.Warn("Skipping undecodable attribute %s.%s on %s: %v", c.Type(), name, identity, err)
			continue
		}
		if err := c.SetAttr(name, v); err != nil {
			log.Warn("Skipping rejected attribute %s.%s on %s: %v", c.Type(), name, identity, err)
		}
	}
}

func unmarshalPayload(msg *messages.Message, v interface{}) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", msg.Kind)
	}
	return json.Unmarshal(msg.Payload, v)
}
