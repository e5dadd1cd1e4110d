package messages

import (
	"encoding/json"

	"github.com/pylonengine/netsync/pkg/transport"
)

// ProtocolVersion is sent in the connect request and checked at handshake.
const ProtocolVersion = 1

// MaxFrameSize mirrors the transport frame limit so deserialization bounds
// decompressed payloads the same way framing bounds wire size.
const MaxFrameSize = transport.MaxFrameSize

// Message kinds
const (
	KindConnectRequest   = "connect-request"
	KindConnectAccepted  = "connect-accepted"
	KindConnectRefused   = "connect-refused"
	KindSpawn            = "spawn"
	KindDestroy          = "destroy"
	KindComponentUpdate  = "component-update"
	KindFullSyncRequest  = "full-sync-request"
	KindFullSyncManifest = "full-sync-manifest"
	KindFullSyncData     = "full-sync-data"
	KindHeartbeat        = "heartbeat"
)

// Priority is the outbound scheduling tier of a message.
type Priority byte

const (
	PriorityInstant Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityInstant:
		return "instant"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Message is the envelope for everything that crosses the wire.
// Sender is the peer id of the originator (0 means the server). Target is
// the network identity of the addressed actor, empty for messages that are
// not actor-addressed.
type Message struct {
	Kind     string          `json:"kind"`
	Sender   uint32          `json:"sender"`
	Priority Priority        `json:"priority"`
	Target   string          `json:"target,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Connect refusal reasons
const (
	RefusalReasonFull       = "full"
	RefusalReasonBadVersion = "bad-version"
)

// ConnectRequest is sent by a client immediately after dialing.
type ConnectRequest struct {
	Version    int    `json:"version"`
	ProposedID string `json:"proposedID"`
}

// ConnectAccepted confirms a handshake and assigns the peer its id.
type ConnectAccepted struct {
	PeerID      uint32 `json:"peerID"`
	MaxPeers    int    `json:"maxPeers"`
	PeersOnline int    `json:"peersOnline"`
}

// ConnectRefused rejects a handshake with an explicit reason.
type ConnectRefused struct {
	Reason string `json:"reason"`
}

// ComponentAttrs maps attribute names to codec-encoded values.
type ComponentAttrs map[string]json.RawMessage

// SpawnComponent describes one component of a spawned actor.
type SpawnComponent struct {
	Type  string         `json:"type"`
	Attrs ComponentAttrs `json:"attrs"`
}

// Spawn describes a networked actor to be mirrored on remote peers. It is
// also the payload of full-sync-data messages, where the attributes carry
// the complete permitted set.
type Spawn struct {
	Identity   string           `json:"identity"`
	Name       string           `json:"name"`
	Ownership  string           `json:"ownership"`
	Owner      uint32           `json:"owner"`
	Components []SpawnComponent `json:"components"`
}

// Destroy removes a networked actor on remote peers.
type Destroy struct {
	Identity string `json:"identity"`
}

// ComponentUpdate carries the dirty attribute deltas for one actor, keyed
// by component type.
type ComponentUpdate struct {
	Identity   string                    `json:"identity"`
	Components map[string]ComponentAttrs `json:"components"`
}

// FullSyncRequest asks the server for a snapshot of every live networked
// actor.
type FullSyncRequest struct{}

// FullSyncManifest announces how many full-sync-data messages follow.
type FullSyncManifest struct {
	Count int `json:"count"`
}

// Heartbeat is a periodic keepalive.
type Heartbeat struct {
	Timestamp int64 `json:"timestamp"`
}
