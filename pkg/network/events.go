package network

import "github.com/pylonengine/netsync/pkg/actors"

// Events holds the observer lists the manager notifies from inside Update.
// Callbacks run synchronously on the tick thread, so they may freely mutate
// game state. Subsystem failures surface here and in the log; they never
// panic the tick loop.
type Events struct {
	peerConnect      []func(peer uint32)
	peerDisconnect   []func(peer uint32)
	connectAccepted  []func(peerID uint32)
	connectRefused   []func(reason string)
	remoteSpawn      []func(identity string, actor *actors.Actor)
	remoteDestroy    []func(identity string)
	authorityDenied  []func(peer uint32, identity string)
	fullSyncComplete []func(count int)
}

func newEvents() *Events {
	return &Events{}
}

// OnPeerConnect fires on the server when a client completes the handshake.
func (e *Events) OnPeerConnect(fn func(peer uint32)) {
	e.peerConnect = append(e.peerConnect, fn)
}

// OnPeerDisconnect fires when a peer connection ends for any reason.
func (e *Events) OnPeerDisconnect(fn func(peer uint32)) {
	e.peerDisconnect = append(e.peerDisconnect, fn)
}

// OnConnectAccepted fires on a client when the server accepts its handshake.
func (e *Events) OnConnectAccepted(fn func(peerID uint32)) {
	e.connectAccepted = append(e.connectAccepted, fn)
}

// OnConnectRefused fires on a client when the server refuses its handshake.
func (e *Events) OnConnectRefused(fn func(reason string)) {
	e.connectRefused = append(e.connectRefused, fn)
}

// OnRemoteSpawn fires when a mirror of a remotely owned actor is created.
func (e *Events) OnRemoteSpawn(fn func(identity string, actor *actors.Actor)) {
	e.remoteSpawn = append(e.remoteSpawn, fn)
}

// OnRemoteDestroy fires when a remotely owned actor is destroyed.
func (e *Events) OnRemoteDestroy(fn func(identity string)) {
	e.remoteDestroy = append(e.remoteDestroy, fn)
}

// OnAuthorityDenied fires when a peer's update or destroy is discarded
// because it does not own the addressed actor.
func (e *Events) OnAuthorityDenied(fn func(peer uint32, identity string)) {
	e.authorityDenied = append(e.authorityDenied, fn)
}

// OnFullSyncComplete fires on a client once every actor announced by the
// full-sync manifest has been applied.
func (e *Events) OnFullSyncComplete(fn func(count int)) {
	e.fullSyncComplete = append(e.fullSyncComplete, fn)
}

func (e *Events) firePeerConnect(peer uint32) {
	for _, fn := range e.peerConnect {
		fn(peer)
	}
}

func (e *Events) firePeerDisconnect(peer uint32) {
	for _, fn := range e.peerDisconnect {
		fn(peer)
	}
}

func (e *Events) fireConnectAccepted(peerID uint32) {
	for _, fn := range e.connectAccepted {
		fn(peerID)
	}
}

func (e *Events) fireConnectRefused(reason string) {
	for _, fn := range e.connectRefused {
		fn(reason)
	}
}

func (e *Events) fireRemoteSpawn(identity string, actor *actors.Actor) {
	for _, fn := range e.remoteSpawn {
		fn(identity, actor)
	}
}

func (e *Events) fireRemoteDestroy(identity string) {
	for _, fn := range e.remoteDestroy {
		fn(identity)
	}
}

func (e *Events) fireAuthorityDenied(peer uint32, identity string) {
	for _, fn := range e.authorityDenied {
		fn(peer, identity)
	}
}

func (e *Events) fireFullSyncComplete(count int) {
	for _, fn := range e.fullSyncComplete {
		fn(count)
	}
}
