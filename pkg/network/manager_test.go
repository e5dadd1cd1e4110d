package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pylonengine/netsync/pkg/actors"
	"github.com/pylonengine/netsync/pkg/codec"
	"github.com/pylonengine/netsync/pkg/messages"
	"github.com/pylonengine/netsync/pkg/transport"
)

// pumpUntil ticks every manager until cond holds. Transport goroutines only
// enqueue, so ticking in a loop keeps the test deterministic.
func pumpUntil(t *testing.T, cond func() bool, ms ...*Manager) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, m := range ms {
			m.Update(0.05)
		}
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestPair(t *testing.T, serverOpts, clientOpts NewManagerOptions) (*Manager, *Manager) {
	t.Helper()
	tr := transport.NewMemoryTransport()
	serverOpts.Transport = tr
	clientOpts.Transport = tr

	server := NewManager(serverOpts)
	require.NoError(t, server.Host("game"))
	t.Cleanup(func() { _ = server.Disconnect() })

	client := NewManager(clientOpts)
	require.NoError(t, client.Connect("game", time.Second))
	t.Cleanup(func() { _ = client.Disconnect() })

	return server, client
}

func connect(t *testing.T, server, client *Manager) {
	t.Helper()
	accepted := false
	client.Events().OnConnectAccepted(func(uint32) { accepted = true })
	synced := false
	client.Events().OnFullSyncComplete(func(int) { synced = true })
	pumpUntil(t, func() bool { return accepted && synced }, server, client)
}

func TestHandshakeAssignsPeerID(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{}, NewManagerOptions{})

	var joined []uint32
	server.Events().OnPeerConnect(func(peer uint32) { joined = append(joined, peer) })
	var assigned uint32
	client.Events().OnConnectAccepted(func(peerID uint32) { assigned = peerID })

	pumpUntil(t, func() bool { return len(joined) == 1 && assigned != 0 }, server, client)

	assert.Equal(t, []uint32{1}, joined)
	assert.Equal(t, uint32(1), assigned)
	assert.Equal(t, uint32(1), client.LocalPeerID())
	assert.Equal(t, []uint32{1}, server.Peers())
	assert.Equal(t, []uint32{0}, client.Peers())
}

func TestServerAtCapacityRefuses(t *testing.T) {
	server, first := newTestPair(t, NewManagerOptions{MaxConnections: 1}, NewManagerOptions{})
	connect(t, server, first)

	tr := server.opts.Transport
	second := NewManager(NewManagerOptions{Transport: tr})
	require.NoError(t, second.Connect("game", time.Second))

	var reason string
	second.Events().OnConnectRefused(func(r string) { reason = r })
	pumpUntil(t, func() bool { return reason != "" }, server, first, second)

	assert.Equal(t, messages.RefusalReasonFull, reason)
	assert.Equal(t, []uint32{1}, server.Peers())
}

func TestBadProtocolVersionRefused(t *testing.T) {
	tr := transport.NewMemoryTransport()
	server := NewManager(NewManagerOptions{Transport: tr})
	require.NoError(t, server.Host("game"))
	defer server.Disconnect()

	conn, err := tr.Dial("game", time.Second)
	require.NoError(t, err)
	defer conn.Close()

	msg, err := messages.NewMessage(messages.KindConnectRequest, 0, messages.PriorityInstant, "", &messages.ConnectRequest{Version: 99})
	require.NoError(t, err)
	b, err := messages.SerializeMessage(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteFrame(b))

	got := make(chan *messages.Message, 1)
	go func() {
		b, err := conn.ReadFrame()
		if err != nil {
			close(got)
			return
		}
		reply, err := messages.DeserializeMessage(b)
		if err != nil {
			close(got)
			return
		}
		got <- reply
	}()

	var reply *messages.Message
	pumpUntil(t, func() bool {
		select {
		case reply = <-got:
			return true
		default:
			return false
		}
	}, server)

	require.NotNil(t, reply)
	assert.Equal(t, messages.KindConnectRefused, reply.Kind)
}

func TestServerActorConvergesOnClient(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{}, NewManagerOptions{})

	crate, err := actors.NewActor("crate", actors.NewTransform())
	require.NoError(t, err)
	identity, err := server.SpawnNetworked(crate, DefaultSpawnOptions())
	require.NoError(t, err)

	connect(t, server, client)

	mirror, ok := client.Resolve(identity)
	require.True(t, ok)
	assert.Equal(t, "crate", mirror.Name)
	assert.False(t, client.IsOwner(identity))
	assert.True(t, server.IsOwner(identity))

	// Move the crate on the server; the mirror follows.
	transform, _ := crate.Component(actors.TypeTransform)
	require.NoError(t, transform.SetAttr("position", codec.Vec2{X: 50, Y: 10}))

	mirrorTransform, _ := mirror.Component(actors.TypeTransform)
	pumpUntil(t, func() bool {
		v, err := mirrorTransform.GetAttr("position")
		return err == nil && v == codec.Vec2{X: 50, Y: 10}
	}, server, client)

	// Steady state stays quiet: an unchanged actor queues nothing.
	sent := server.Status().MessagesSent
	for i := 0; i < 20; i++ {
		server.Update(0.05)
		client.Update(0.05)
	}
	delta := server.Status().MessagesSent - sent
	assert.LessOrEqual(t, delta, uint64(2), "only heartbeats should flow when nothing is dirty")
}

func TestSyncPolicyExcludesAttribute(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{}, NewManagerOptions{})

	body := actors.NewPhysicsBody()
	npc, err := actors.NewActor("npc", actors.NewTransform(), body)
	require.NoError(t, err)

	opts := DefaultSpawnOptions()
	opts.Policy = NewBlacklist().Exclude(actors.TypePhysicsBody, "acceleration")
	identity, err := server.SpawnNetworked(npc, opts)
	require.NoError(t, err)

	connect(t, server, client)
	mirror, ok := client.Resolve(identity)
	require.True(t, ok)
	mirrorBody, _ := mirror.Component(actors.TypePhysicsBody)

	require.NoError(t, body.SetAttr("velocity", codec.Vec2{X: -3, Y: 0}))
	require.NoError(t, body.SetAttr("acceleration", codec.Vec2{X: 9, Y: 9}))

	pumpUntil(t, func() bool {
		v, err := mirrorBody.GetAttr("velocity")
		return err == nil && v == codec.Vec2{X: -3, Y: 0}
	}, server, client)

	// The excluded attribute never traveled.
	a, err := mirrorBody.GetAttr("acceleration")
	require.NoError(t, err)
	assert.Equal(t, codec.Vec2{}, a)
}

func TestWhitelistSharesOnlyListed(t *testing.T) {
	p := NewWhitelist().Include(actors.TypeTransform, "position")
	assert.True(t, p.Allows(actors.TypeTransform, "position"))
	assert.False(t, p.Allows(actors.TypeTransform, "rotation"))
	assert.False(t, p.Allows(actors.TypeHealth, "current"))

	b := NewBlacklist().Exclude(actors.TypeHealth)
	assert.False(t, b.Allows(actors.TypeHealth, "current"))
	assert.True(t, b.Allows(actors.TypeTransform, "position"))

	var zero *SyncPolicy
	assert.True(t, zero.Allows(actors.TypeTransform, "position"))
}

func TestClientSpawnMirroredAndRelayed(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{}, NewManagerOptions{})
	connect(t, server, client)

	var serverSaw string
	server.Events().OnRemoteSpawn(func(identity string, _ *actors.Actor) { serverSaw = identity })

	avatar, err := actors.NewActor("avatar", actors.NewTransform())
	require.NoError(t, err)
	identity, err := client.SpawnNetworked(avatar, DefaultSpawnOptions())
	require.NoError(t, err)

	pumpUntil(t, func() bool { return serverSaw == identity }, server, client)
	assert.True(t, client.IsOwner(identity))
	assert.False(t, server.IsOwner(identity))

	// A second client receives the relayed spawn.
	other := NewManager(NewManagerOptions{Transport: server.opts.Transport})
	require.NoError(t, other.Connect("game", time.Second))
	defer other.Disconnect()
	connect(t, server, other)

	_, ok := other.Resolve(identity)
	assert.True(t, ok)

	// Client movement reaches the other client through the server.
	transform, _ := avatar.Component(actors.TypeTransform)
	require.NoError(t, transform.SetAttr("position", codec.Vec2{X: 7, Y: 7}))

	otherMirror, _ := other.Resolve(identity)
	otherTransform, _ := otherMirror.Component(actors.TypeTransform)
	pumpUntil(t, func() bool {
		v, err := otherTransform.GetAttr("position")
		return err == nil && v == codec.Vec2{X: 7, Y: 7}
	}, server, client, other)
}

func TestFullSyncLateJoiner(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{}, NewManagerOptions{})

	var identities []string
	for i := 0; i < 5; i++ {
		a, err := actors.NewActor("prop", actors.NewTransform(), actors.NewSprite())
		require.NoError(t, err)
		id, err := server.SpawnNetworked(a, DefaultSpawnOptions())
		require.NoError(t, err)
		identities = append(identities, id)
	}

	var syncedCount int
	client.Events().OnFullSyncComplete(func(count int) { syncedCount = count })
	pumpUntil(t, func() bool { return syncedCount == 5 }, server, client)

	for _, id := range identities {
		_, ok := client.Resolve(id)
		assert.True(t, ok, "actor %s missing after full sync", id)
	}
	assert.Equal(t, 5, client.Status().Actors)
}

func TestLocalOnlyActorProducesNoTraffic(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{}, NewManagerOptions{})

	secret, err := actors.NewActor("secret", actors.NewTransform())
	require.NoError(t, err)
	opts := DefaultSpawnOptions()
	opts.Local = true
	identity, err := server.SpawnNetworked(secret, opts)
	require.NoError(t, err)
	assert.True(t, server.IsOwner(identity))

	var syncedCount = -1
	client.Events().OnFullSyncComplete(func(count int) { syncedCount = count })
	pumpUntil(t, func() bool { return syncedCount >= 0 }, server, client)

	assert.Equal(t, 0, syncedCount)
	_, ok := client.Resolve(identity)
	assert.False(t, ok)
}

func TestAuthorityViolationDiscardedAndCounted(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{ViolationThreshold: -1}, NewManagerOptions{})

	crate, err := actors.NewActor("crate", actors.NewTransform())
	require.NoError(t, err)
	identity, err := server.SpawnNetworked(crate, DefaultSpawnOptions())
	require.NoError(t, err)

	connect(t, server, client)

	// Destroying someone else's actor fails locally.
	err = client.DestroyNetworked(identity)
	var notOwner *ErrNotOwner
	require.ErrorAs(t, err, &notOwner)

	// A forged update over the wire is discarded and surfaced.
	var deniedPeer uint32
	var deniedIdentity string
	server.Events().OnAuthorityDenied(func(peer uint32, id string) {
		deniedPeer = peer
		deniedIdentity = id
	})
	require.NoError(t, client.Broadcast(messages.KindComponentUpdate, messages.PriorityInstant, &messages.ComponentUpdate{
		Identity: identity,
		Components: map[string]messages.ComponentAttrs{
			actors.TypeTransform: {},
		},
	}))

	pumpUntil(t, func() bool { return deniedIdentity == identity }, server, client)
	assert.Equal(t, uint32(1), deniedPeer)
	_, ok := server.Resolve(identity)
	assert.True(t, ok, "violating update must not remove or change the actor")
}

func TestViolationThresholdDropsPeer(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{ViolationThreshold: 2}, NewManagerOptions{})

	crate, err := actors.NewActor("crate", actors.NewTransform())
	require.NoError(t, err)
	identity, err := server.SpawnNetworked(crate, DefaultSpawnOptions())
	require.NoError(t, err)

	connect(t, server, client)

	var dropped []uint32
	server.Events().OnPeerDisconnect(func(peer uint32) { dropped = append(dropped, peer) })

	forged := &messages.ComponentUpdate{Identity: identity, Components: map[string]messages.ComponentAttrs{}}
	require.NoError(t, client.Broadcast(messages.KindComponentUpdate, messages.PriorityInstant, forged))
	require.NoError(t, client.Broadcast(messages.KindComponentUpdate, messages.PriorityInstant, forged))

	pumpUntil(t, func() bool { return len(dropped) == 1 }, server, client)
	assert.Equal(t, []uint32{1}, dropped)
	assert.Empty(t, server.Peers())
}

func TestOrphanPolicyDestroy(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{OrphanPolicy: OrphanDestroy}, NewManagerOptions{})
	connect(t, server, client)

	avatar, err := actors.NewActor("avatar", actors.NewTransform())
	require.NoError(t, err)
	identity, err := client.SpawnNetworked(avatar, DefaultSpawnOptions())
	require.NoError(t, err)

	pumpUntil(t, func() bool {
		_, ok := server.Resolve(identity)
		return ok
	}, server, client)

	var destroyed string
	server.Events().OnRemoteDestroy(func(id string) { destroyed = id })
	require.NoError(t, client.Disconnect())

	pumpUntil(t, func() bool { return destroyed == identity }, server)
	_, ok := server.Resolve(identity)
	assert.False(t, ok)
}

func TestOrphanPolicyAdopt(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{OrphanPolicy: OrphanAdopt}, NewManagerOptions{})
	connect(t, server, client)

	observer := NewManager(NewManagerOptions{Transport: server.opts.Transport})
	require.NoError(t, observer.Connect("game", time.Second))
	t.Cleanup(func() { _ = observer.Disconnect() })
	connect(t, server, observer)

	avatar, err := actors.NewActor("avatar", actors.NewTransform())
	require.NoError(t, err)
	identity, err := client.SpawnNetworked(avatar, DefaultSpawnOptions())
	require.NoError(t, err)

	pumpUntil(t, func() bool {
		_, onServer := server.Resolve(identity)
		_, onObserver := observer.Resolve(identity)
		return onServer && onObserver
	}, server, client, observer)

	var left []uint32
	server.Events().OnPeerDisconnect(func(peer uint32) { left = append(left, peer) })
	require.NoError(t, client.Disconnect())

	pumpUntil(t, func() bool {
		if len(left) != 1 {
			return false
		}
		na, ok := observer.registry.Resolve(identity)
		return ok && na.ownership == ServerOwned && na.owner == 0
	}, server, observer)

	_, ok := server.Resolve(identity)
	require.True(t, ok)
	assert.True(t, server.IsOwner(identity), "adopted actor belongs to the server")
}

func TestSilentDialerTimesOut(t *testing.T) {
	tr := transport.NewMemoryTransport()
	server := NewManager(NewManagerOptions{Transport: tr, MaxConnections: 1, HeartbeatTimeout: 1})
	require.NoError(t, server.Host("game"))
	t.Cleanup(func() { _ = server.Disconnect() })

	// Dial without ever sending a connect request.
	silent, err := tr.Dial("game", time.Second)
	require.NoError(t, err)
	defer silent.Close()

	pumpUntil(t, func() bool { return len(server.connections) == 1 }, server)
	pumpUntil(t, func() bool { return len(server.connections) == 0 }, server)

	// The reclaimed slot admits a real client.
	client := NewManager(NewManagerOptions{Transport: tr})
	require.NoError(t, client.Connect("game", time.Second))
	t.Cleanup(func() { _ = client.Disconnect() })
	connect(t, server, client)
}

func TestHeartbeatTimeoutDropsSilentPeer(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{HeartbeatTimeout: 1}, NewManagerOptions{})
	connect(t, server, client)

	var dropped []uint32
	server.Events().OnPeerDisconnect(func(peer uint32) { dropped = append(dropped, peer) })

	// The client freezes: its goroutines live, but Update never runs, so
	// no heartbeats go out.
	pumpUntil(t, func() bool { return len(dropped) == 1 }, server)
	assert.Equal(t, []uint32{1}, dropped)
	assert.Empty(t, server.Peers())
}

func TestForceSyncRetransmitsCleanState(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{}, NewManagerOptions{})

	crate, err := actors.NewActor("crate", actors.NewTransform())
	require.NoError(t, err)
	identity, err := server.SpawnNetworked(crate, DefaultSpawnOptions())
	require.NoError(t, err)

	connect(t, server, client)
	mirror, _ := client.Resolve(identity)
	mirrorTransform, _ := mirror.Component(actors.TypeTransform)

	// Simulate mirror drift, then force the authoritative state back out.
	require.NoError(t, mirrorTransform.SetAttr("position", codec.Vec2{X: 99, Y: 99}))
	require.NoError(t, server.ForceSync(identity))

	pumpUntil(t, func() bool {
		v, err := mirrorTransform.GetAttr("position")
		return err == nil && v == codec.Vec2{}
	}, server, client)
}

func TestCustomMessageKinds(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{}, NewManagerOptions{})
	connect(t, server, client)

	type chat struct {
		Text string `json:"text"`
	}

	var fromPeer uint32
	var got string
	require.NoError(t, server.RegisterHandler("chat", func(sender uint32, msg *messages.Message) {
		fromPeer = sender
		var c chat
		if err := unmarshalPayload(msg, &c); err == nil {
			got = c.Text
		}
	}))

	require.NoError(t, client.Broadcast("chat", messages.PriorityInstant, &chat{Text: "hello"}))
	pumpUntil(t, func() bool { return got == "hello" }, server, client)
	assert.Equal(t, uint32(1), fromPeer)

	// Server replies to just that peer.
	var reply string
	require.NoError(t, client.RegisterHandler("chat", func(_ uint32, msg *messages.Message) {
		var c chat
		if err := unmarshalPayload(msg, &c); err == nil {
			reply = c.Text
		}
	}))
	require.NoError(t, server.SendTo(1, "chat", messages.PriorityInstant, &chat{Text: "welcome"}))
	pumpUntil(t, func() bool { return reply == "welcome" }, server, client)
}

func TestRegisterHandlerRejectsProtocolKinds(t *testing.T) {
	m := NewManager(NewManagerOptions{Transport: transport.NewMemoryTransport()})
	assert.Error(t, m.RegisterHandler(messages.KindSpawn, func(uint32, *messages.Message) {}))
	assert.Error(t, m.RegisterHandler("", func(uint32, *messages.Message) {}))
	require.NoError(t, m.RegisterHandler("chat", func(uint32, *messages.Message) {}))
	assert.Error(t, m.RegisterHandler("chat", func(uint32, *messages.Message) {}))
}

func TestOperationsRequireLiveManager(t *testing.T) {
	m := NewManager(NewManagerOptions{Transport: transport.NewMemoryTransport()})

	a, err := actors.NewActor("crate", actors.NewTransform())
	require.NoError(t, err)

	_, err = m.SpawnNetworked(a, DefaultSpawnOptions())
	assert.Error(t, err)
	assert.Error(t, m.Broadcast("chat", messages.PriorityInstant, nil))
	assert.Error(t, m.SendTo(1, "chat", messages.PriorityInstant, nil))
	assert.Error(t, m.Disconnect())
}

func TestSpawnRaceLowestConnectionWins(t *testing.T) {
	tr := transport.NewMemoryTransport()
	m := NewManager(NewManagerOptions{Transport: tr})
	require.NoError(t, m.Host("game"))
	defer m.Disconnect()

	dial := func() transport.Conn {
		c, err := tr.Dial("game", time.Second)
		require.NoError(t, err)
		return c
	}
	c2, c3 := dial(), dial()
	defer c2.Close()
	defer c3.Close()

	// Stage two handshaken connections directly; the race is between
	// claims arriving inside one dispatch window.
	cs2 := newConnectionState(2, c2, m.opts.Rates, 0)
	cs3 := newConnectionState(3, c3, m.opts.Rates, 0)
	cs2.handshaken = true
	cs3.handshaken = true
	m.connections[2] = cs2
	m.connections[3] = cs3

	claim := func(owner uint32) *messages.Message {
		msg, err := messages.NewMessage(messages.KindSpawn, owner, messages.PriorityInstant, "contested", &messages.Spawn{
			Identity:   "contested",
			Name:       "flag",
			Ownership:  "client",
			Owner:      owner,
			Components: []messages.SpawnComponent{{Type: actors.TypeTransform, Attrs: messages.ComponentAttrs{}}},
		})
		require.NoError(t, err)
		return msg
	}

	m.handleSpawnFromClient(cs3, claim(3))
	m.handleSpawnFromClient(cs2, claim(2))

	na, ok := m.registry.Resolve("contested")
	require.True(t, ok)
	assert.Equal(t, uint32(2), na.owner, "lowest connection id wins the race")

	// A later claim against a settled identity is simply discarded.
	m.tick++
	m.handleSpawnFromClient(cs3, claim(3))
	na, _ = m.registry.Resolve("contested")
	assert.Equal(t, uint32(2), na.owner)
}

func TestApplyingUpdateTwiceIsIdempotent(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{}, NewManagerOptions{})

	crate, err := actors.NewActor("crate", actors.NewTransform())
	require.NoError(t, err)
	identity, err := server.SpawnNetworked(crate, DefaultSpawnOptions())
	require.NoError(t, err)

	connect(t, server, client)

	na, ok := client.registry.Resolve(identity)
	require.True(t, ok)

	encoded, err := codec.Encode(codec.Vec2{X: 5, Y: 6})
	require.NoError(t, err)
	upd := &messages.ComponentUpdate{
		Identity: identity,
		Components: map[string]messages.ComponentAttrs{
			actors.TypeTransform: {"position": encoded},
		},
	}

	client.applyUpdate(na, upd)
	transform, _ := na.actor.Component(actors.TypeTransform)
	first, err := transform.GetAttr("position")
	require.NoError(t, err)

	client.applyUpdate(na, upd)
	second, err := transform.GetAttr("position")
	require.NoError(t, err)

	assert.Equal(t, codec.Vec2{X: 5, Y: 6}, first)
	assert.Equal(t, first, second)
}

func TestStatusSnapshotCounts(t *testing.T) {
	server, client := newTestPair(t, NewManagerOptions{}, NewManagerOptions{})
	connect(t, server, client)

	status := server.Status()
	assert.Equal(t, "server", status.Mode)
	assert.Equal(t, []uint32{1}, status.Peers)
	assert.NotZero(t, status.MessagesSent)
	assert.NotZero(t, status.MessagesReceived)
	assert.NotZero(t, status.BytesSent)
	assert.NotZero(t, status.UptimeSeconds)
}
