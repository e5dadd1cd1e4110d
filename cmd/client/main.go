package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pylonengine/netsync/pkg/actors"
	"github.com/pylonengine/netsync/pkg/codec"
	"github.com/pylonengine/netsync/pkg/log"
	"github.com/pylonengine/netsync/pkg/messages"
	"github.com/pylonengine/netsync/pkg/network"
	"github.com/pylonengine/netsync/pkg/transport"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9001", "Server address")
	logLevel := flag.String("log-level", "info", "Log level")
	useWebsocket := flag.Bool("websocket", false, "Connect over WebSocket instead of TCP")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)

	var tr transport.Transport = transport.NewTCPTransport()
	if *useWebsocket {
		tr = transport.NewWSTransport()
	}
	manager := network.NewManager(network.NewManagerOptions{Transport: tr})

	// The avatar is spawned once the handshake completes and steered every
	// tick after that.
	var avatar *actors.Actor
	var avatarID string

	manager.Events().OnConnectAccepted(func(peerID uint32) {
		log.Info("Connected as peer %d", peerID)
		a, err := actors.NewActor("avatar", actors.NewTransform(), actors.NewSprite())
		if err != nil {
			log.Error("Failed to build avatar: %v", err)
			return
		}
		opts := network.DefaultSpawnOptions()
		opts.Priority = messages.PriorityHigh
		id, err := manager.SpawnNetworked(a, opts)
		if err != nil {
			log.Error("Failed to spawn avatar: %v", err)
			return
		}
		avatar = a
		avatarID = id
		log.Info("Avatar spawned as %s", id)
	})
	manager.Events().OnConnectRefused(func(reason string) {
		log.Error("Connection refused: %s", reason)
	})
	manager.Events().OnFullSyncComplete(func(count int) {
		log.Info("World synchronized: %d actors", count)
	})
	manager.Events().OnRemoteSpawn(func(identity string, actor *actors.Actor) {
		log.Info("Remote spawn %s (%s)", actor.Name, identity)
	})
	manager.Events().OnRemoteDestroy(func(identity string) {
		log.Info("Remote destroy %s", identity)
	})
	manager.Events().OnPeerDisconnect(func(peer uint32) {
		log.Warn("Disconnected from server")
	})

	if err := manager.Connect(*addr, 5*time.Second); err != nil {
		panic(fmt.Sprintf("Failed to connect: %v", err))
	}
	defer manager.Disconnect()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()

	log.Info("Connecting to %s", *addr)
	last := time.Now()
	elapsed := 0.0
	for {
		select {
		case <-sig:
			log.Info("Shutting down")
			if avatarID != "" {
				_ = manager.DestroyNetworked(avatarID)
				manager.Update(0)
			}
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			elapsed += dt

			if avatar != nil {
				// Walk a slow circle so there is state to replicate.
				transform, _ := avatar.Component(actors.TypeTransform)
				_ = transform.SetAttr("position", codec.Vec2{
					X: 100 * math.Cos(elapsed/3),
					Y: 100 * math.Sin(elapsed/3),
				})
			}
			manager.Update(dt)
		}
	}
}
