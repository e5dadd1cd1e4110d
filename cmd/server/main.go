package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pylonengine/netsync/pkg/actors"
	"github.com/pylonengine/netsync/pkg/api"
	"github.com/pylonengine/netsync/pkg/codec"
	"github.com/pylonengine/netsync/pkg/config"
	"github.com/pylonengine/netsync/pkg/log"
	"github.com/pylonengine/netsync/pkg/messages"
	"github.com/pylonengine/netsync/pkg/network"
	"github.com/pylonengine/netsync/pkg/repositories"
	"github.com/pylonengine/netsync/pkg/transport"
	"github.com/pylonengine/netsync/pkg/workers"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	addr := flag.String("addr", "", "Listen address, overrides config")
	logLevel := flag.String("log-level", "", "Log level, overrides config")
	useWebsocket := flag.Bool("websocket", false, "Serve WebSocket instead of TCP")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = *logLevel
	}

	parsedLogLevel, err := log.ParseLogLevel(cfg.Server.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tr transport.Transport = transport.NewTCPTransport()
	if *useWebsocket {
		tr = transport.NewWSTransport()
	}

	manager := network.NewManager(network.NewManagerOptions{
		Transport:         tr,
		MaxConnections:    cfg.Server.MaxConnections,
		Rates:             cfg.SchedulerRates(),
		HeartbeatInterval: cfg.Heartbeat.Interval,
		HeartbeatTimeout:  cfg.Heartbeat.Timeout,
		OrphanPolicy:      network.OrphanDestroy,
	})
	manager.Events().OnPeerConnect(func(peer uint32) {
		log.Info("Peer %d joined", peer)
	})
	manager.Events().OnPeerDisconnect(func(peer uint32) {
		log.Info("Peer %d left", peer)
	})

	repository := openRepository(ctx, cfg.Storage)
	var saveChan chan workers.SaveWorldRequest
	if repository != nil {
		defer repository.Close(ctx)
		saveChan = make(chan workers.SaveWorldRequest, 1)
		saveWorker := workers.NewSaveWorldWorker(workers.NewSaveWorldWorkerOptions{
			Repository: repository,
			Requests:   saveChan,
		})
		go saveWorker.Start(ctx)
	}

	if err := manager.Host(cfg.Server.Addr); err != nil {
		panic(fmt.Sprintf("Failed to host: %v", err))
	}
	defer manager.Disconnect()

	restored := 0
	if repository != nil {
		n, err := workers.RestoreWorld(ctx, repository, manager)
		if err != nil {
			log.Error("Failed to restore world: %v", err)
		} else if n > 0 {
			log.Info("Restored %d actors", n)
		}
		restored = n
	}
	if restored == 0 {
		seedWorld(manager)
	}

	statusServer := api.NewStatusServer(api.NewStatusServerOptions{
		Addr:   cfg.Server.StatusAddr,
		Source: manager,
	})
	go statusServer.Start()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = statusServer.Stop(shutdownCtx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	tickInterval := time.Second / time.Duration(cfg.Server.TickRate)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	log.Info("Starting game loop at %d ticks per second", cfg.Server.TickRate)
	last := time.Now()
	sinceSave := 0.0
	for {
		select {
		case <-sig:
			log.Info("Shutting down")
			if saveChan != nil {
				saveChan <- workers.SaveWorldRequest{
					Timestamp: time.Now().UnixMilli(),
					Snapshots: manager.WorldSnapshot(),
				}
			}
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			manager.Update(dt)

			if saveChan == nil {
				continue
			}
			sinceSave += dt
			if sinceSave >= cfg.Storage.SaveInterval {
				sinceSave = 0
				select {
				case saveChan <- workers.SaveWorldRequest{
					Timestamp: now.UnixMilli(),
					Snapshots: manager.WorldSnapshot(),
				}:
				default:
					log.Warn("Skipping save, previous snapshot still pending")
				}
			}
		}
	}
}

func openRepository(ctx context.Context, cfg config.StorageConfig) repositories.Repository {
	switch cfg.Driver {
	case "sqlite":
		repository, err := repositories.NewSQLiteRepository(ctx, cfg.DSN)
		if err != nil {
			panic(fmt.Sprintf("Failed to open sqlite repository: %v", err))
		}
		return repository
	case "postgres":
		repository, err := repositories.NewPostgresRepository(ctx, cfg.DSN)
		if err != nil {
			panic(fmt.Sprintf("Failed to open postgres repository: %v", err))
		}
		return repository
	default:
		log.Info("Persistence disabled")
		return nil
	}
}

// seedWorld spawns a few demo actors on a fresh server.
func seedWorld(manager *network.Manager) {
	crate, err := actors.NewActor("crate", actors.NewTransform(), actors.NewSprite())
	if err != nil {
		log.Error("Failed to build crate: %v", err)
		return
	}
	transform, _ := crate.Component(actors.TypeTransform)
	_ = transform.SetAttr("position", codec.Vec2{X: 100, Y: 100})
	if _, err := manager.SpawnNetworked(crate, network.DefaultSpawnOptions()); err != nil {
		log.Error("Failed to spawn crate: %v", err)
	}

	guard, err := actors.NewActor("guard", actors.NewTransform(), actors.NewPhysicsBody(), actors.NewHealth(100))
	if err != nil {
		log.Error("Failed to build guard: %v", err)
		return
	}
	opts := network.DefaultSpawnOptions()
	opts.Priority = messages.PriorityHigh
	if _, err := manager.SpawnNetworked(guard, opts); err != nil {
		log.Error("Failed to spawn guard: %v", err)
	}
	log.Info("Seeded demo world")
}
