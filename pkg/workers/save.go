// Package workers holds goroutines that drain work off the tick thread.
package workers

import (
	"context"
	"encoding/json"

	"github.com/pylonengine/netsync/pkg/log"
	"github.com/pylonengine/netsync/pkg/network"
	"github.com/pylonengine/netsync/pkg/repositories"
)

// SaveWorldRequest carries world snapshots from the tick loop to the
// repository. Snapshots are copies, so the worker never touches live actors.
type SaveWorldRequest struct {
	Timestamp int64
	Snapshots []network.ActorSnapshot
}

type SaveWorldWorker struct {
	repository repositories.Repository
	requests   <-chan SaveWorldRequest
}

type NewSaveWorldWorkerOptions struct {
	Repository repositories.Repository
	Requests   <-chan SaveWorldRequest
}

// NewSaveWorldWorker creates a worker that persists world snapshots sent by
// the game loop.
func NewSaveWorldWorker(opts NewSaveWorldWorkerOptions) *SaveWorldWorker {
	return &SaveWorldWorker{
		repository: opts.Repository,
		requests:   opts.Requests,
	}
}

func (w *SaveWorldWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case request := <-w.requests:
			w.saveWorld(ctx, request)
		}
	}
}

func (w *SaveWorldWorker) saveWorld(ctx context.Context, request SaveWorldRequest) {
	records := make([]repositories.ActorRecord, 0, len(request.Snapshots))
	for _, snap := range request.Snapshots {
		record, err := RecordFromSnapshot(snap, request.Timestamp)
		if err != nil {
			log.Error("Failed to encode snapshot %s: %v", snap.Identity, err)
			continue
		}
		records = append(records, record)
	}
	if err := w.repository.SaveWorld(ctx, request.Timestamp, records); err != nil {
		log.Error("Failed to save world: %v", err)
	}
}

// RecordFromSnapshot converts a live snapshot to its stored form.
func RecordFromSnapshot(snap network.ActorSnapshot, timestamp int64) (repositories.ActorRecord, error) {
	attrs, err := json.Marshal(snap.Components)
	if err != nil {
		return repositories.ActorRecord{}, err
	}
	return repositories.ActorRecord{
		Identity:  snap.Identity,
		Name:      snap.Name,
		Ownership: snap.Ownership,
		Owner:     snap.Owner,
		UpdatedAt: timestamp,
		Attrs:     attrs,
	}, nil
}

// SnapshotFromRecord converts a stored record back for restoring.
func SnapshotFromRecord(record repositories.ActorRecord) (network.ActorSnapshot, error) {
	snap := network.ActorSnapshot{
		Identity:  record.Identity,
		Name:      record.Name,
		Ownership: record.Ownership,
		Owner:     record.Owner,
	}
	if err := json.Unmarshal(record.Attrs, &snap.Components); err != nil {
		return network.ActorSnapshot{}, err
	}
	return snap, nil
}

// RestoreWorld loads every stored actor into the manager, owned by the
// local peer.
func RestoreWorld(ctx context.Context, repository repositories.Repository, manager *network.Manager) (int, error) {
	records, err := repository.LoadWorld(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, record := range records {
		snap, err := SnapshotFromRecord(record)
		if err != nil {
			log.Warn("Skipping unreadable record %s: %v", record.Identity, err)
			continue
		}
		if err := manager.RestoreActor(snap, network.DefaultSpawnOptions()); err != nil {
			log.Warn("Skipping unrestorable actor %s: %v", snap.Identity, err)
			continue
		}
		restored++
	}
	return restored, nil
}
