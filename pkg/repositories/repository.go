// Package repositories persists world snapshots so a restarted server can
// restore its actors.
package repositories

import "context"

type Repository interface {
	Close(ctx context.Context) error
	// SaveWorld replaces the stored world with the given records.
	SaveWorld(ctx context.Context, timestamp int64, records []ActorRecord) error
	// SaveActor upserts a single record.
	SaveActor(ctx context.Context, record ActorRecord) error
	// LoadActor returns one record by identity, or ErrNotFound.
	LoadActor(ctx context.Context, identity string) (*ActorRecord, error)
	// LoadWorld returns every stored record.
	LoadWorld(ctx context.Context) ([]ActorRecord, error)
	// DeleteActor removes a record. Unknown identities are a no-op.
	DeleteActor(ctx context.Context, identity string) error
}

type ErrNotFound struct{}

func (e *ErrNotFound) Error() string {
	return "not found"
}
