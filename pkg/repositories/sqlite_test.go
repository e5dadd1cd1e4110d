package repositories

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "world.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close(context.Background()) })
	return repo
}

func TestSaveAndLoadActor(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	record := ActorRecord{
		Identity:  "abc-123",
		Name:      "crate",
		Ownership: "server",
		UpdatedAt: 42,
		Attrs:     []byte(`{"transform":{"position":{"t":"vec2","v":[1,2]}}}`),
	}
	require.NoError(t, repo.SaveActor(ctx, record))

	got, err := repo.LoadActor(ctx, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, record, *got)

	// Upsert overwrites.
	record.Name = "barrel"
	require.NoError(t, repo.SaveActor(ctx, record))
	got, err = repo.LoadActor(ctx, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "barrel", got.Name)
}

func TestLoadActorNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.LoadActor(context.Background(), "missing")
	require.Error(t, err)
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestSaveWorldReplacesContents(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveActor(ctx, ActorRecord{Identity: "old", Name: "gone", Ownership: "server", Attrs: []byte(`{}`)}))

	records := []ActorRecord{
		{Identity: "a", Name: "crate", Ownership: "server", Attrs: []byte(`{}`)},
		{Identity: "b", Name: "npc", Ownership: "server", Attrs: []byte(`{}`)},
	}
	require.NoError(t, repo.SaveWorld(ctx, 100, records))

	got, err := repo.LoadWorld(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Identity)
	assert.Equal(t, "b", got[1].Identity)
	assert.Equal(t, int64(100), got[0].UpdatedAt)

	_, err = repo.LoadActor(ctx, "old")
	assert.Error(t, err)
}

func TestDeleteActor(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveActor(ctx, ActorRecord{Identity: "x", Name: "crate", Ownership: "server", Attrs: []byte(`{}`)}))
	require.NoError(t, repo.DeleteActor(ctx, "x"))
	_, err := repo.LoadActor(ctx, "x")
	assert.Error(t, err)

	// Deleting again is a no-op.
	assert.NoError(t, repo.DeleteActor(ctx, "x"))
}
