package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventwish-sync/internal/domain/resource"
)

func setupStore(t *testing.T) *ResourceStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "resources.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func sampleEntity(t resource.Type, key string) resource.Entity {
	return resource.Entity{
		Type:           t,
		Key:            key,
		Data:           json.RawMessage(`{"id":"` + key + `"}`),
		Metadata:       map[string]string{"source": "network"},
		ETag:           `"v1"`,
		LastUpdated:    time.Now().UTC().Truncate(time.Millisecond),
		ExpirationTime: time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond),
	}
}

func TestResourceStore_UpsertGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	want := sampleEntity(resource.TypeTemplate, "t1")
	require.NoError(t, store.Upsert(ctx, want))

	got, err := store.Get(ctx, resource.TypeTemplate, "t1")
	require.NoError(t, err)
	assert.Equal(t, want.Data, got.Data)
	assert.Equal(t, want.ETag, got.ETag)
	assert.Equal(t, want.Metadata, got.Metadata)
	assert.Equal(t, want.LastUpdated, got.LastUpdated)
	assert.Equal(t, want.ExpirationTime, got.ExpirationTime)
	assert.False(t, got.Stale)
}

func TestResourceStore_GetMissing(t *testing.T) {
	store := setupStore(t)

	_, err := store.Get(context.Background(), resource.TypeTemplate, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResourceStore_UpsertReplacesRow(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	first := sampleEntity(resource.TypeTemplate, "t1")
	require.NoError(t, store.Upsert(ctx, first))

	second := first
	second.Data = json.RawMessage(`{"id":"t1","title":"updated"}`)
	second.ETag = `"v2"`
	second.Stale = false
	require.NoError(t, store.Upsert(ctx, second))

	got, err := store.Get(ctx, resource.TypeTemplate, "t1")
	require.NoError(t, err)
	assert.Equal(t, second.Data, got.Data)
	assert.Equal(t, `"v2"`, got.ETag)

	count, err := store.CountByType(ctx, resource.TypeTemplate)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestResourceStore_UpsertUnknownType(t *testing.T) {
	store := setupStore(t)

	err := store.Upsert(context.Background(), resource.Entity{Type: "bogus", Key: "k"})
	assert.Error(t, err)
}

func TestResourceStore_UpsertAll(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	entities := []resource.Entity{
		sampleEntity(resource.TypeTemplate, "t1"),
		sampleEntity(resource.TypeTemplate, "t2"),
		sampleEntity(resource.TypeCategory, "birthday"),
	}
	require.NoError(t, store.UpsertAll(ctx, entities))

	count, err := store.CountByType(ctx, resource.TypeTemplate)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = store.CountByType(ctx, resource.TypeCategory)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestResourceStore_MarkStaleByType(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleEntity(resource.TypeTemplate, "t1")))
	require.NoError(t, store.Upsert(ctx, sampleEntity(resource.TypeTemplate, "t2")))
	require.NoError(t, store.Upsert(ctx, sampleEntity(resource.TypeCategory, "birthday")))

	affected, err := store.MarkStaleByType(ctx, resource.TypeTemplate)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	got, err := store.Get(ctx, resource.TypeTemplate, "t1")
	require.NoError(t, err)
	assert.True(t, got.Stale)
	assert.NotEmpty(t, got.Data, "marking stale keeps the payload")

	got, err = store.Get(ctx, resource.TypeCategory, "birthday")
	require.NoError(t, err)
	assert.False(t, got.Stale, "other types are untouched")
}

func TestResourceStore_DeleteByType(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleEntity(resource.TypeTemplate, "t1")))
	require.NoError(t, store.Upsert(ctx, sampleEntity(resource.TypeCategory, "birthday")))

	affected, err := store.DeleteByType(ctx, resource.TypeTemplate)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	_, err = store.Get(ctx, resource.TypeTemplate, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, resource.TypeCategory, "birthday")
	assert.NoError(t, err)
}

func TestResourceStore_DeleteExpired(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := sampleEntity(resource.TypeTemplate, "old")
	expired.ExpirationTime = now.Add(-time.Minute)
	fresh := sampleEntity(resource.TypeTemplate, "fresh")
	require.NoError(t, store.Upsert(ctx, expired))
	require.NoError(t, store.Upsert(ctx, fresh))

	removed, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.Get(ctx, resource.TypeTemplate, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, resource.TypeTemplate, "fresh")
	assert.NoError(t, err)
}

func TestResourceStore_ListByType(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	older := sampleEntity(resource.TypeTemplate, "older")
	older.LastUpdated = time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	newer := sampleEntity(resource.TypeTemplate, "newer")
	require.NoError(t, store.Upsert(ctx, older))
	require.NoError(t, store.Upsert(ctx, newer))

	entities, err := store.ListByType(ctx, resource.TypeTemplate)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "newer", entities[0].Key)
	assert.Equal(t, "older", entities[1].Key)
}

func TestResourceStore_WatchReplaysCurrent(t *testing.T) {
	store := setupStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	want := sampleEntity(resource.TypeTemplate, "t1")
	require.NoError(t, store.Upsert(ctx, want))

	ch := store.Watch(ctx, resource.TypeTemplate, "t1")
	select {
	case got := <-ch:
		assert.Equal(t, want.Data, got.Data)
	case <-ctx.Done():
		t.Fatal("timed out waiting for replay")
	}
}

func TestResourceStore_WatchSeesWrites(t *testing.T) {
	store := setupStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ch := store.Watch(ctx, resource.TypeTemplate, "t1")

	want := sampleEntity(resource.TypeTemplate, "t1")
	require.NoError(t, store.Upsert(ctx, want))

	select {
	case got := <-ch:
		assert.Equal(t, want.Data, got.Data)
	case <-ctx.Done():
		t.Fatal("timed out waiting for write notification")
	}
}

func TestResourceStore_WatchSeesTypeRemoval(t *testing.T) {
	store := setupStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, store.Upsert(ctx, sampleEntity(resource.TypeTemplate, "t1")))
	ch := store.Watch(ctx, resource.TypeTemplate, "t1")

	// Drain the replay first.
	select {
	case <-ch:
	case <-ctx.Done():
		t.Fatal("timed out waiting for replay")
	}

	_, err := store.DeleteByType(ctx, resource.TypeTemplate)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.False(t, got.HasData(), "removal publishes an empty entity")
	case <-ctx.Done():
		t.Fatal("timed out waiting for removal notification")
	}
}

func TestResourceStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resources.db")
	ctx := context.Background()

	store, err := Open(path, nil)
	require.NoError(t, err)
	want := sampleEntity(resource.TypeTemplate, "t1")
	require.NoError(t, store.Upsert(ctx, want))
	require.NoError(t, store.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, resource.TypeTemplate, "t1")
	require.NoError(t, err)
	assert.Equal(t, want.Data, got.Data)
}
