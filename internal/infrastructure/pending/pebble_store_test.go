package pending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventwish-sync/internal/domain/interaction"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func opAt(created time.Time, templateID string, op interaction.Op) interaction.PendingOp {
	pending := interaction.NewPendingOp(templateID, "user-1", op)
	pending.CreatedAt = created
	return *pending
}

func TestStore_EnqueueList(t *testing.T) {
	store := setupStore(t)
	now := time.Now().UTC()

	second := opAt(now.Add(time.Second), "t2", interaction.OpFavorite)
	first := opAt(now, "t1", interaction.OpLike)
	require.NoError(t, store.Enqueue(second))
	require.NoError(t, store.Enqueue(first))

	ops, err := store.List()
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "t1", ops[0].TemplateID, "drain order is oldest first")
	assert.Equal(t, "t2", ops[1].TemplateID)
}

func TestStore_Update(t *testing.T) {
	store := setupStore(t)

	op := opAt(time.Now().UTC(), "t1", interaction.OpLike)
	require.NoError(t, store.Enqueue(op))

	op.Attempts = 3
	op.LastError = "permission denied"
	require.NoError(t, store.Update(op))

	ops, err := store.List()
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 3, ops[0].Attempts)
	assert.Equal(t, "permission denied", ops[0].LastError)
}

func TestStore_UpdateMissing(t *testing.T) {
	store := setupStore(t)

	err := store.Update(opAt(time.Now().UTC(), "t1", interaction.OpLike))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	store := setupStore(t)

	op := opAt(time.Now().UTC(), "t1", interaction.OpLike)
	require.NoError(t, store.Enqueue(op))
	require.NoError(t, store.Delete(op))

	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStore_DeleteOlderThan(t *testing.T) {
	store := setupStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.Enqueue(opAt(now.Add(-48*time.Hour), "old", interaction.OpLike)))
	require.NoError(t, store.Enqueue(opAt(now, "fresh", interaction.OpLike)))

	removed, err := store.DeleteOlderThan(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ops, err := store.List()
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "fresh", ops[0].TemplateID)
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, nil)
	require.NoError(t, err)
	op := opAt(time.Now().UTC(), "t1", interaction.OpFavorite)
	require.NoError(t, store.Enqueue(op))
	require.NoError(t, store.Close())

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	ops, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, op.ID, ops[0].ID)
}
