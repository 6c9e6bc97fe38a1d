package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

func TestKVStoreWriteAndIterate(t *testing.T) {
	ctx := context.Background()
	kv := NewKVStore()

	batch := &liquidstake.Batch{}
	batch.Put([]byte("s/b"), []byte("2"))
	batch.Put([]byte("s/a"), []byte("1"))
	batch.Put([]byte("r/x"), []byte("x"))
	require.NoError(t, kv.Write(ctx, batch))
	assert.Equal(t, 3, kv.Len())

	var keys []string
	err := kv.Iterate(ctx, []byte("s/"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"s/a", "s/b"}, keys)

	del := &liquidstake.Batch{}
	del.Delete([]byte("s/a"))
	require.NoError(t, kv.Write(ctx, del))

	_, ok, err := kv.Get(ctx, []byte("s/a"))
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := kv.Get(ctx, []byte("s/b"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}

func TestKVStoreValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	kv := NewKVStore()

	value := []byte("abc")
	batch := &liquidstake.Batch{}
	batch.Put([]byte("k"), value)
	require.NoError(t, kv.Write(ctx, batch))
	value[0] = 'z'

	got, _, err := kv.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestSettlementStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSettlementStore()
	owner := liquidstake.Owner(keypair.MustRandom().Address())
	now := time.Now()

	require.NoError(t, store.Save(ctx, &liquidstake.Settlement{
		ID: "m1", Owner: owner, Status: liquidstake.StatusInitiated,
		Kind: liquidstake.KindStakeLstMessage, CreatedAt: now,
	}))
	require.NoError(t, store.Save(ctx, &liquidstake.Settlement{
		ID: "m2", Owner: owner, Status: liquidstake.StatusInitiated,
		Kind: liquidstake.KindSwapMessage, CreatedAt: now.Add(time.Second),
	}))

	err := store.Save(ctx, &liquidstake.Settlement{ID: "m1"})
	require.Error(t, err)

	settled := liquidstake.StatusSettled
	at := now.Add(2 * time.Second)
	require.NoError(t, store.Update(ctx, "m1", &liquidstake.SettlementUpdate{Status: &settled, SettledAt: &at}))

	got, err := store.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, liquidstake.StatusSettled, got.Status)
	require.NotNil(t, got.SettledAt)

	byOwner, err := store.FindByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, byOwner, 2)
	assert.Equal(t, "m2", byOwner[0].ID)

	kind := liquidstake.KindSwapMessage
	swaps, err := store.List(ctx, liquidstake.SettlementFilters{Kind: &kind})
	require.NoError(t, err)
	require.Len(t, swaps, 1)
	assert.Equal(t, "m2", swaps[0].ID)

	page, err := store.List(ctx, liquidstake.SettlementFilters{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m1", page[0].ID)

	_, err = store.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.ErrorIs(t, store.Update(ctx, "missing", &liquidstake.SettlementUpdate{}), errors.ErrNotFound)
}

func TestNonceStoreUse(t *testing.T) {
	ctx := context.Background()
	store := NewNonceStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ok, err := store.Use(ctx, "n1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Use(ctx, "n1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "replayed nonce must be rejected")

	ok, err = store.Use(ctx, "n2", now.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "expired nonce must be rejected")

	now = now.Add(2 * time.Minute)
	ok, err = store.Use(ctx, "n1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "nonce is reusable once its earlier use expired")
}
