package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountingStore(t *testing.T) {
	ctx := context.Background()

	inner, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	store := NewCountingStore(inner)
	t.Cleanup(func() { _ = store.Close() })

	key := AlertsKey("TX", "2025-01")

	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, key, []byte(`{"events":[]}`)))

	payload, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"events":[]}`, string(payload))

	assert.Equal(t, int64(1), store.Hits())
	assert.Equal(t, int64(1), store.Misses())
}

func TestCountingStore_PassesThrough(t *testing.T) {
	ctx := context.Background()

	inner, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	store := NewCountingStore(inner)

	require.NoError(t, store.Put(ctx, StationsKey("48"), []byte(`[]`)))

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Entries)

	require.NoError(t, store.Clear(ctx))

	status, err = store.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Entries)

	require.NoError(t, store.Close())
}
