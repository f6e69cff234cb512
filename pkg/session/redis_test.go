package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client, opts...), mr
}

func TestRedisStore_LoadNotFound(t *testing.T) {
	store, _ := setupRedisStore(t)
	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_SaveLoadClear(t *testing.T) {
	store, mr := setupRedisStore(t, WithPrefix("test"))
	ctx := context.Background()

	snap := New("s1", "role", "domain", "Q1", "q1", 0, 3, t0).Snapshot(t0.Add(42 * time.Second))
	require.NoError(t, store.Save(ctx, "cand", snap))
	assert.True(t, mr.Exists("test:snapshot:cand"))

	got, err := store.Load(ctx, "cand")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, int64(42), got.ElapsedSeconds)
	assert.Equal(t, "Q1", got.CurrentQuestion)

	require.NoError(t, store.Clear(ctx, "cand"))
	_, err = store.Load(ctx, "cand")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_TTL(t *testing.T) {
	store, mr := setupRedisStore(t, WithTTL(time.Minute))
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "cand", Snapshot{SessionID: "s1"}))
	assert.Equal(t, time.Minute, mr.TTL("viva:snapshot:cand"))

	mr.FastForward(2 * time.Minute)
	_, err := store.Load(ctx, "cand")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_EmptySlot(t *testing.T) {
	store, _ := setupRedisStore(t)
	assert.Error(t, store.Save(context.Background(), "", Snapshot{}))
}
