package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RecoverableStreaks, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRecoverableStreaks(rdb, 24*time.Hour), mr
}

func TestRecoverableStreaks_PutGetClear(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)

	require.NoError(t, c.Put(ctx, "u1", 5, at))

	raw, err := mr.Get("streak:reset:u1")
	require.NoError(t, err)
	assert.Equal(t, "5", raw)
	assert.Equal(t, 24*time.Hour, mr.TTL("streak:reset:u1"))
	assert.Equal(t, 24*time.Hour, mr.TTL("streak:reset:u1:at"))

	entry, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 5, entry.Length)
	assert.True(t, entry.SnapshotAt.Equal(at))

	require.NoError(t, c.Clear(ctx, "u1"))
	entry, err = c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRecoverableStreaks_Expires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "u1", 7, time.Now()))
	mr.FastForward(23 * time.Hour)

	entry, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, entry)

	mr.FastForward(2 * time.Hour)
	entry, err = c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRecoverableStreaks_MissingUser(t *testing.T) {
	c, _ := newTestCache(t)

	entry, err := c.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRecoverableStreaks_IgnoresZeroLength(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set("streak:reset:u1", "0"))

	entry, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRecoverableStreaks_Unreachable(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	_, err := c.Get(context.Background(), "u1")
	assert.Error(t, err)
}
