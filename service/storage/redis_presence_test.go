package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPresence(t *testing.T) (*RedisPresence, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisPresence(rdb, PresenceConfig{NodeID: "n1", TTL: 30 * time.Second}), mr
}

func TestPresenceOnlineOffline(t *testing.T) {
	p, mr := newPresence(t)
	ctx := context.Background()

	require.NoError(t, p.Online(ctx, 7, "conn-a"))
	assert.Equal(t, 30*time.Second, mr.TTL("im:presence:7"))

	node, conn, online, err := p.Lookup(ctx, 7)
	require.NoError(t, err)
	assert.True(t, online)
	assert.Equal(t, "n1", node)
	assert.Equal(t, "conn-a", conn)

	n, err := p.NodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, p.Offline(ctx, 7))
	_, _, online, err = p.Lookup(ctx, 7)
	require.NoError(t, err)
	assert.False(t, online)
	n, err = p.NodeCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// 重复下线无副作用
	require.NoError(t, p.Offline(ctx, 7))
}

func TestPresenceTouchAndExpiry(t *testing.T) {
	p, mr := newPresence(t)
	ctx := context.Background()

	require.NoError(t, p.Online(ctx, 1, "c"))
	mr.FastForward(20 * time.Second)
	require.NoError(t, p.Touch(ctx, 1))
	assert.Equal(t, 30*time.Second, mr.TTL("im:presence:1"))

	mr.FastForward(31 * time.Second)
	_, _, online, err := p.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.False(t, online, "expires without touch")
}
