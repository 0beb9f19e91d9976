package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewStore(client, time.Minute), mr
}

func TestConnectMarksOnline(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Connect(ctx, "alice", "conn-1"))

	info, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "online", info.Status)
	assert.NotZero(t, info.LastSeen)
}

func TestUnknownAccountIsOffline(t *testing.T) {
	store, _ := newTestStore(t)

	info, err := store.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "offline", info.Status)
}

func TestLastConnectionGoingAwayMarksOffline(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Connect(ctx, "alice", "conn-1"))
	require.NoError(t, store.Connect(ctx, "alice", "conn-2"))

	require.NoError(t, store.Disconnect(ctx, "alice", "conn-1"))
	info, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "online", info.Status)

	require.NoError(t, store.Disconnect(ctx, "alice", "conn-2"))
	info, err = store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "offline", info.Status)
}

func TestPresenceExpiresWithoutHeartbeat(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Connect(ctx, "alice", "conn-1"))

	mr.FastForward(2 * time.Minute)

	info, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "offline", info.Status)
}

func TestHeartbeatExtendsPresence(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Connect(ctx, "alice", "conn-1"))

	mr.FastForward(45 * time.Second)
	require.NoError(t, store.Heartbeat(ctx, "alice"))
	mr.FastForward(45 * time.Second)

	info, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "online", info.Status)
}
