package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyPresenceChange(t *testing.T) {
	reg := NewRegistry(nil)
	dir := newFakeDirectory()
	dir.befriend(1, 2)
	dir.befriend(1, 3)
	mirror, bus := newFakeMirror(), &fakeBus{}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	router := NewRouter(reg, dir, WithPresenceMirror(mirror), WithPresencePublisher(bus), WithClock(func() time.Time { return now }))

	c2 := newFakeChannel("c2")
	reg.Register(2, "conn-2", c2)
	reg.Register(1, "conn-1", newFakeChannel("c1"))

	require.NoError(t, router.NotifyPresenceChange(context.Background(), 1, StatusOnline))
	w := dir.lastWrite()
	assert.Equal(t, StatusOnline, w.status)
	assert.Nil(t, w.lastSeen, "online clears last seen")
	assert.Equal(t, "conn-1", mirror.online[1])

	n, ok := c2.last()
	require.True(t, ok)
	assert.Equal(t, TypeUserStatus, n.Type)
	assert.Equal(t, H{"user_id": int64(1), "status": StatusOnline}, n.Data)

	require.NoError(t, router.NotifyPresenceChange(context.Background(), 1, StatusOffline))
	w = dir.lastWrite()
	require.NotNil(t, w.lastSeen)
	assert.Equal(t, now, *w.lastSeen)
	assert.NotContains(t, mirror.online, int64(1))
	assert.Equal(t, []string{StatusOnline, StatusOffline}, bus.events)

	n, _ = c2.last()
	assert.Equal(t, StatusOffline, n.Data.(H)["status"])
	assert.Equal(t, "2026-01-02T03:04:05Z", n.Data.(H)["last_seen"])

	assert.Error(t, router.NotifyPresenceChange(context.Background(), 1, "away"))
}

func TestNotifyPresenceStillFansOutWhenPersistFails(t *testing.T) {
	reg := NewRegistry(nil)
	dir := newFakeDirectory()
	dir.befriend(1, 2)
	dir.failSet = true
	c2 := newFakeChannel("c2")
	reg.Register(2, "c2", c2)

	err := NewRouter(reg, dir).NotifyPresenceChange(context.Background(), 1, StatusOnline)
	assert.Error(t, err)
	assert.Equal(t, []string{TypeUserStatus}, c2.types())
}

func TestNotifyOfflineSkipsWhenReconnected(t *testing.T) {
	reg := NewRegistry(nil)
	dir := newFakeDirectory()
	dir.befriend(1, 2)
	router := NewRouter(reg, dir)
	reg.Register(1, "new", newFakeChannel("new"))

	published, err := router.NotifyOffline(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, published)
	assert.Empty(t, dir.writes)

	reg.Evict(1)
	published, err = router.NotifyOffline(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, published)
	assert.Equal(t, StatusOffline, dir.lastWrite().status)
}

func TestPresenceOrderPerUser(t *testing.T) {
	reg := NewRegistry(nil)
	dir := newFakeDirectory()
	dir.befriend(1, 2)
	c2 := newFakeChannel("c2")
	reg.Register(2, "c2", c2)
	router := NewRouter(reg, dir)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		status := StatusOnline
		if i%2 == 1 {
			status = StatusOffline
		}
		go func(status string) {
			defer wg.Done()
			_ = router.NotifyPresenceChange(context.Background(), 1, status)
		}(status)
	}
	wg.Wait()

	// 联系人收到的状态序列与目录写入顺序完全一致
	got := c2.notifications()
	require.Len(t, got, 20)
	require.Len(t, dir.writes, 20)
	for i, n := range got {
		assert.Equal(t, dir.writes[i].status, n.Data.(H)["status"])
	}
	assert.Empty(t, router.locks, "per-user locks are released")
}

func TestOnlineContactsAndDeliver(t *testing.T) {
	reg := NewRegistry(nil)
	dir := newFakeDirectory()
	dir.befriend(1, 2)
	dir.befriend(1, 3)
	router := NewRouter(reg, dir)
	c3 := newFakeChannel("c3")
	reg.Register(3, "c3", c3)

	online, err := router.OnlineContacts(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, online)

	assert.False(t, router.DeliverDirect(context.Background(), 2, Notification{Type: TypeNewMessage}))
	assert.True(t, router.DeliverDirect(context.Background(), 3, Notification{Type: TypeNewMessage}))
	assert.Equal(t, 1, router.FanOut(context.Background(), []int64{2, 3}, Notification{Type: TypeReadReceipt}))
	assert.Equal(t, []string{TypeNewMessage, TypeReadReceipt}, c3.types())
}

func TestFanOutKeyedPreservesOrder(t *testing.T) {
	reg := NewRegistry(nil)
	c := newFakeChannel("c")
	reg.Register(9, "c", c)
	pool := NewFanout(reg, 4, 16)
	router := NewRouter(reg, newFakeDirectory(), WithFanout(pool))

	for i := 0; i < 100; i++ {
		router.FanOutKeyed(context.Background(), 77, []int64{9}, Notification{Type: TypeNewGroupMessage, Data: i})
	}
	pool.Stop()

	got := c.notifications()
	require.Len(t, got, 100)
	for i, n := range got {
		assert.Equal(t, i, n.Data)
	}
}

func TestFanoutSubmitAfterStopDrops(t *testing.T) {
	reg := NewRegistry(nil)
	c := newFakeChannel("c")
	reg.Register(9, "c", c)
	pool := NewFanout(reg, 2, 4)

	require.True(t, pool.Submit(context.Background(), 1, []int64{9}, Notification{Type: TypeNewGroupMessage}))
	pool.Stop()
	pool.Stop()

	assert.NotPanics(t, func() {
		assert.False(t, pool.Submit(context.Background(), 1, []int64{9}, Notification{Type: TypeNewGroupMessage}))
	})
	assert.Len(t, c.notifications(), 1)
}
