package mgo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

type fakeConn struct {
	mu      sync.Mutex
	pingErr error
	closed  bool
}

func (c *fakeConn) GetDB() *mongo.Database { return nil }

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestManagerRetriesUntilReady(t *testing.T) {
	var calls atomic.Int32
	conn := &fakeConn{}
	m := NewManager(func(context.Context) (Conn, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("refused")
		}
		return conn, nil
	}, ManagerConf{BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, HealthEvery: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	require.NoError(t, m.WaitReady(wctx))
	assert.EqualError(t, m.Err(), "refused")
	assert.Equal(t, int32(3), calls.Load())

	cancel()
	<-m.Done()
	assert.True(t, conn.isClosed())
	_, ok := m.TryGetDB()
	assert.False(t, ok)
}

func TestManagerReconnectsAfterFailedHealthChecks(t *testing.T) {
	first := &fakeConn{pingErr: errors.New("gone")}
	second := &fakeConn{}
	var calls atomic.Int32
	m := NewManager(func(context.Context) (Conn, error) {
		if calls.Add(1) == 1 {
			return first, nil
		}
		return second, nil
	}, ManagerConf{HealthEvery: 5 * time.Millisecond, FailThresh: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, first.isClosed())
}

func TestWaitReadyTimesOut(t *testing.T) {
	m := NewManager(func(context.Context) (Conn, error) { return nil, errors.New("down") }, ManagerConf{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, m.WaitReady(ctx))
}
