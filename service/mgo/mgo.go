package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"PPSignal/data/database/mgo/mongoutil"
	"PPSignal/logger"
	"PPSignal/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Conn mongoutil.Client 的最小子集
type Conn interface {
	GetDB() *mongo.Database
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type Dialer func(ctx context.Context) (Conn, error)

// DialConfig 用 mongoutil 建连
func DialConfig(cfg *mongoutil.Config) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c, err := mongoutil.NewMongoDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

type ManagerConf struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	HealthEvery time.Duration // 健康检查周期
	FailThresh  int           // 连续失败阈值
}

func (c *ManagerConf) norm() {
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.HealthEvery <= 0 {
		c.HealthEvery = 10 * time.Second
	}
	if c.FailThresh <= 0 {
		c.FailThresh = 3
	}
}

// Manager 后台连接 Mongo：首次连上关闭 readyCh，掉线后自动重连
type Manager struct {
	dial Dialer
	conf ManagerConf

	mu        sync.RWMutex
	conn      Conn
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once
	done      chan struct{}

	lastErr atomic.Value // error
}

func NewManager(dial Dialer, conf ManagerConf) *Manager {
	conf.norm()
	return &Manager{dial: dial, conf: conf, readyCh: make(chan struct{}), done: make(chan struct{})}
}

// Start 一直运行到 ctx.Done()
func (m *Manager) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		for {
			if !m.connect(ctx) {
				return
			}
			if !m.watch(ctx) {
				return
			}
		}
	}()
}

// connect 退避重试直到成功；ctx 结束返回 false
func (m *Manager) connect(ctx context.Context) bool {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return false
		}
		c, err := m.dial(ctx)
		if err == nil {
			m.mu.Lock()
			m.conn = c
			m.mu.Unlock()
			m.readyOnce.Do(func() { close(m.readyCh) })
			logger.Info("[mongo] connected")
			return true
		}
		m.lastErr.Store(err)
		logger.Warn("[mongo] connect failed", zap.Int("attempt", attempt), zap.Error(err))

		// 退避 + 抖动
		backoff := m.conf.BaseBackoff << attempt
		if backoff > m.conf.MaxBackoff {
			backoff = m.conf.MaxBackoff
		}
		if j := int64(backoff / 5); j > 0 {
			backoff -= time.Duration(rand.Int63n(j)) / 2
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}
}

// watch 周期 ping，连续失败达到阈值后断开并返回 true 以重连
func (m *Manager) watch(ctx context.Context) bool {
	ticker := time.NewTicker(m.conf.HealthEvery)
	defer ticker.Stop()
	fail := 0
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-ticker.C:
			m.mu.RLock()
			c := m.conn
			m.mu.RUnlock()
			if c == nil {
				return true
			}
			if err := c.Ping(ctx); err != nil {
				fail++
				m.lastErr.Store(err)
				if fail >= m.conf.FailThresh {
					logger.Warn("[mongo] health check failed, reconnecting", zap.Error(err))
					m.drop()
					return true
				}
				continue
			}
			fail = 0
		}
	}
}

func (m *Manager) drop() {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.mu.Unlock()
	if c != nil {
		_ = c.Close(context.Background())
	}
}

// Ready 首次连接成功时会 close
func (m *Manager) Ready() <-chan struct{} { return m.readyCh }

// Done Start 的后台协程退出后关闭
func (m *Manager) Done() <-chan struct{} { return m.done }

// Err 最近一次错误
func (m *Manager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *Manager) TryGetDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return nil, false
	}
	return m.conn.GetDB(), true
}

// WaitReady 已就绪立刻返回
func (m *Manager) WaitReady(ctx context.Context) error {
	if _, ok := m.TryGetDB(); ok {
		return nil
	}
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return errs.WrapMsg(ctx.Err(), "wait mongo ready")
	}
}
