package chat

import (
	"sync"
	"time"

	"PPSignal/logger"

	"go.uber.org/zap"
)

// 驱逐原因
const (
	ReasonReplaced   = "replaced"
	ReasonSendFailed = "send_failed"
	ReasonProbe      = "probe_failed"
	ReasonEvicted    = "evicted"
	ReasonClosed     = "closed"
)

// EvictHook 会话离开注册表后回调（锁外调用）
type EvictHook func(s *Session, reason string)

// Registry 用户 -> 当前会话，每个用户最多一条
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]*Session

	metrics *Metrics
	hooks   []EvictHook
	clock   func() time.Time
}

func NewRegistry(m *Metrics) *Registry {
	return &Registry{
		byUser:  make(map[int64]*Session),
		metrics: m,
		clock:   time.Now,
	}
}

// OnEvict 注册驱逐回调；只在启动阶段调用
func (r *Registry) OnEvict(h EvictHook) {
	r.hooks = append(r.hooks, h)
}

// Register 登记新会话；同一用户的旧会话被替换并尽力关闭
func (r *Registry) Register(userID int64, connID string, ch Channel) *Session {
	s := &Session{UserID: userID, ConnID: connID, Channel: ch, CreatedAt: r.clock()}

	r.mu.Lock()
	prev := r.byUser[userID]
	r.byUser[userID] = s
	n := len(r.byUser)
	r.mu.Unlock()

	r.metrics.setSessions(n)
	if prev != nil {
		// 锁外关闭，关闭错误忽略
		closeQuiet(prev)
		r.evicted(prev, ReasonReplaced)
	}
	return s
}

// Evict 移除并关闭用户当前会话，幂等
func (r *Registry) Evict(userID int64) {
	r.mu.Lock()
	s := r.byUser[userID]
	delete(r.byUser, userID)
	n := len(r.byUser)
	r.mu.Unlock()

	if s == nil {
		return
	}
	r.metrics.setSessions(n)
	closeQuiet(s)
	r.evicted(s, ReasonEvicted)
}

// Release 仅当 s 仍是该用户当前会话时移除（比较后删除），不关闭通道
func (r *Registry) Release(s *Session) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	cur, ok := r.byUser[s.UserID]
	if !ok || cur != s {
		r.mu.Unlock()
		return false
	}
	delete(r.byUser, s.UserID)
	n := len(r.byUser)
	r.mu.Unlock()

	r.metrics.setSessions(n)
	return true
}

// Superseded 该用户已有另一条更新的会话
func (r *Registry) Superseded(s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.byUser[s.UserID]
	return ok && cur != s
}

// evictSession 比较后删除并关闭，用于发送失败/探活失败
func (r *Registry) evictSession(s *Session, reason string) bool {
	if !r.Release(s) {
		return false
	}
	closeQuiet(s)
	r.evicted(s, reason)
	return true
}

func (r *Registry) evicted(s *Session, reason string) {
	r.metrics.evicted(reason)
	for _, h := range r.hooks {
		h(s, reason)
	}
}

func (r *Registry) Get(userID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUser[userID]
	return s, ok
}

func (r *Registry) IsOnline(userID int64) bool {
	_, ok := r.Get(userID)
	return ok
}

// OnlineOf 返回 ids 中在线的子集，保持输入顺序
func (r *Registry) OnlineOf(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range ids {
		if _, ok := r.byUser[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Snapshot 当前所有会话的拷贝，调用方无需持锁
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byUser))
	for _, s := range r.byUser {
		out = append(out, s)
	}
	return out
}

// Send 发给用户当前会话；不在线返回 false，发送失败则驱逐该会话
func (r *Registry) Send(userID int64, n Notification) bool {
	s, ok := r.Get(userID)
	if !ok {
		return false
	}
	return r.SendTo(s, n)
}

// SendTo 发给指定会话
func (r *Registry) SendTo(s *Session, n Notification) bool {
	if err := s.Channel.Send(n); err != nil {
		logger.Warn("[registry] send failed, evicting",
			zap.Int64("user", s.UserID), zap.String("conn", s.ConnID),
			zap.String("type", n.Type), zap.Error(err))
		r.metrics.delivered(false)
		r.evictSession(s, ReasonSendFailed)
		return false
	}
	r.metrics.delivered(true)
	return true
}

// SendBinary 转发原始媒体帧，契约同 Send
func (r *Registry) SendBinary(userID int64, payload []byte) bool {
	s, ok := r.Get(userID)
	if !ok {
		return false
	}
	if err := s.Channel.SendBinary(payload); err != nil {
		logger.Warn("[registry] binary send failed, evicting",
			zap.Int64("user", userID), zap.String("conn", s.ConnID), zap.Error(err))
		r.evictSession(s, ReasonSendFailed)
		return false
	}
	return true
}

// Broadcast 逐个尽力发送，单个失败互不影响；返回送达数
func (r *Registry) Broadcast(ids []int64, n Notification) int {
	delivered := 0
	for _, id := range ids {
		if r.Send(id, n) {
			delivered++
		}
	}
	return delivered
}

// Close 关闭所有会话，进程退出时调用
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.byUser
	r.byUser = make(map[int64]*Session)
	r.mu.Unlock()

	r.metrics.setSessions(0)
	for _, s := range all {
		closeQuiet(s)
	}
}

func closeQuiet(s *Session) {
	if s == nil || s.Channel == nil {
		return
	}
	_ = s.Channel.Close()
}
