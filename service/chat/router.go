package chat

import (
	"context"
	"sync"
	"time"

	"PPSignal/logger"
	"PPSignal/tools/errs"

	"go.uber.org/zap"
)

// ContactDirectory 路由需要的目录能力
type ContactDirectory interface {
	Contacts(ctx context.Context, user int64) ([]int64, error)
	// SetPresence online 时 lastSeen 为 nil
	SetPresence(ctx context.Context, user int64, status string, lastSeen *time.Time) error
}

// PresenceMirror 在线状态的外部缓存（redis）
type PresenceMirror interface {
	Online(ctx context.Context, user int64, connID string) error
	Offline(ctx context.Context, user int64) error
	Touch(ctx context.Context, user int64) error
}

// PresencePublisher 在线状态事件（nats）
type PresencePublisher interface {
	PublishPresence(ctx context.Context, user int64, status string, at time.Time) error
}

type RouterOption func(*Router)

func WithPresenceMirror(m PresenceMirror) RouterOption {
	return func(r *Router) { r.mirror = m }
}

func WithPresencePublisher(p PresencePublisher) RouterOption {
	return func(r *Router) { r.bus = p }
}

func WithFanout(f *Fanout) RouterOption {
	return func(r *Router) { r.fanout = f }
}

func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.clock = now }
}

// Router 投递路由，也是在线状态唯一的写入方
type Router struct {
	reg    *Registry
	dir    ContactDirectory
	mirror PresenceMirror
	bus    PresencePublisher
	fanout *Fanout
	clock  func() time.Time

	lmu   sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewRouter(reg *Registry, dir ContactDirectory, opts ...RouterOption) *Router {
	r := &Router{
		reg:   reg,
		dir:   dir,
		clock: time.Now,
		locks: make(map[int64]*userLock),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Router) Registry() *Registry { return r.reg }

// DeliverDirect 投递给单个用户；false 表示不在线或发送失败，由调用方决定是否在意
func (r *Router) DeliverDirect(_ context.Context, user int64, n Notification) bool {
	return r.reg.Send(user, n)
}

// FanOut 同步逐个投递
func (r *Router) FanOut(_ context.Context, users []int64, n Notification) int {
	return r.reg.Broadcast(users, n)
}

// FanOutKeyed 走协程池；同一 key（如群 ID）的通知保持提交顺序
func (r *Router) FanOutKeyed(ctx context.Context, key int64, users []int64, n Notification) {
	if r.fanout == nil {
		r.reg.Broadcast(users, n)
		return
	}
	r.fanout.Submit(ctx, key, users, n)
}

// OnlineContacts 联系人与注册表的交集
func (r *Router) OnlineContacts(ctx context.Context, user int64) ([]int64, error) {
	contacts, err := r.dir.Contacts(ctx, user)
	if err != nil {
		return nil, errs.WrapMsg(err, "load contacts", "user", user)
	}
	return r.reg.OnlineOf(contacts), nil
}

// NotifyPresenceChange 写目录、同步 redis、发 nats 事件，再推给联系人。
// 同一用户串行执行，联系人看到的状态顺序与变化顺序一致。
func (r *Router) NotifyPresenceChange(ctx context.Context, user int64, status string) error {
	if status != StatusOnline && status != StatusOffline {
		return errs.ErrInvalidArgument.WrapMsg("unknown presence status", "status", status)
	}
	l := r.lockUser(user)
	defer r.unlockUser(user, l)
	return r.publishPresence(ctx, user, status)
}

// NotifyOffline 连接清理时调用；若用户已有新会话（重连抢先登记）则跳过，返回是否发布
func (r *Router) NotifyOffline(ctx context.Context, user int64) (bool, error) {
	l := r.lockUser(user)
	defer r.unlockUser(user, l)
	if r.reg.IsOnline(user) {
		return false, nil
	}
	return true, r.publishPresence(ctx, user, StatusOffline)
}

// publishPresence 调用方持有该用户的锁
func (r *Router) publishPresence(ctx context.Context, user int64, status string) error {
	now := r.clock()
	var lastSeen *time.Time
	if status == StatusOffline {
		lastSeen = &now
	}

	var firstErr error
	if err := r.dir.SetPresence(ctx, user, status, lastSeen); err != nil {
		logger.Error("[router] persist presence failed", zap.Int64("user", user), zap.String("status", status), zap.Error(err))
		firstErr = errs.WrapMsg(err, "persist presence", "user", user)
	}

	if r.mirror != nil {
		var err error
		if status == StatusOnline {
			connID := ""
			if s, ok := r.reg.Get(user); ok {
				connID = s.ConnID
			}
			err = r.mirror.Online(ctx, user, connID)
		} else {
			err = r.mirror.Offline(ctx, user)
		}
		if err != nil {
			logger.Warn("[router] presence mirror failed", zap.Int64("user", user), zap.Error(err))
		}
	}
	if r.bus != nil {
		if err := r.bus.PublishPresence(ctx, user, status, now); err != nil {
			logger.Warn("[router] presence publish failed", zap.Int64("user", user), zap.Error(err))
		}
	}

	contacts, err := r.dir.Contacts(ctx, user)
	if err != nil {
		logger.Error("[router] load contacts failed", zap.Int64("user", user), zap.Error(err))
		if firstErr == nil {
			firstErr = errs.WrapMsg(err, "load contacts", "user", user)
		}
		return firstErr
	}
	r.reg.Broadcast(contacts, UserStatus(user, status, lastSeen))
	return firstErr
}

// TouchPresence 刷新在线缓存的过期时间
func (r *Router) TouchPresence(ctx context.Context, user int64) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Touch(ctx, user); err != nil {
		logger.Debug("[router] presence touch failed", zap.Int64("user", user), zap.Error(err))
	}
}

func (r *Router) lockUser(user int64) *userLock {
	r.lmu.Lock()
	l, ok := r.locks[user]
	if !ok {
		l = &userLock{}
		r.locks[user] = l
	}
	l.refs++
	r.lmu.Unlock()

	l.mu.Lock()
	return l
}

func (r *Router) unlockUser(user int64, l *userLock) {
	l.mu.Unlock()

	r.lmu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, user)
	}
	r.lmu.Unlock()
}
