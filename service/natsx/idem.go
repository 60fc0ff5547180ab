package natsx

import (
	"sync"
	"time"
)

// IdemStore 消息去重
type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
}

// memIdem 内存实现（单进程），过期键在写入时顺带清理
type memIdem struct {
	mu    sync.Mutex
	m     map[string]time.Time // key -> expireAt
	ttl   time.Duration
	now   func() time.Time
	sweep time.Time
}

func NewMemIdem(defaultTTL time.Duration) IdemStore {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
}

func (mi *memIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if now.Sub(mi.sweep) > mi.ttl {
		for k, exp := range mi.m {
			if !exp.After(now) {
				delete(mi.m, k)
			}
		}
		mi.sweep = now
	}
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil // 已见过
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}
