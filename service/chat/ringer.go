package chat

import (
	"sync"
	"time"
)

// Ring 一次未接通的呼叫
type Ring struct {
	Caller int64
	Callee int64
}

// Ringer 振铃超时表，只在信令层存在，不影响 CallCoordinator
type Ringer struct {
	mu        sync.Mutex
	timeout   time.Duration
	pending   map[Ring]*time.Timer
	onTimeout func(r Ring)
}

// NewRinger timeout<=0 时关闭超时
func NewRinger(timeout time.Duration, onTimeout func(r Ring)) *Ringer {
	return &Ringer{
		timeout:   timeout,
		pending:   make(map[Ring]*time.Timer),
		onTimeout: onTimeout,
	}
}

// Start 记录一次振铃；同一对用户重复呼叫会重置计时
func (r *Ringer) Start(caller, callee int64) {
	if r.timeout <= 0 {
		return
	}
	key := Ring{Caller: caller, Callee: callee}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.pending[key]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(r.timeout, func() {
		r.mu.Lock()
		if r.pending[key] != t {
			r.mu.Unlock()
			return
		}
		delete(r.pending, key)
		r.mu.Unlock()

		if r.onTimeout != nil {
			r.onTimeout(key)
		}
	})
	r.pending[key] = t
}

// Stop 接听/拒绝/取消时清除；返回是否确有振铃
func (r *Ringer) Stop(caller, callee int64) bool {
	key := Ring{Caller: caller, Callee: callee}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.pending[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(r.pending, key)
	return true
}

// ClearUser 清除该用户作为主叫或被叫的所有振铃
func (r *Ringer) ClearUser(user int64) []Ring {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Ring
	for key, t := range r.pending {
		if key.Caller == user || key.Callee == user {
			t.Stop()
			delete(r.pending, key)
			out = append(out, key)
		}
	}
	return out
}

func (r *Ringer) Pending(caller, callee int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[Ring{Caller: caller, Callee: callee}]
	return ok
}

func (r *Ringer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Ringer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range r.pending {
		t.Stop()
		delete(r.pending, key)
	}
}
