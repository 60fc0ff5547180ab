package chat

import (
	"sync"

	"PPSignal/tools/errs"
)

// CallCoordinator 只保存已接通的通话，A->B 与 B->A 两个方向同时存在
type CallCoordinator struct {
	mu      sync.Mutex
	links   map[int64]int64
	metrics *Metrics
}

func NewCallCoordinator(m *Metrics) *CallCoordinator {
	return &CallCoordinator{links: make(map[int64]int64), metrics: m}
}

// Link 原子建立双向通话；任一方已在通话中返回 StateConflict
func (c *CallCoordinator) Link(caller, callee int64) error {
	if caller == callee {
		return errs.ErrInvalidArgument.WrapMsg("cannot call yourself", "user", caller)
	}
	c.mu.Lock()
	if _, busy := c.links[caller]; busy {
		c.mu.Unlock()
		return errs.ErrStateConflict.WrapMsg("caller already in a call", "user", caller)
	}
	if _, busy := c.links[callee]; busy {
		c.mu.Unlock()
		return errs.ErrStateConflict.WrapMsg("callee already in a call", "user", callee)
	}
	c.links[caller] = callee
	c.links[callee] = caller
	n := len(c.links) / 2
	c.mu.Unlock()

	c.metrics.setCalls(n)
	return nil
}

// End 拆除 user 所在的通话，对端只会被返回一次
func (c *CallCoordinator) End(user int64) (int64, bool) {
	c.mu.Lock()
	peer, ok := c.links[user]
	if !ok {
		c.mu.Unlock()
		return 0, false
	}
	delete(c.links, user)
	if back, ok := c.links[peer]; ok && back == user {
		delete(c.links, peer)
	}
	n := len(c.links) / 2
	c.mu.Unlock()

	c.metrics.setCalls(n)
	return peer, true
}

func (c *CallCoordinator) Peer(user int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	peer, ok := c.links[user]
	return peer, ok
}

func (c *CallCoordinator) InCall(user int64) bool {
	_, ok := c.Peer(user)
	return ok
}

// Count 当前通话数
func (c *CallCoordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.links) / 2
}
