package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPSignal/tools/errs"
)

// MemoryStore 单进程目录，开发和测试使用
type MemoryStore struct {
	mu       sync.RWMutex
	contacts map[int64]map[int64]struct{}
	groups   map[int64]map[int64]struct{}
	presence map[int64]Presence
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts: make(map[int64]map[int64]struct{}),
		groups:   make(map[int64]map[int64]struct{}),
		presence: make(map[int64]Presence),
	}
}

// AddContact 单向：owner 的联系人列表里加入 contact
func (m *MemoryStore) AddContact(owner, contact int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.contacts[owner]
	if set == nil {
		set = make(map[int64]struct{})
		m.contacts[owner] = set
	}
	set[contact] = struct{}{}
}

// Befriend 双向互加
func (m *MemoryStore) Befriend(a, b int64) {
	m.AddContact(a, b)
	m.AddContact(b, a)
}

func (m *MemoryStore) AddMember(group, user int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.groups[group]
	if set == nil {
		set = make(map[int64]struct{})
		m.groups[group] = set
	}
	set[user] = struct{}{}
}

func (m *MemoryStore) Contacts(_ context.Context, user int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.contacts[user]), nil
}

func (m *MemoryStore) SetPresence(_ context.Context, user int64, status string, lastSeen *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Presence{UserID: user, Status: status}
	if lastSeen != nil {
		t := *lastSeen
		p.LastSeen = &t
	}
	m.presence[user] = p
	return nil
}

func (m *MemoryStore) Presence(_ context.Context, user int64) (Presence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.presence[user]
	if !ok {
		return Presence{}, errs.ErrNotFound.WrapMsg("no presence", "user", user)
	}
	return p, nil
}

func (m *MemoryStore) IsMember(_ context.Context, group, user int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.groups[group][user]
	return ok, nil
}

func (m *MemoryStore) GroupMembers(_ context.Context, group int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.groups[group]), nil
}

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
