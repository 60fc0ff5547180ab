package message

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPSignal/tools/errs"
)

type memDB struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*Message
	now    func() time.Time
}

func NewMemDB() DB {
	return &memDB{byID: make(map[int64]*Message), now: time.Now}
}

func (db *memDB) Insert(_ context.Context, m *Message) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextID++
	m.ID = db.nextID
	m.CreatedAt = db.now()
	m.UpdatedAt = m.CreatedAt
	cp := *m
	db.byID[cp.ID] = &cp
	return nil
}

// scan 按 id 倒序挑出满足条件的消息
func (db *memDB) scan(before int64, n int, keep func(*Message) bool) []Message {
	out := make([]Message, 0, n)
	for _, m := range db.byID {
		if before > 0 && m.ID >= before {
			continue
		}
		if keep(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (db *memDB) ListDirect(_ context.Context, a, b, before int64, n int) ([]Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.scan(before, n, func(m *Message) bool {
		return m.GroupID == 0 &&
			((m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a))
	}), nil
}

func (db *memDB) ListGroup(_ context.Context, group, before int64, n int) ([]Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.scan(before, n, func(m *Message) bool { return m.GroupID == group }), nil
}

func (db *memDB) markRead(match func(*Message) bool) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	var n int64
	for _, m := range db.byID {
		if !m.IsRead && match(m) {
			m.IsRead = true
			n++
		}
	}
	return n
}

func (db *memDB) MarkDirectRead(_ context.Context, reader, peer int64) (int64, error) {
	return db.markRead(func(m *Message) bool {
		return m.GroupID == 0 && m.SenderID == peer && m.ReceiverID == reader
	}), nil
}

func (db *memDB) MarkGroupRead(_ context.Context, reader, group int64) (int64, error) {
	return db.markRead(func(m *Message) bool {
		return m.GroupID == group && m.SenderID != reader
	}), nil
}

func (db *memDB) UnreadByPeer(_ context.Context, user int64) (map[int64]int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[int64]int64)
	for _, m := range db.byID {
		if m.GroupID == 0 && m.ReceiverID == user && !m.IsRead {
			out[m.SenderID]++
		}
	}
	return out, nil
}

func (db *memDB) count(match func(*Message) bool) int64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var n int64
	for _, m := range db.byID {
		if !m.IsRead && match(m) {
			n++
		}
	}
	return n
}

func (db *memDB) UnreadFrom(_ context.Context, user, peer int64) (int64, error) {
	return db.count(func(m *Message) bool {
		return m.GroupID == 0 && m.SenderID == peer && m.ReceiverID == user
	}), nil
}

func (db *memDB) UnreadGroup(_ context.Context, user, group int64) (int64, error) {
	return db.count(func(m *Message) bool {
		return m.GroupID == group && m.SenderID != user
	}), nil
}

func (db *memDB) Recall(_ context.Context, id, sender int64, at time.Time) (Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.byID[id]
	if !ok || m.SenderID != sender || m.GroupID != 0 {
		return Message{}, errs.ErrNotFound.WrapMsg("message not found", "id", id)
	}
	m.MsgType = MsgRecalled
	m.Content = RecalledContent
	m.UpdatedAt = at
	return *m, nil
}
