package chat

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeChannel struct {
	mu       sync.Mutex
	name     string
	sent     []Notification
	binary   [][]byte
	closed   bool
	failSend bool
	probeErr error
	probes   int
	block    chan struct{}
}

func newFakeChannel(name string) *fakeChannel { return &fakeChannel{name: name} }

func (c *fakeChannel) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failSend {
		return errors.New("send failed")
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *fakeChannel) SendBinary(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failSend {
		return errors.New("send failed")
	}
	c.binary = append(c.binary, p)
	return nil
}

func (c *fakeChannel) Probe(ctx context.Context) error {
	c.mu.Lock()
	c.probes++
	block, err := c.block, c.probeErr
	c.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) Remote() string { return c.name }

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, n := range c.sent {
		out = append(out, n.Type)
	}
	return out
}

func (c *fakeChannel) last() (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return Notification{}, false
	}
	return c.sent[len(c.sent)-1], true
}

func (c *fakeChannel) notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.sent...)
}

type presenceWrite struct {
	user     int64
	status   string
	lastSeen *time.Time
}

type fakeDirectory struct {
	mu       sync.Mutex
	contacts map[int64][]int64
	writes   []presenceWrite
	failSet  bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{contacts: make(map[int64][]int64)}
}

func (d *fakeDirectory) befriend(a, b int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[a] = append(d.contacts[a], b)
	d.contacts[b] = append(d.contacts[b], a)
}

func (d *fakeDirectory) Contacts(_ context.Context, user int64) ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.contacts[user]...), nil
}

func (d *fakeDirectory) SetPresence(_ context.Context, user int64, status string, lastSeen *time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failSet {
		return errors.New("db down")
	}
	d.writes = append(d.writes, presenceWrite{user: user, status: status, lastSeen: lastSeen})
	return nil
}

func (d *fakeDirectory) lastWrite() presenceWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes[len(d.writes)-1]
}

type fakeMirror struct {
	mu      sync.Mutex
	online  map[int64]string
	touched map[int64]int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{online: make(map[int64]string), touched: make(map[int64]int)}
}

func (m *fakeMirror) Online(_ context.Context, user int64, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[user] = connID
	return nil
}

func (m *fakeMirror) Offline(_ context.Context, user int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.online, user)
	return nil
}

func (m *fakeMirror) Touch(_ context.Context, user int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[user]++
	return nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []string
}

func (b *fakeBus) PublishPresence(_ context.Context, _ int64, status string, _ time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, status)
	return nil
}
