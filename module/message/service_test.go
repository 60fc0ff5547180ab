package message

import (
	"context"
	"sync"
	"testing"
	"time"

	"PPSignal/module/directory"
	"PPSignal/service/chat"
	"PPSignal/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pushed struct {
	to []int64
	n  chat.Notification
}

type fakeNotifier struct {
	mu     sync.Mutex
	online map[int64]bool
	sent   []pushed
}

func newFakeNotifier(online ...int64) *fakeNotifier {
	f := &fakeNotifier{online: make(map[int64]bool)}
	for _, id := range online {
		f.online[id] = true
	}
	return f
}

func (f *fakeNotifier) DeliverDirect(_ context.Context, user int64, n chat.Notification) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[user] {
		return false
	}
	f.sent = append(f.sent, pushed{to: []int64{user}, n: n})
	return true
}

func (f *fakeNotifier) FanOutKeyed(_ context.Context, _ int64, users []int64, n chat.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, pushed{to: users, n: n})
}

func (f *fakeNotifier) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, p := range f.sent {
		out = append(out, p.n.Type)
	}
	return out
}

type fakePublisher struct {
	events []Event
}

func (p *fakePublisher) PublishMessageEvent(_ context.Context, e Event) error {
	p.events = append(p.events, e)
	return nil
}

func newTestService(online ...int64) (*Service, *directory.MemoryStore, *fakeNotifier, *fakePublisher) {
	dir := directory.NewMemoryStore()
	n := newFakeNotifier(online...)
	pub := &fakePublisher{}
	svc := NewService(NewMemDB(), dir, n, WithPublisher(pub))
	return svc, dir, n, pub
}

func TestPaginationVisitsEveryMessageOnce(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	for i := 0; i < 47; i++ {
		from, to := int64(1), int64(2)
		if i%3 == 0 {
			from, to = 2, 1
		}
		_, err := svc.SendDirect(ctx, from, to, "hi", MsgText)
		require.NoError(t, err)
	}
	// 其他会话的消息不应出现
	_, err := svc.SendDirect(ctx, 1, 3, "other", MsgText)
	require.NoError(t, err)

	seen := map[int64]bool{}
	var cursor *int64
	prev := int64(1 << 62)
	pages := 0
	for {
		page, err := svc.GetPage(ctx, 1, Direct(2), cursor, 10)
		require.NoError(t, err)
		pages++
		for _, m := range page.Items {
			assert.Less(t, m.ID, prev)
			prev = m.ID
			assert.False(t, seen[m.ID])
			seen[m.ID] = true
			assert.NotEqual(t, int64(3), m.ReceiverID)
		}
		if !page.HasMore {
			break
		}
		require.NotNil(t, page.LastID)
		cursor = page.LastID
	}
	assert.Len(t, seen, 47)
	assert.Equal(t, 5, pages)
}

func TestPageEmptyAndLimits(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	page, err := svc.GetPage(ctx, 1, Direct(2), nil, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
	assert.Nil(t, page.LastID)

	for i := 0; i < DefaultPageSize+1; i++ {
		_, err := svc.SendDirect(ctx, 1, 2, "x", 0)
		require.NoError(t, err)
	}
	page, err = svc.GetPage(ctx, 2, Direct(1), nil, 0)
	require.NoError(t, err)
	assert.Len(t, page.Items, DefaultPageSize)
	assert.True(t, page.HasMore)

	page, err = svc.GetPage(ctx, 2, Direct(1), nil, 1000)
	require.NoError(t, err)
	assert.Len(t, page.Items, DefaultPageSize+1)
	assert.False(t, page.HasMore)

	bad := int64(-1)
	_, err = svc.GetPage(ctx, 2, Direct(1), &bad, 10)
	assert.True(t, errs.ErrInvalidArgument.Is(err))
}

func TestMarkReadIdempotentAndReceipt(t *testing.T) {
	svc, _, n, pub := newTestService(1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.SendDirect(ctx, 1, 2, "hi", MsgText)
		require.NoError(t, err)
	}

	count, err := svc.MarkRead(ctx, 2, Direct(1))
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = svc.MarkRead(ctx, 2, Direct(1))
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.Equal(t, []string{chat.TypeReadReceipt}, n.types(), "one receipt, only when something changed")
	assert.Equal(t, chat.H{"reader_id": int64(2), "count": int64(3)}, n.sent[0].n.Data)

	kinds := make([]string, 0, len(pub.events))
	for _, e := range pub.events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []string{EventCreated, EventCreated, EventCreated, EventRead}, kinds)
	assert.Equal(t, "d:1:2", pub.events[3].Conv)
}

func TestUnreadTotalMatchesByPeer(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	for peer, k := range map[int64]int{2: 3, 3: 1, 4: 5} {
		for i := 0; i < k; i++ {
			_, err := svc.SendDirect(ctx, peer, 1, "m", MsgText)
			require.NoError(t, err)
		}
	}
	_, err := svc.MarkRead(ctx, 1, Direct(3))
	require.NoError(t, err)

	total, by, err := svc.UnreadSummary(ctx, 1)
	require.NoError(t, err)
	var sum int64
	for _, v := range by {
		sum += v
	}
	assert.Equal(t, sum, total)
	assert.Equal(t, int64(8), total)
	assert.Equal(t, map[int64]int64{2: 3, 4: 5}, by)

	from, err := svc.UnreadFrom(ctx, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), from)
}

func TestRecall(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	dir := directory.NewMemoryStore()
	n := newFakeNotifier(2)
	svc := NewService(NewMemDB(), dir, n, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	m, err := svc.SendDirect(ctx, 1, 2, "secret", MsgText)
	require.NoError(t, err)

	_, err = svc.Recall(ctx, m.ID, 2)
	assert.True(t, errs.ErrNotFound.Is(err), "non-owner looks like not found")
	_, err = svc.Recall(ctx, 9999, 1)
	assert.True(t, errs.ErrNotFound.Is(err))

	got, err := svc.Recall(ctx, m.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, MsgRecalled, got.MsgType)
	assert.Equal(t, RecalledContent, got.Content)
	assert.Equal(t, now, got.UpdatedAt)

	page, err := svc.GetPage(ctx, 2, Direct(1), nil, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, MsgRecalled, page.Items[0].MsgType)

	assert.Equal(t, []string{chat.TypeNewMessage, chat.TypeMessageRecalled}, n.types())
}

func TestSendToOfflineReceiverStillStores(t *testing.T) {
	svc, _, n, _ := newTestService()
	ctx := context.Background()

	m, err := svc.SendDirect(ctx, 1, 2, "later", MsgText)
	require.NoError(t, err)
	assert.NotZero(t, m.ID)
	assert.Empty(t, n.types())

	unread, err := svc.UnreadFrom(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	_, err = svc.SendDirect(ctx, 1, 1, "self", MsgText)
	assert.True(t, errs.ErrInvalidArgument.Is(err))
	_, err = svc.SendDirect(ctx, 1, 2, "   ", MsgText)
	assert.True(t, errs.ErrInvalidArgument.Is(err))
	_, err = svc.SendDirect(ctx, 1, 2, "x", MsgRecalled)
	assert.True(t, errs.ErrInvalidArgument.Is(err))
}

func TestGroupMessages(t *testing.T) {
	svc, dir, n, _ := newTestService()
	ctx := context.Background()
	for _, u := range []int64{1, 2, 3} {
		dir.AddMember(10, u)
	}

	_, err := svc.SendGroup(ctx, 9, 10, "intruder", MsgText)
	assert.True(t, errs.ErrPermissionDenied.Is(err))

	_, err = svc.SendGroup(ctx, 1, 10, "hello", MsgText)
	require.NoError(t, err)
	_, err = svc.SendGroup(ctx, 2, 10, "hey", MsgText)
	require.NoError(t, err)

	require.Len(t, n.sent, 2)
	assert.Equal(t, []int64{2, 3}, n.sent[0].to)
	assert.Equal(t, chat.TypeNewGroupMessage, n.sent[0].n.Type)

	_, err = svc.GetPage(ctx, 9, Group(10), nil, 10)
	assert.True(t, errs.ErrPermissionDenied.Is(err))
	page, err := svc.GetPage(ctx, 3, Group(10), nil, 10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	unread, err := svc.UnreadGroup(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread, "own messages are not unread")
	unread, err = svc.UnreadGroup(ctx, 9, 10)
	require.NoError(t, err)
	assert.Zero(t, unread)

	_, err = svc.MarkRead(ctx, 9, Group(10))
	assert.True(t, errs.ErrPermissionDenied.Is(err))

	count, err := svc.MarkRead(ctx, 3, Group(10))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	last := n.sent[len(n.sent)-1]
	assert.Equal(t, chat.TypeReadReceipt, last.n.Type)
	assert.Equal(t, []int64{1, 2}, last.to)
	assert.Equal(t, int64(10), last.n.Data.(chat.H)["group_id"])
}
