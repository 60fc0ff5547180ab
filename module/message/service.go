package message

import (
	"context"
	"strings"
	"time"

	"PPSignal/logger"
	"PPSignal/service/chat"
	"PPSignal/tools/errs"

	"go.uber.org/zap"
)

// Notifier 在线推送，由 chat.Router 实现
type Notifier interface {
	DeliverDirect(ctx context.Context, user int64, n chat.Notification) bool
	FanOutKeyed(ctx context.Context, key int64, users []int64, n chat.Notification)
}

// Members 群成员关系，由 directory.Store 实现
type Members interface {
	IsMember(ctx context.Context, group, user int64) (bool, error)
	GroupMembers(ctx context.Context, group int64) ([]int64, error)
}

const (
	EventCreated  = "created"
	EventRead     = "read"
	EventRecalled = "recalled"
)

// Event 已提交的变更，发布到消息事件流
type Event struct {
	Kind      string    `json:"kind"`
	Conv      string    `json:"conv"`
	MessageID int64     `json:"message_id,omitempty"`
	ActorID   int64     `json:"actor_id"`
	Count     int64     `json:"count,omitempty"`
	At        time.Time `json:"at"`
}

type EventPublisher interface {
	PublishMessageEvent(ctx context.Context, e Event) error
}

type Option func(*Service)

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service 历史、已读、撤回与发送；推送总在提交之后
type Service struct {
	db      DB
	members Members
	notify  Notifier
	events  EventPublisher
	now     func() time.Time
}

func NewService(db DB, members Members, notify Notifier, opts ...Option) *Service {
	s := &Service{db: db, members: members, notify: notify, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) requireMember(ctx context.Context, group, user int64) error {
	ok, err := s.members.IsMember(ctx, group, user)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrPermissionDenied.WrapMsg("not a group member", "group", group, "user", user)
	}
	return nil
}

// GetPage cursor 为上一页最后一条的 id；多取一条判断 has_more
func (s *Service) GetPage(ctx context.Context, requester int64, t Target, cursor *int64, limit int) (Page, error) {
	limit = clampLimit(limit)
	var before int64
	if cursor != nil {
		if *cursor <= 0 {
			return Page{}, errs.ErrInvalidArgument.WrapMsg("bad cursor", "last_id", *cursor)
		}
		before = *cursor
	}

	var (
		rows []Message
		err  error
	)
	if t.IsGroup() {
		if err = s.requireMember(ctx, t.GroupID, requester); err != nil {
			return Page{}, err
		}
		rows, err = s.db.ListGroup(ctx, t.GroupID, before, limit+1)
	} else {
		if t.PeerID <= 0 {
			return Page{}, errs.ErrInvalidArgument.WrapMsg("bad peer", "peer", t.PeerID)
		}
		rows, err = s.db.ListDirect(ctx, requester, t.PeerID, before, limit+1)
	}
	if err != nil {
		return Page{}, err
	}

	page := Page{Items: rows}
	if len(rows) > limit {
		page.HasMore = true
		page.Items = rows[:limit]
	}
	if n := len(page.Items); n > 0 {
		last := page.Items[n-1].ID
		page.LastID = &last
	}
	return page, nil
}

// MarkRead 先提交再发回执；回执失败不回滚
func (s *Service) MarkRead(ctx context.Context, requester int64, t Target) (int64, error) {
	var (
		n   int64
		err error
	)
	if t.IsGroup() {
		if err = s.requireMember(ctx, t.GroupID, requester); err != nil {
			return 0, err
		}
		n, err = s.db.MarkGroupRead(ctx, requester, t.GroupID)
	} else {
		n, err = s.db.MarkDirectRead(ctx, requester, t.PeerID)
	}
	if err != nil || n == 0 {
		return n, err
	}

	data := chat.H{"reader_id": requester, "count": n}
	receipt := chat.Notification{Type: chat.TypeReadReceipt, Data: data}
	if t.IsGroup() {
		data["group_id"] = t.GroupID
		s.fanOutGroup(ctx, t.GroupID, requester, receipt)
	} else {
		s.notify.DeliverDirect(ctx, t.PeerID, receipt)
	}
	s.publish(ctx, Event{Kind: EventRead, Conv: ConvKey(requester, t), ActorID: requester, Count: n})
	return n, nil
}

// UnreadSummary 总数由分组结果求和，两者天然一致
func (s *Service) UnreadSummary(ctx context.Context, user int64) (int64, map[int64]int64, error) {
	by, err := s.db.UnreadByPeer(ctx, user)
	if err != nil {
		return 0, nil, err
	}
	var total int64
	for _, n := range by {
		total += n
	}
	return total, by, nil
}

func (s *Service) UnreadTotal(ctx context.Context, user int64) (int64, error) {
	total, _, err := s.UnreadSummary(ctx, user)
	return total, err
}

func (s *Service) UnreadByPeer(ctx context.Context, user int64) (map[int64]int64, error) {
	return s.db.UnreadByPeer(ctx, user)
}

func (s *Service) UnreadFrom(ctx context.Context, user, peer int64) (int64, error) {
	return s.db.UnreadFrom(ctx, user, peer)
}

// UnreadGroup 非成员返回 0
func (s *Service) UnreadGroup(ctx context.Context, user, group int64) (int64, error) {
	ok, err := s.members.IsMember(ctx, group, user)
	if err != nil || !ok {
		return 0, err
	}
	return s.db.UnreadGroup(ctx, user, group)
}

// Recall 仅发送者可撤回；不存在和无权限都返回 NotFound
func (s *Service) Recall(ctx context.Context, id, requester int64) (Message, error) {
	m, err := s.db.Recall(ctx, id, requester, s.now())
	if err != nil {
		if errs.ErrPermissionDenied.Is(err) {
			return Message{}, errs.ErrNotFound.WrapMsg("message not found", "id", id)
		}
		return Message{}, err
	}
	s.notify.DeliverDirect(ctx, m.ReceiverID, chat.Notification{
		Type: chat.TypeMessageRecalled,
		Data: chat.H{"message_id": m.ID, "sender_id": m.SenderID},
	})
	s.publish(ctx, Event{Kind: EventRecalled, Conv: ConvKey(requester, Direct(m.ReceiverID)), MessageID: m.ID, ActorID: requester})
	return m, nil
}

func validContent(content string, typ MsgType) error {
	if strings.TrimSpace(content) == "" {
		return errs.ErrInvalidArgument.WrapMsg("empty content")
	}
	if !typ.Valid() {
		return errs.ErrInvalidArgument.WrapMsg("bad msg_type", "msg_type", typ)
	}
	return nil
}

// SendDirect 持久化后推送 new_message；对方离线时只落库
func (s *Service) SendDirect(ctx context.Context, sender, receiver int64, content string, typ MsgType) (Message, error) {
	if typ == 0 {
		typ = MsgText
	}
	if receiver <= 0 || receiver == sender {
		return Message{}, errs.ErrInvalidArgument.WrapMsg("bad receiver", "receiver", receiver)
	}
	if err := validContent(content, typ); err != nil {
		return Message{}, err
	}
	m := Message{SenderID: sender, ReceiverID: receiver, Content: content, MsgType: typ}
	if err := s.db.Insert(ctx, &m); err != nil {
		return Message{}, err
	}
	delivered := s.notify.DeliverDirect(ctx, receiver, chat.Notification{Type: chat.TypeNewMessage, Data: m})
	logger.Debug("[message] direct stored", zap.Int64("id", m.ID), zap.Int64("to", receiver), zap.Bool("pushed", delivered))
	s.publish(ctx, Event{Kind: EventCreated, Conv: ConvKey(sender, Direct(receiver)), MessageID: m.ID, ActorID: sender})
	return m, nil
}

// SendGroup 校验成员后持久化，再推送给除发送者外的成员
func (s *Service) SendGroup(ctx context.Context, sender, group int64, content string, typ MsgType) (Message, error) {
	if typ == 0 {
		typ = MsgText
	}
	if err := validContent(content, typ); err != nil {
		return Message{}, err
	}
	if err := s.requireMember(ctx, group, sender); err != nil {
		return Message{}, err
	}
	m := Message{SenderID: sender, GroupID: group, Content: content, MsgType: typ}
	if err := s.db.Insert(ctx, &m); err != nil {
		return Message{}, err
	}
	s.fanOutGroup(ctx, group, sender, chat.Notification{Type: chat.TypeNewGroupMessage, Data: m})
	s.publish(ctx, Event{Kind: EventCreated, Conv: ConvKey(sender, Group(group)), MessageID: m.ID, ActorID: sender})
	return m, nil
}

func (s *Service) fanOutGroup(ctx context.Context, group, except int64, n chat.Notification) {
	members, err := s.members.GroupMembers(ctx, group)
	if err != nil {
		logger.Warn("[message] load group members failed", zap.Int64("group", group), zap.Error(err))
		return
	}
	to := make([]int64, 0, len(members))
	for _, id := range members {
		if id != except {
			to = append(to, id)
		}
	}
	s.notify.FanOutKeyed(ctx, group, to, n)
}

func (s *Service) publish(ctx context.Context, e Event) {
	if s.events == nil {
		return
	}
	e.At = s.now()
	if err := s.events.PublishMessageEvent(ctx, e); err != nil {
		logger.Warn("[message] publish event failed", zap.String("kind", e.Kind), zap.String("conv", e.Conv), zap.Error(err))
	}
}
