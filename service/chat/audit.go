package chat

import (
	"context"
	"time"
)

// 会话审计事件
const (
	EventRegister   = "register"
	EventReplace    = "replace"
	EventDisconnect = "disconnect"
	EventEvict      = "evict"
)

type SessionEvent struct {
	UserID int64
	ConnID string
	Event  string
	Reason string
	Remote string
	At     time.Time
}

// SessionAuditor 实现方不能阻塞调用方
type SessionAuditor interface {
	Record(ctx context.Context, e SessionEvent)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, SessionEvent) {}

func sessionEvent(s *Session, event, reason string) SessionEvent {
	e := SessionEvent{UserID: s.UserID, ConnID: s.ConnID, Event: event, Reason: reason, At: time.Now()}
	if s.Channel != nil {
		e.Remote = s.Channel.Remote()
	}
	return e
}
