package chat

import (
	"context"
	"time"
)

// 下行通知类型
const (
	TypeConnected       = "connected"
	TypeUserStatus      = "user_status"
	TypeOnlineUsers     = "online_users"
	TypeNewMessage      = "new_message"
	TypeNewGroupMessage = "new_group_message"
	TypeReadReceipt     = "read_receipt"
	TypeGroupMemberAdd  = "group_member_added"
	TypeMessageRecalled = "message_recalled"
	TypePong            = "pong"

	TypeCallIncoming  = "voice_call_incoming"
	TypeCallConnected = "voice_call_connected"
	TypeCallRejected  = "voice_call_rejected"
	TypeCallCancelled = "voice_call_cancelled"
	TypeCallEnded     = "voice_call_ended"
	TypeCallBusy      = "voice_call_busy"
	TypeCallFailed    = "voice_call_failed"
)

// 上行信令帧类型
const (
	FramePing       = "ping"
	FrameCallReq    = "voice_call_request"
	FrameCallAccept = "voice_call_accept"
	FrameCallReject = "voice_call_reject"
	FrameCallCancel = "voice_call_cancel"
	FrameCallHangup = "voice_call_hangup"
)

// Presence status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Notification 下行信封 {type, data}
type Notification struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Channel is the duplex transport behind a Session. Implementations must be
// safe for concurrent use: Send may be called from any goroutine.
type Channel interface {
	Send(n Notification) error
	SendBinary(payload []byte) error
	// Probe checks the peer is still reachable.
	Probe(ctx context.Context) error
	Close() error
	Remote() string
}

// Session 一个用户当前唯一的连接
type Session struct {
	UserID    int64
	ConnID    string
	Channel   Channel
	CreatedAt time.Time
}

// Handler 按帧类型处理上行信令
type Handler interface {
	Type() string
	Handle(ctx *Context, f *Frame) error
}

// Context 每个连接上的处理上下文
type Context struct {
	context.Context
	S       *Server
	Session *Session
}

// UserID 当前连接的用户
func (c *Context) UserID() int64 { return c.Session.UserID }

// Reply 直接回给当前连接；失败由注册表驱逐
func (c *Context) Reply(n Notification) bool {
	return c.S.Registry().SendTo(c.Session, n)
}
