package message

import (
	"strconv"
	"time"
)

// MsgType 1-文本 2-图片 3-文件 4-撤回
type MsgType int16

const (
	MsgText     MsgType = 1
	MsgImage    MsgType = 2
	MsgFile     MsgType = 3
	MsgRecalled MsgType = 4
)

const RecalledContent = "[message recalled]"

func (t MsgType) Valid() bool {
	return t >= MsgText && t <= MsgFile
}

// Message 私聊与群聊共用；私聊 GroupID 为 0，群聊 ReceiverID 为 0
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id,omitempty"`
	GroupID    int64     `json:"group_id,omitempty"`
	Content    string    `json:"content"`
	MsgType    MsgType   `json:"msg_type"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Page 按 id 倒序的一页；LastID 为空表示本页没有数据
type Page struct {
	Items   []Message `json:"items"`
	HasMore bool      `json:"has_more"`
	LastID  *int64    `json:"last_id"`
}

// Target 会话对象：私聊对端或群
type Target struct {
	PeerID  int64
	GroupID int64
}

func Direct(peer int64) Target { return Target{PeerID: peer} }
func Group(group int64) Target { return Target{GroupID: group} }
func (t Target) IsGroup() bool { return t.GroupID > 0 }

// ConvKey 会话键，消息事件按它分区
func ConvKey(user int64, t Target) string {
	if t.IsGroup() {
		return "g:" + strconv.FormatInt(t.GroupID, 10)
	}
	a, b := user, t.PeerID
	if a > b {
		a, b = b, a
	}
	return "d:" + strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}
