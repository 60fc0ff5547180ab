package chat

import (
	"strings"
	"time"

	"PPSignal/tools/decode"
	"PPSignal/tools/errs"
)

// H 通知数据
type H = map[string]any

// Frame 上行文本信令，字段按类型取用；ID 兼容数字和数字字符串
type Frame struct {
	Type      string `json:"type"`
	Timestamp any    `json:"timestamp"`

	ToUserID   int64 `json:"to_user_id"`
	CallerID   int64 `json:"caller_id"`
	ReceiverID int64 `json:"receiver_id"`

	CallerName     string `json:"caller_name"`
	CallerAvatar   string `json:"caller_avatar"`
	ReceiverName   string `json:"receiver_name"`
	ReceiverAvatar string `json:"receiver_avatar"`

	Raw map[string]any `json:"-"`
}

// ParseFrame 解析文本帧，失败返回 ProtocolMalformed
func ParseFrame(data []byte) (*Frame, error) {
	f, raw, err := decode.DecodeJSON[Frame](data)
	if err != nil {
		return nil, errs.ErrProtocolMalformed.WrapMsg(err.Error())
	}
	f.Type = strings.TrimSpace(f.Type)
	if f.Type == "" {
		return nil, errs.ErrProtocolMalformed.WrapMsg("missing frame type")
	}
	f.Raw = raw
	return f, nil
}

// ===== 通知构造 =====

func Connected(user int64, connID string) Notification {
	return Notification{Type: TypeConnected, Data: H{"user_id": user, "conn_id": connID, "message": "connected"}}
}

func OnlineUsers(ids []int64) Notification {
	if ids == nil {
		ids = []int64{}
	}
	return Notification{Type: TypeOnlineUsers, Data: H{"user_ids": ids}}
}

func UserStatus(user int64, status string, lastSeen *time.Time) Notification {
	d := H{"user_id": user, "status": status}
	if lastSeen != nil {
		d["last_seen"] = lastSeen.UTC().Format(time.RFC3339)
	}
	return Notification{Type: TypeUserStatus, Data: d}
}

func Pong(ts any) Notification {
	return Notification{Type: TypePong, Data: H{"timestamp": ts}}
}

func CallIncoming(caller int64, name, avatar string) Notification {
	return Notification{Type: TypeCallIncoming, Data: H{"caller_id": caller, "caller_name": name, "caller_avatar": avatar}}
}

// CallConnected name/avatar 为空时只带 peer_id
func CallConnected(peer int64, name, avatar string) Notification {
	d := H{"peer_id": peer}
	if name != "" {
		d["peer_name"] = name
	}
	if avatar != "" {
		d["peer_avatar"] = avatar
	}
	return Notification{Type: TypeCallConnected, Data: d}
}

func callReason(typ, reason string) Notification {
	return Notification{Type: typ, Data: H{"reason": reason}}
}

func CallFailed(reason string) Notification    { return callReason(TypeCallFailed, reason) }
func CallBusy(reason string) Notification      { return callReason(TypeCallBusy, reason) }
func CallRejected(reason string) Notification  { return callReason(TypeCallRejected, reason) }
func CallCancelled(reason string) Notification { return callReason(TypeCallCancelled, reason) }
func CallEnded(reason string) Notification     { return callReason(TypeCallEnded, reason) }

// 通话原因文案
const (
	ReasonCalleeOffline    = "offline"
	ReasonSelfInCall       = "you are in a call"
	ReasonPeerBusy         = "peer is in a call"
	ReasonCallerOffline    = "caller offline"
	ReasonCallerBusy       = "caller is in another call"
	ReasonDeclined         = "declined"
	ReasonCancelledByPeer  = "cancelled"
	ReasonHangup           = "hangup"
	ReasonPeerDisconnected = "peer disconnected"
	ReasonRingTimeout      = "timeout"
	ReasonNoAnswer         = "no answer"
	ReasonInvalidTarget    = "invalid target"
)
