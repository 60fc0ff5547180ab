package directory

import (
	"context"
	"time"
)

// Presence 用户在线状态；在线时 LastSeen 为空
type Presence struct {
	UserID   int64      `json:"user_id"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Store 用户、联系人、群成员目录
type Store interface {
	// Contacts 返回 user 的联系人（user_id = user 的行）
	Contacts(ctx context.Context, user int64) ([]int64, error)
	SetPresence(ctx context.Context, user int64, status string, lastSeen *time.Time) error
	Presence(ctx context.Context, user int64) (Presence, error)

	IsMember(ctx context.Context, group, user int64) (bool, error)
	GroupMembers(ctx context.Context, group int64) ([]int64, error)
}
