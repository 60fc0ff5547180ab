package message

import (
	"context"
	"time"
)

// DB 消息持久化：生产用 Postgres（db_pg.go），开发与测试用内存（db_mem.go）
type DB interface {
	// Insert 写入并回填 ID/CreatedAt/UpdatedAt
	Insert(ctx context.Context, m *Message) error

	// ListDirect/ListGroup 按 id 倒序，before>0 时只取 id<before，最多 n 条
	ListDirect(ctx context.Context, a, b, before int64, n int) ([]Message, error)
	ListGroup(ctx context.Context, group, before int64, n int) ([]Message, error)

	// MarkDirectRead 把 peer 发给 reader 的未读置为已读，返回条数
	MarkDirectRead(ctx context.Context, reader, peer int64) (int64, error)
	// MarkGroupRead 群消息只有一个共享的已读标记，reader 自己发的不算
	MarkGroupRead(ctx context.Context, reader, group int64) (int64, error)

	UnreadByPeer(ctx context.Context, user int64) (map[int64]int64, error)
	UnreadFrom(ctx context.Context, user, peer int64) (int64, error)
	UnreadGroup(ctx context.Context, user, group int64) (int64, error)

	// Recall 仅当 sender 是发送者时改写为撤回；否则 NotFound
	Recall(ctx context.Context, id, sender int64, at time.Time) (Message, error)
}
