package message

import (
	"context"
	"errors"
	"time"

	"PPSignal/data/database/pg"
	"PPSignal/tools/errs"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

// Schema 私聊与群聊分表；(receiver_id, is_read) 上的索引服务未读统计
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
	id          BIGSERIAL PRIMARY KEY,
	sender_id   BIGINT NOT NULL,
	receiver_id BIGINT NOT NULL,
	content     TEXT NOT NULL,
	msg_type    SMALLINT NOT NULL DEFAULT 1,
	is_read     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (sender_id, receiver_id, id DESC);
CREATE INDEX IF NOT EXISTS messages_unread_idx ON messages (receiver_id, is_read);
CREATE TABLE IF NOT EXISTS group_messages (
	id         BIGSERIAL PRIMARY KEY,
	group_id   BIGINT NOT NULL,
	sender_id  BIGINT NOT NULL,
	content    TEXT NOT NULL,
	msg_type   SMALLINT NOT NULL DEFAULT 1,
	is_read    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS group_messages_group_idx ON group_messages (group_id, id DESC);
`

const (
	tableDirect = "messages"
	tableGroup  = "group_messages"
)

var (
	directCols = []string{"id", "sender_id", "receiver_id", "content", "msg_type", "is_read", "created_at", "updated_at"}
	groupCols  = []string{"id", "sender_id", "group_id", "content", "msg_type", "is_read", "created_at", "updated_at"}
)

type pgDB struct {
	db pg.DB
}

func NewPgDB(db pg.DB) DB {
	return &pgDB{db: db}
}

// EnsureSchema 建表，启动时调用一次
func EnsureSchema(ctx context.Context, db pg.DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return errs.WrapMsg(err, "create message schema")
	}
	return nil
}

func scanDirect(row pgx.Row) (Message, error) {
	var m Message
	var typ int16
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &typ, &m.IsRead, &m.CreatedAt, &m.UpdatedAt)
	m.MsgType = MsgType(typ)
	return m, err
}

func scanGroup(row pgx.Row) (Message, error) {
	var m Message
	var typ int16
	err := row.Scan(&m.ID, &m.SenderID, &m.GroupID, &m.Content, &typ, &m.IsRead, &m.CreatedAt, &m.UpdatedAt)
	m.MsgType = MsgType(typ)
	return m, err
}

func (p *pgDB) queryRow(ctx context.Context, q sq.Sqlizer) (pgx.Row, error) {
	text, args, err := q.ToSql()
	if err != nil {
		return nil, errs.WrapMsg(err, "build sql")
	}
	return p.db.QueryRow(ctx, text, args...), nil
}

func (p *pgDB) Insert(ctx context.Context, m *Message) error {
	var q sq.InsertBuilder
	if m.GroupID > 0 {
		q = pg.Dialect.Insert(tableGroup).
			Columns("group_id", "sender_id", "content", "msg_type").
			Values(m.GroupID, m.SenderID, m.Content, int16(m.MsgType))
	} else {
		q = pg.Dialect.Insert(tableDirect).
			Columns("sender_id", "receiver_id", "content", "msg_type").
			Values(m.SenderID, m.ReceiverID, m.Content, int16(m.MsgType))
	}
	row, err := p.queryRow(ctx, q.Suffix("RETURNING id, created_at, updated_at"))
	if err != nil {
		return err
	}
	if err := row.Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return errs.WrapMsg(err, "insert message")
	}
	return nil
}

func (p *pgDB) list(ctx context.Context, q sq.SelectBuilder, before int64, n int, scan func(pgx.Row) (Message, error)) ([]Message, error) {
	if before > 0 {
		q = q.Where(sq.Lt{"id": before})
	}
	rows, err := pg.Query(ctx, p.db, q.OrderBy("id DESC").Limit(uint64(n)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, n)
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, errs.WrapMsg(err, "scan message")
		}
		out = append(out, m)
	}
	return out, errs.Wrap(rows.Err())
}

func (p *pgDB) ListDirect(ctx context.Context, a, b, before int64, n int) ([]Message, error) {
	q := pg.Dialect.Select(directCols...).From(tableDirect).Where(sq.Or{
		sq.Eq{"sender_id": a, "receiver_id": b},
		sq.Eq{"sender_id": b, "receiver_id": a},
	})
	return p.list(ctx, q, before, n, scanDirect)
}

func (p *pgDB) ListGroup(ctx context.Context, group, before int64, n int) ([]Message, error) {
	q := pg.Dialect.Select(groupCols...).From(tableGroup).Where(sq.Eq{"group_id": group})
	return p.list(ctx, q, before, n, scanGroup)
}

func (p *pgDB) MarkDirectRead(ctx context.Context, reader, peer int64) (int64, error) {
	return pg.Exec(ctx, p.db, pg.Dialect.Update(tableDirect).
		Set("is_read", true).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"receiver_id": reader, "sender_id": peer, "is_read": false}))
}

func (p *pgDB) MarkGroupRead(ctx context.Context, reader, group int64) (int64, error) {
	return pg.Exec(ctx, p.db, pg.Dialect.Update(tableGroup).
		Set("is_read", true).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"group_id": group, "is_read": false}).
		Where(sq.NotEq{"sender_id": reader}))
}

func (p *pgDB) UnreadByPeer(ctx context.Context, user int64) (map[int64]int64, error) {
	rows, err := pg.Query(ctx, p.db, pg.Dialect.
		Select("sender_id", "count(*)").From(tableDirect).
		Where(sq.Eq{"receiver_id": user, "is_read": false}).
		GroupBy("sender_id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]int64)
	for rows.Next() {
		var sender, n int64
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, errs.WrapMsg(err, "scan unread")
		}
		out[sender] = n
	}
	return out, errs.Wrap(rows.Err())
}

func (p *pgDB) count(ctx context.Context, q sq.SelectBuilder) (int64, error) {
	row, err := p.queryRow(ctx, q)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, errs.WrapMsg(err, "count unread")
	}
	return n, nil
}

func (p *pgDB) UnreadFrom(ctx context.Context, user, peer int64) (int64, error) {
	return p.count(ctx, pg.Dialect.Select("count(*)").From(tableDirect).
		Where(sq.Eq{"receiver_id": user, "sender_id": peer, "is_read": false}))
}

func (p *pgDB) UnreadGroup(ctx context.Context, user, group int64) (int64, error) {
	return p.count(ctx, pg.Dialect.Select("count(*)").From(tableGroup).
		Where(sq.Eq{"group_id": group, "is_read": false}).
		Where(sq.NotEq{"sender_id": user}))
}

func (p *pgDB) Recall(ctx context.Context, id, sender int64, at time.Time) (Message, error) {
	q := pg.Dialect.Update(tableDirect).
		Set("msg_type", int16(MsgRecalled)).
		Set("content", RecalledContent).
		Set("updated_at", at).
		Where(sq.Eq{"id": id, "sender_id": sender}).
		Suffix("RETURNING id, sender_id, receiver_id, content, msg_type, is_read, created_at, updated_at")
	row, err := p.queryRow(ctx, q)
	if err != nil {
		return Message{}, err
	}
	m, err := scanDirect(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// 不存在与非本人发送不作区分
		return Message{}, errs.ErrNotFound.WrapMsg("message not found", "id", id)
	}
	if err != nil {
		return Message{}, errs.WrapMsg(err, "recall message")
	}
	return m, nil
}
