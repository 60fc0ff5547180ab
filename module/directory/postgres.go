package directory

import (
	"context"
	"errors"
	"time"

	"PPSignal/data/database/pg"
	"PPSignal/tools/errs"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

// Schema 目录相关表
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id         BIGSERIAL PRIMARY KEY,
	username   VARCHAR(32) UNIQUE NOT NULL,
	status     VARCHAR(16) NOT NULL DEFAULT 'offline',
	last_seen  TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS contacts (
	id              BIGSERIAL PRIMARY KEY,
	user_id         BIGINT NOT NULL REFERENCES users(id),
	contact_user_id BIGINT NOT NULL REFERENCES users(id),
	is_favorite     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, contact_user_id)
);
CREATE TABLE IF NOT EXISTS group_members (
	id        BIGSERIAL PRIMARY KEY,
	group_id  BIGINT NOT NULL,
	user_id   BIGINT NOT NULL,
	role      SMALLINT NOT NULL DEFAULT 3,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (group_id, user_id)
);
CREATE INDEX IF NOT EXISTS group_members_user_idx ON group_members (user_id);
`

// PostgresStore 基于 pgx 的目录
type PostgresStore struct {
	db pg.DB
}

func NewPostgresStore(db pg.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return errs.WrapMsg(err, "create directory schema")
	}
	return nil
}

func (s *PostgresStore) Contacts(ctx context.Context, user int64) ([]int64, error) {
	rows, err := pg.Query(ctx, s.db, pg.Dialect.
		Select("contact_user_id").From("contacts").
		Where(sq.Eq{"user_id": user}).OrderBy("contact_user_id"))
	if err != nil {
		return nil, err
	}
	return pg.CollectInt64(rows)
}

func (s *PostgresStore) SetPresence(ctx context.Context, user int64, status string, lastSeen *time.Time) error {
	n, err := pg.Exec(ctx, s.db, pg.Dialect.
		Update("users").
		Set("status", status).
		Set("last_seen", lastSeen).
		Where(sq.Eq{"id": user}))
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound.WrapMsg("user not found", "user", user)
	}
	return nil
}

func (s *PostgresStore) Presence(ctx context.Context, user int64) (Presence, error) {
	text, args, err := pg.Dialect.Select("id", "status", "last_seen").From("users").
		Where(sq.Eq{"id": user}).ToSql()
	if err != nil {
		return Presence{}, errs.WrapMsg(err, "build sql")
	}
	var p Presence
	err = s.db.QueryRow(ctx, text, args...).Scan(&p.UserID, &p.Status, &p.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return Presence{}, errs.ErrNotFound.WrapMsg("user not found", "user", user)
	}
	if err != nil {
		return Presence{}, errs.WrapMsg(err, "load presence", "user", user)
	}
	return p, nil
}

func (s *PostgresStore) IsMember(ctx context.Context, group, user int64) (bool, error) {
	text, args, err := pg.Dialect.Select("1").Prefix("SELECT EXISTS (").
		From("group_members").Where(sq.Eq{"group_id": group, "user_id": user}).
		Suffix(")").ToSql()
	if err != nil {
		return false, errs.WrapMsg(err, "build sql")
	}
	var ok bool
	if err := s.db.QueryRow(ctx, text, args...).Scan(&ok); err != nil {
		return false, errs.WrapMsg(err, "check membership", "group", group, "user", user)
	}
	return ok, nil
}

func (s *PostgresStore) GroupMembers(ctx context.Context, group int64) ([]int64, error) {
	rows, err := pg.Query(ctx, s.db, pg.Dialect.
		Select("user_id").From("group_members").
		Where(sq.Eq{"group_id": group}).OrderBy("user_id"))
	if err != nil {
		return nil, err
	}
	return pg.CollectInt64(rows)
}
