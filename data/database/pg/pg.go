package pg

import (
	"context"
	"time"

	"PPSignal/tools/errs"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Dialect postgres 占位符 $1,$2...
var Dialect = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// DB pgxpool.Pool / pgx.Tx 的公共子集
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Config struct {
	DSN         string        `mapstructure:"dsn"`
	MaxConns    int32         `mapstructure:"max_conns"`
	ConnTimeout time.Duration `mapstructure:"conn_timeout"`
}

// Connect 建连接池并 ping 一次
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("postgres dsn is required")
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.WrapMsg(err, "parse postgres dsn")
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	timeout := cfg.ConnTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(cctx, pc)
	if err != nil {
		return nil, errs.WrapMsg(err, "connect postgres")
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "ping postgres")
	}
	return pool, nil
}

// Exec 执行 squirrel 构造的语句
func Exec(ctx context.Context, db DB, q sq.Sqlizer) (int64, error) {
	text, args, err := q.ToSql()
	if err != nil {
		return 0, errs.WrapMsg(err, "build sql")
	}
	tag, err := db.Exec(ctx, text, args...)
	if err != nil {
		return 0, errs.WrapMsg(err, "exec", "sql", text)
	}
	return tag.RowsAffected(), nil
}

// Query 执行 squirrel 构造的查询
func Query(ctx context.Context, db DB, q sq.Sqlizer) (pgx.Rows, error) {
	text, args, err := q.ToSql()
	if err != nil {
		return nil, errs.WrapMsg(err, "build sql")
	}
	rows, err := db.Query(ctx, text, args...)
	if err != nil {
		return nil, errs.WrapMsg(err, "query", "sql", text)
	}
	return rows, nil
}

// CollectInt64 读取单列 bigint 结果
func CollectInt64(rows pgx.Rows) ([]int64, error) {
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, errs.WrapMsg(err, "scan ids")
	}
	return ids, nil
}
