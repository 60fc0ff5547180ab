package redis

import (
	"context"
	"time"

	"PPSignal/tools/errs"

	"github.com/redis/go-redis/v9"
)

// Config 用于初始化 Redis；Addr 为空表示不启用
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (c Config) Enabled() bool { return c.Addr != "" }

// NewClient 建立连接并 ping 一次
func NewClient(ctx context.Context, c Config) (*redis.Client, error) {
	if !c.Enabled() {
		return nil, errs.ErrInvalidArgument.WrapMsg("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "ping redis", "addr", c.Addr)
	}
	return rdb, nil
}
