package global

import (
	"context"

	"PPSignal/data/database/pg"
	"PPSignal/global/config"
	"PPSignal/logger"
	"PPSignal/module/directory"
	"PPSignal/module/message"

	"go.uber.org/zap"
)

type stores struct {
	dir   directory.Store
	msgs  message.DB
	close func()
}

// openStores memory 驱动用于本地开发和测试；postgres 驱动共用一个连接池
func openStores(ctx context.Context, conf *config.AppConfig) (*stores, error) {
	switch conf.Store.Driver {
	case config.StorePostgres:
		pool, err := pg.Connect(ctx, conf.Postgres)
		if err != nil {
			return nil, err
		}
		dir := directory.NewPostgresStore(pool)
		if conf.Store.EnsureSchema {
			if err := dir.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, err
			}
			if err := message.EnsureSchema(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		logger.Info("[boot] postgres store ready", zap.Int32("max_conns", pool.Config().MaxConns))
		return &stores{dir: dir, msgs: message.NewPgDB(pool), close: pool.Close}, nil
	default:
		logger.Warn("[boot] using in-memory store, data is lost on restart")
		return &stores{dir: directory.NewMemoryStore(), msgs: message.NewMemDB(), close: func() {}}, nil
	}
}
