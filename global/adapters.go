package global

import (
	"context"
	"time"

	"PPSignal/logger"
	"PPSignal/module/message"
	"PPSignal/module/user"
	"PPSignal/service/chat"
	"PPSignal/service/kafka"
	"PPSignal/service/mgo"
	"PPSignal/service/natsx"
	"PPSignal/service/storage"
	"PPSignal/service/storage/redis"

	"go.uber.org/zap"
)

// wirePresenceMirror redis.addr 为空时返回 nil
func (a *App) wirePresenceMirror(ctx context.Context) (*storage.RedisPresence, error) {
	if !a.Conf.Redis.Enabled() {
		return nil, nil
	}
	rdb, err := redis.NewClient(ctx, a.Conf.Redis.Config)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = rdb.Close() })
	logger.Info("[boot] redis presence mirror", zap.String("addr", a.Conf.Redis.Addr), zap.Duration("ttl", a.Conf.Redis.PresenceTTL))
	return storage.NewRedisPresence(rdb, storage.PresenceConfig{
		NodeID: a.Conf.NodeName(),
		TTL:    a.Conf.Redis.PresenceTTL,
	}), nil
}

type natsBus struct {
	client   *natsx.Client
	presence *natsx.PresenceBus
}

// startNotify 订阅 im.notify，经 Router 推给在线用户
func (b *natsBus) startNotify(router *chat.Router) error {
	return natsx.NewNotifyBridge(router, natsx.NewMemIdem(5*time.Minute)).Start(b.client)
}

// wireNats nats.servers 为空时返回 nil
func (a *App) wireNats() (*natsBus, error) {
	if !a.Conf.Nats.Enabled() {
		return nil, nil
	}
	client, err := natsx.Connect(a.Conf.Nats, natsx.Recover(), natsx.Logging())
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = client.Close() })
	if err := natsx.RegisterRoutes(client); err != nil {
		return nil, err
	}
	logger.Info("[boot] nats connected", zap.Strings("servers", a.Conf.Nats.Servers))
	return &natsBus{client: client, presence: natsx.NewPresenceBus(client, a.Conf.NodeName())}, nil
}

// wireKafka kafka.brokers 为空时不发布消息事件
func (a *App) wireKafka() ([]message.Option, error) {
	if !a.Conf.Kafka.Enabled() {
		return nil, nil
	}
	p, err := kafka.Dial(a.Conf.Kafka)
	if err != nil {
		return nil, err
	}
	a.onClose(func() {
		if err := p.Close(); err != nil {
			logger.Warn("[boot] close kafka producer", zap.Error(err))
		}
	})
	return []message.Option{message.WithPublisher(p)}, nil
}

// wireAudit mongo 未配置时不记录会话审计。Mongo 在后台连接，未就绪时到期的批次丢弃
func (a *App) wireAudit(ctx context.Context) (*user.SessionAuditor, error) {
	if !a.Conf.Mongo.Enabled() {
		return nil, nil
	}
	mcfg := a.Conf.Mongo
	if err := mcfg.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	mgr := mgo.NewManager(mgo.DialConfig(&mcfg), mgo.ManagerConf{})
	mgr.Start(mctx)

	aud := user.NewSessionAuditor(user.NewMongoSink(mgr), user.AuditConf{
		Buffer:     a.Conf.Audit.Buffer,
		Batch:      a.Conf.Audit.Batch,
		FlushEvery: a.Conf.Audit.FlushEvery,
	}, newIDs(a.Conf))
	aud.Start()
	a.onClose(func() {
		aud.Close()
		cancel()
		<-mgr.Done()
		if n := aud.Dropped(); n > 0 {
			logger.Warn("[boot] session audit dropped records", zap.Int64("n", n))
		}
	})
	logger.Info("[boot] session audit enabled", zap.String("database", mcfg.Database))
	return aud, nil
}
