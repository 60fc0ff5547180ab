package global

import (
	"context"
	"time"

	"PPSignal/global/config"
	"PPSignal/logger"
	"PPSignal/module/directory"
	"PPSignal/module/message"
	"PPSignal/service/chat"
	"PPSignal/service/chat/handlers"
	"PPSignal/tools/errs"
	"PPSignal/tools/ids"
	"PPSignal/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// App 进程根：所有组件在这里构造并注入，没有包级单例
type App struct {
	Conf *config.AppConfig

	Metrics  *chat.Metrics
	Registry *chat.Registry
	Calls    *chat.CallCoordinator
	Router   *chat.Router
	WS       *chat.Server
	Sweeper  *chat.Sweeper
	Fanout   *chat.Fanout

	Directory directory.Store
	Messages  *message.Service

	Engine *gin.Engine

	prom    *prometheus.Registry
	jwt     security.Options
	closers []func()
}

// jwtVerifier 同时满足 chat.Verifier 与 middleware/security.Verifier
type jwtVerifier struct {
	opts security.Options
}

func (v jwtVerifier) Verify(token string) (int64, error) {
	return security.Verify(v.opts, token)
}

// JWTOptions 由配置得到签发/校验参数
func JWTOptions(c config.JWTConfig) (security.Options, error) {
	if c.Secret == "" {
		return security.Options{}, errs.ErrInvalidArgument.WrapMsg("jwt.secret is required")
	}
	opts := security.DefaultOptions([]byte(c.Secret))
	if c.Alg != "" {
		opts.Alg = c.Alg
	}
	if c.TTL > 0 {
		opts.TTL = c.TTL
	}
	return opts, nil
}

func (a *App) onClose(f func()) {
	a.closers = append(a.closers, f)
}

// Build 按配置装配；外部依赖（postgres/redis/nats/kafka/mongo）连接失败直接返回错误
func Build(ctx context.Context, conf *config.AppConfig) (app *App, err error) {
	a := &App{Conf: conf}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.jwt, err = JWTOptions(conf.JWT); err != nil {
		return nil, err
	}

	a.prom = prometheus.NewRegistry()
	a.prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = chat.NewMetrics(a.prom)

	stores, err := openStores(ctx, conf)
	if err != nil {
		return nil, err
	}
	a.onClose(stores.close)
	a.Directory = stores.dir

	a.Registry = chat.NewRegistry(a.Metrics)
	a.Calls = chat.NewCallCoordinator(a.Metrics)
	a.Fanout = chat.NewFanout(a.Registry, conf.WS.FanoutWorkers, conf.WS.FanoutQueue)
	a.onClose(a.Fanout.Stop)

	routerOpts := []chat.RouterOption{chat.WithFanout(a.Fanout)}
	mirror, err := a.wirePresenceMirror(ctx)
	if err != nil {
		return nil, err
	}
	if mirror != nil {
		routerOpts = append(routerOpts, chat.WithPresenceMirror(mirror))
	}
	bus, err := a.wireNats()
	if err != nil {
		return nil, err
	}
	if bus != nil {
		routerOpts = append(routerOpts, chat.WithPresencePublisher(bus.presence))
	}
	a.Router = chat.NewRouter(a.Registry, a.Directory, routerOpts...)
	if bus != nil {
		if err := bus.startNotify(a.Router); err != nil {
			return nil, err
		}
	}

	serverOpts := []chat.ServerOption{chat.WithMetrics(a.Metrics)}
	auditor, err := a.wireAudit(ctx)
	if err != nil {
		return nil, err
	}
	if auditor != nil {
		serverOpts = append(serverOpts, chat.WithAuditor(auditor))
	}
	a.WS = chat.NewServer(chat.ServerConf{
		Conn: chat.ConnConf{
			SendQueue: conf.WS.SendQueue,
			WriteWait: conf.WS.WriteWait,
			PongWait:  conf.WS.PongWait,
			ReadLimit: conf.WS.ReadLimit,
		},
		FrameRate:   conf.WS.FrameRate,
		RingTimeout: conf.Call.RingTimeout,
		OpTimeout:   conf.WS.OpTimeout,
		NodeID:      conf.NodeID,
	}, a.Router, a.Calls, jwtVerifier{opts: a.jwt}, serverOpts...)
	a.WS.Disp().Register(handlers.All()...)
	// 关闭顺序与注册相反：WS 先于 fanout/审计/外部连接关闭
	a.onClose(a.WS.Close)

	a.Sweeper = chat.NewSweeper(a.Router, chat.SweeperConf{
		Interval:     conf.WS.SweepInterval,
		ProbeTimeout: conf.WS.ProbeTimeout,
		Parallel:     conf.WS.SweepParallel,
	}, a.Metrics)

	msgOpts, err := a.wireKafka()
	if err != nil {
		return nil, err
	}
	a.Messages = message.NewService(stores.msgs, a.Directory, a.Router, msgOpts...)

	a.Engine = a.newEngine()
	logger.Info("[boot] app built",
		zap.Int64("node_id", conf.NodeID),
		zap.String("store", conf.Store.Driver),
		zap.Bool("redis", mirror != nil),
		zap.Bool("nats", bus != nil),
		zap.Bool("kafka", len(msgOpts) > 0),
		zap.Bool("audit", auditor != nil),
	)
	return a, nil
}

// IssueToken 开发用：签发一个用户令牌
func (a *App) IssueToken(user int64) (string, time.Time, error) {
	return security.Generate(a.jwt, user)
}

// Close 逆序释放；可重复调用
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newIDs(conf *config.AppConfig) *ids.Generator {
	return ids.NewGenerator(conf.NodeID)
}
