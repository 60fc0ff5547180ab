package global

import (
	"context"
	"net"
	"net/http"
	"time"

	"PPSignal/logger"
	"PPSignal/middleware"
	"PPSignal/middleware/security"
	"PPSignal/module/message"
	"PPSignal/tools/errs"
	"PPSignal/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

func (a *App) newEngine() *gin.Engine {
	engine := gin.New()
	guards := middleware.NewManager(middleware.Origin(a.Conf.WS.Path, a.Conf.WS.AllowedOrigins))
	engine.Use(middleware.Recovery(), middleware.AccessLog(), guards.Use())

	engine.GET(a.Conf.WS.Path, a.WS.HandleWS)
	engine.GET("/healthz", a.healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.prom, promhttp.HandlerOpts{})))

	rs := middleware.NewRoutes(engine, security.Middleware(jwtVerifier{opts: a.jwt}, nil))
	message.NewHandler(a.Messages).Register(rs)
	rs.GET("/api/presence/contacts", a.onlineContacts, middleware.RouteOpt{IsAuth: true})
	return engine
}

func (a *App) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"node_id":  a.Conf.NodeID,
		"sessions": a.Registry.Count(),
		"calls":    a.Calls.Count(),
	})
}

// onlineContacts 当前用户在线的联系人
func (a *App) onlineContacts(c *gin.Context) {
	ids, err := a.Router.OnlineContacts(c.Request.Context(), security.UserID(c))
	if err != nil {
		security.Abort(c, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"user_ids": ids})
}

// Run 监听 server.addr（和可选的 grpc_addr）直到 ctx 结束
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Conf.Server.Addr)
	if err != nil {
		return errs.WrapMsg(err, "listen http", "addr", a.Conf.Server.Addr)
	}
	var gln net.Listener
	if a.Conf.Server.GrpcAddr != "" {
		if gln, err = net.Listen("tcp", a.Conf.Server.GrpcAddr); err != nil {
			_ = ln.Close()
			return errs.WrapMsg(err, "listen grpc", "addr", a.Conf.Server.GrpcAddr)
		}
	}
	return a.Serve(ctx, ln, gln)
}

// Serve 在给定监听上提供 HTTP/WS 与 gRPC 健康检查；gln 可为 nil
func (a *App) Serve(ctx context.Context, ln, gln net.Listener) error {
	if a.Conf.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, a.Conf.Server.MaxConns)
	}
	srv := &http.Server{Handler: a.Engine, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 2)
	safe.Go("http-server", func() {
		logger.Info("[boot] http listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- errs.WrapMsg(err, "http serve")
		}
	})

	var health *healthServer
	if gln != nil {
		health = newHealthServer()
		safe.Go("grpc-health", func() {
			logger.Info("[boot] grpc health listening", zap.String("addr", gln.Addr().String()))
			if err := health.serve(gln); err != nil {
				errCh <- errs.WrapMsg(err, "grpc serve")
			}
		})
	}

	a.Sweeper.Start()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("[boot] shutting down")
	case runErr = <-errCh:
		logger.Error("[boot] server failed, shutting down", zap.Error(runErr))
	}

	if health != nil {
		health.stop()
	}
	grace := a.Conf.Server.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	// Shutdown 不管已升级的 ws 连接，它们由 App.Close 里的 WS.Close 关闭
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("[boot] http shutdown", zap.Error(err))
	}
	a.Sweeper.Stop()
	return runErr
}
