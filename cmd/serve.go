package cmd

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"PPSignal/global"
	"PPSignal/global/config"
	"PPSignal/logger"
	"PPSignal/service/registry"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket signaling server and the message HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, v, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			remote, err := overlayNacos(conf, v)
			if err != nil {
				return err
			}
			if remote != nil {
				if conf, err = config.Decode(v); err != nil {
					return err
				}
				_ = logger.Setup(conf.Log.Level, conf.Log.JSON)
				defer func() { _ = remote.Stop() }()
			}

			if conf.Log.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := global.Build(ctx, conf)
			if err != nil {
				return err
			}
			defer app.Close()

			reg, err := registerNacos(conf)
			if err != nil {
				return err
			}
			if reg != nil {
				defer func() {
					if err := reg.Deregister(); err != nil {
						logger.Warn("[registry] deregister", zap.Error(err))
					}
				}()
			}
			return app.Run(ctx)
		},
	}
}

// overlayNacos nacos.enabled 时把远端配置合并进 v，并监听变更；目前只有日志级别热更新
func overlayNacos(conf *config.AppConfig, v *viper.Viper) (*config.Remote, error) {
	if !conf.Nacos.Enabled {
		return nil, nil
	}
	src, err := config.NewNacosSource(conf.Nacos)
	if err != nil {
		return nil, err
	}
	remote := config.NewRemote(src, conf.Nacos, cfgFile)
	if err := remote.Apply(v); err != nil {
		return nil, err
	}
	err = remote.Watch(func(next *config.AppConfig) {
		if err := logger.Setup(next.Log.Level, next.Log.JSON); err != nil {
			logger.Warn("[nacos] apply log level", zap.Error(err))
			return
		}
		logger.Info("[nacos] log level applied", zap.String("level", next.Log.Level))
	})
	if err != nil {
		return nil, err
	}
	logger.Info("[nacos] overlay applied", zap.String("data_id", conf.Nacos.DataID), zap.String("group", conf.Nacos.Group))
	return remote, nil
}

// registerNacos nacos.enabled 且 nacos.register 时把本节点登记为临时实例
func registerNacos(conf *config.AppConfig) (*registry.Registrar, error) {
	if !conf.Nacos.Enabled || !conf.Nacos.Register {
		return nil, nil
	}
	ip, port, err := registry.AdvertiseAddr(conf.Server.Addr, conf.Nacos.AdvertiseIP)
	if err != nil {
		return nil, err
	}
	naming, err := registry.NewNacosNaming(conf.Nacos.ClientParam())
	if err != nil {
		return nil, err
	}
	reg := registry.NewRegistrar(naming, registry.Instance{
		Service: conf.Nacos.ServiceName,
		Group:   conf.Nacos.Group,
		IP:      ip,
		Port:    port,
		Metadata: map[string]string{
			"protocol":  "ws",
			"ws_path":   conf.WS.Path,
			"node_id":   strconv.FormatInt(conf.NodeID, 10),
			"grpc_addr": conf.Server.GrpcAddr,
		},
	})
	if err := reg.Register(); err != nil {
		return nil, err
	}
	return reg, nil
}
