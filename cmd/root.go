// Package cmd 命令行入口：serve 启动信令服务，token 签发调试令牌
package cmd

import (
	"fmt"
	"os"

	"PPSignal/global/config"
	"PPSignal/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "ppsignal",
	Short:         "Presence, connection and signaling server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute main.main 调用一次
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml/json/toml), env PPSIGNAL_* overrides it")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level")
	rootCmd.AddCommand(newServeCmd(), newTokenCmd())
}

// loadConfig 配置文件 + 环境变量 + 命令行覆盖，随后按配置重建 logger
func loadConfig(cmd *cobra.Command) (*config.AppConfig, *viper.Viper, error) {
	conf, v, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		v.Set("log.level", lvl)
		if conf, err = config.Decode(v); err != nil {
			return nil, nil, err
		}
	}
	if err := logger.Setup(conf.Log.Level, conf.Log.JSON); err != nil {
		return nil, nil, err
	}
	logger.Info("[cmd] config loaded", zap.String("file", v.ConfigFileUsed()), zap.String("store", conf.Store.Driver))
	return conf, v, nil
}
