package config

import (
	"strings"
	"sync"

	"PPSignal/logger"
	"PPSignal/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ConfigSource config_client.IConfigClient 中用到的部分
type ConfigSource interface {
	GetConfig(param vo.ConfigParam) (string, error)
	ListenConfig(param vo.ConfigParam) error
	CancelListenConfig(param vo.ConfigParam) error
}

// ClientParam nacos 配置/命名客户端共用的连接参数
func (c NacosConfig) ClientParam() vo.NacosClientParam {
	timeout := c.TimeoutMs
	if timeout == 0 {
		timeout = 5000
	}
	cc := constant.NewClientConfig(
		constant.WithNamespaceId(c.NamespaceID),
		constant.WithTimeoutMs(timeout),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel("warn"),
		constant.WithCacheDir(c.CacheDir),
		constant.WithLogDir(c.LogDir),
		constant.WithUsername(c.Username),
		constant.WithPassword(c.Password),
	)
	return vo.NacosClientParam{
		ClientConfig:  cc,
		ServerConfigs: []constant.ServerConfig{*constant.NewServerConfig(c.Host, c.Port)},
	}
}

// NewNacosSource 建立 nacos 配置客户端
func NewNacosSource(c NacosConfig) (ConfigSource, error) {
	client, err := clients.NewConfigClient(c.ClientParam())
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos config client", "host", c.Host)
	}
	return client, nil
}

// Remote 把 nacos 上的一份配置叠加到本地配置之上；环境变量仍然优先
type Remote struct {
	src  ConfigSource
	conf NacosConfig
	path string // 本地配置文件，变更时重新叠加

	mu      sync.RWMutex
	current string
}

func NewRemote(src ConfigSource, conf NacosConfig, path string) *Remote {
	if conf.Format == "" {
		conf.Format = "yaml"
	}
	return &Remote{src: src, conf: conf, path: path}
}

func (r *Remote) param() vo.ConfigParam {
	return vo.ConfigParam{DataId: r.conf.DataID, Group: r.conf.Group}
}

// Apply 拉取一次并合并进 v；远端为空时不改变 v
func (r *Remote) Apply(v *viper.Viper) error {
	content, err := r.src.GetConfig(r.param())
	if err != nil {
		return errs.WrapMsg(err, "get nacos config", "data_id", r.conf.DataID, "group", r.conf.Group)
	}
	r.set(content)
	return r.merge(v, content)
}

func (r *Remote) merge(v *viper.Viper, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	v.SetConfigType(r.conf.Format)
	if err := v.MergeConfig(strings.NewReader(content)); err != nil {
		return errs.WrapMsg(err, "merge nacos config", "data_id", r.conf.DataID)
	}
	return nil
}

// Reload 用本地文件 + 给定远端内容重新生成完整配置
func (r *Remote) Reload(content string) (*AppConfig, error) {
	v := NewViper()
	if r.path != "" {
		v.SetConfigFile(r.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.WrapMsg(err, "read config", "path", r.path)
		}
	}
	if err := r.merge(v, content); err != nil {
		return nil, err
	}
	return Decode(v)
}

// Watch 监听远端变更；解析失败的版本只记日志，不回调
func (r *Remote) Watch(onChange func(*AppConfig)) error {
	p := r.param()
	p.OnChange = func(namespace, group, dataId, data string) {
		logger.Info("[nacos] config changed", zap.String("namespace", namespace), zap.String("group", group), zap.String("data_id", dataId))
		r.set(data)
		cfg, err := r.Reload(data)
		if err != nil {
			logger.Warn("[nacos] ignore bad config", zap.Error(err))
			return
		}
		if onChange != nil {
			onChange(cfg)
		}
	}
	if err := r.src.ListenConfig(p); err != nil {
		return errs.WrapMsg(err, "listen nacos config", "data_id", r.conf.DataID)
	}
	return nil
}

func (r *Remote) Stop() error {
	return r.src.CancelListenConfig(r.param())
}

func (r *Remote) set(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = content
}

// Current 最近一次拿到的远端原文
func (r *Remote) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}
