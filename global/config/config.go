package config

import (
	"strconv"
	"strings"
	"time"

	"PPSignal/data/database/mgo/mongoutil"
	"PPSignal/data/database/pg"
	"PPSignal/service/kafka"
	"PPSignal/service/natsx"
	"PPSignal/service/storage/redis"
	"PPSignal/tools/errs"

	"github.com/spf13/viper"
)

const EnvPrefix = "PPSIGNAL"

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// AppConfig 进程的全部配置；Redis/NATS/Kafka/Mongo 未配置地址时不启用
type AppConfig struct {
	NodeID   int64            `mapstructure:"node_id"`
	Server   ServerConfig     `mapstructure:"server"`
	Log      LogConfig        `mapstructure:"log"`
	JWT      JWTConfig        `mapstructure:"jwt"`
	WS       WSConfig         `mapstructure:"ws"`
	Call     CallConfig       `mapstructure:"call"`
	Store    StoreConfig      `mapstructure:"store"`
	Postgres pg.Config        `mapstructure:"postgres"`
	Redis    RedisConfig      `mapstructure:"redis"`
	Nats     natsx.Config     `mapstructure:"nats"`
	Kafka    kafka.Config     `mapstructure:"kafka"`
	Mongo    mongoutil.Config `mapstructure:"mongo"`
	Audit    AuditConfig      `mapstructure:"audit"`
	Nacos    NacosConfig      `mapstructure:"nacos"`
}

type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	GrpcAddr      string        `mapstructure:"grpc_addr"` // 空表示不启动 gRPC 健康检查
	MaxConns      int           `mapstructure:"max_conns"` // 同时打开的 HTTP 连接上限，<=0 不限
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Alg    string        `mapstructure:"alg"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type WSConfig struct {
	Path           string        `mapstructure:"path"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	SendQueue      int           `mapstructure:"send_queue"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	FrameRate      int           `mapstructure:"frame_rate"`
	OpTimeout      time.Duration `mapstructure:"op_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	SweepParallel  int           `mapstructure:"sweep_parallel"`
	FanoutWorkers  int           `mapstructure:"fanout_workers"`
	FanoutQueue    int           `mapstructure:"fanout_queue"`
}

type CallConfig struct {
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
}

type StoreConfig struct {
	Driver       string `mapstructure:"driver"` // memory | postgres
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

type RedisConfig struct {
	redis.Config `mapstructure:",squash"`
	PresenceTTL  time.Duration `mapstructure:"presence_ttl"`
}

type AuditConfig struct {
	Buffer     int           `mapstructure:"buffer"`
	Batch      int           `mapstructure:"batch"`
	FlushEvery time.Duration `mapstructure:"flush_every"`
}

type NacosConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        uint64 `mapstructure:"port"`
	NamespaceID string `mapstructure:"namespace_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	DataID      string `mapstructure:"data_id"`
	Group       string `mapstructure:"group"`
	Format      string `mapstructure:"format"` // viper 能解析的格式，默认 yaml
	TimeoutMs   uint64 `mapstructure:"timeout_ms"`
	CacheDir    string `mapstructure:"cache_dir"`
	LogDir      string `mapstructure:"log_dir"`
	// 服务注册：把本节点的 HTTP/WS 地址登记到命名服务
	Register    bool   `mapstructure:"register"`
	ServiceName string `mapstructure:"service_name"`
	AdvertiseIP string `mapstructure:"advertise_ip"` // 空表示取第一块非回环网卡
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", 1)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.grpc_addr", "")
	v.SetDefault("server.max_conns", 10000)
	v.SetDefault("server.shutdown_grace", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("jwt.ttl", "2h")

	v.SetDefault("ws.path", "/ws")
	v.SetDefault("ws.allowed_origins", []string{})
	v.SetDefault("ws.send_queue", 256)
	v.SetDefault("ws.write_wait", "10s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.read_limit", 1<<20)
	v.SetDefault("ws.frame_rate", 50)
	v.SetDefault("ws.op_timeout", "5s")
	v.SetDefault("ws.sweep_interval", "30s")
	v.SetDefault("ws.probe_timeout", "5s")
	v.SetDefault("ws.sweep_parallel", 64)
	v.SetDefault("ws.fanout_workers", 8)
	v.SetDefault("ws.fanout_queue", 1024)

	v.SetDefault("call.ring_timeout", "60s")

	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.ensure_schema", true)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 20)
	v.SetDefault("postgres.conn_timeout", "5s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 0)
	v.SetDefault("redis.presence_ttl", "90s")

	v.SetDefault("nats.servers", []string{})
	v.SetDefault("nats.name", "ppsignal")
	v.SetDefault("nats.user", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.reconnect_wait", "500ms")
	v.SetDefault("nats.timeout", "3s")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", kafka.DefaultTopic)
	v.SetDefault("kafka.version", "")
	v.SetDefault("kafka.compression", "none")
	v.SetDefault("kafka.retries", 3)
	v.SetDefault("kafka.ensure_topic", false)
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("kafka.replication_factor", 1)

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.address", []string{})
	v.SetDefault("mongo.database", "ppsignal")
	v.SetDefault("mongo.username", "")
	v.SetDefault("mongo.password", "")
	v.SetDefault("mongo.auth_source", "")
	v.SetDefault("mongo.max_pool_size", 20)
	v.SetDefault("mongo.max_retry", 3)

	v.SetDefault("audit.buffer", 4096)
	v.SetDefault("audit.batch", 128)
	v.SetDefault("audit.flush_every", "1s")

	v.SetDefault("nacos.enabled", false)
	v.SetDefault("nacos.host", "127.0.0.1")
	v.SetDefault("nacos.port", 8848)
	v.SetDefault("nacos.namespace_id", "public")
	v.SetDefault("nacos.username", "")
	v.SetDefault("nacos.password", "")
	v.SetDefault("nacos.data_id", "ppsignal.yaml")
	v.SetDefault("nacos.group", "DEFAULT_GROUP")
	v.SetDefault("nacos.format", "yaml")
	v.SetDefault("nacos.timeout_ms", 5000)
	v.SetDefault("nacos.cache_dir", "nacos/cache")
	v.SetDefault("nacos.log_dir", "nacos/log")
	v.SetDefault("nacos.register", false)
	v.SetDefault("nacos.service_name", "ppsignal")
	v.SetDefault("nacos.advertise_ip", "")
}

// NewViper 默认值 + PPSIGNAL_ 前缀环境变量（ws.frame_rate -> PPSIGNAL_WS_FRAME_RATE）
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load 读取配置文件（可选）、环境变量和默认值；path 为空只用后两者
func Load(path string) (*AppConfig, *viper.Viper, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, errs.WrapMsg(err, "read config", "path", path)
		}
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Decode 把 viper 当前内容解到 AppConfig 并校验
func Decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.WrapMsg(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return errs.ErrInvalidArgument.WrapMsg("store.driver=postgres needs postgres.dsn")
		}
	default:
		return errs.ErrInvalidArgument.WrapMsg("unknown store.driver", "driver", c.Store.Driver)
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return errs.ErrInvalidArgument.WrapMsg("node_id out of range [0,1023]", "node_id", c.NodeID)
	}
	if c.Call.RingTimeout < 0 {
		return errs.ErrInvalidArgument.WrapMsg("call.ring_timeout must not be negative")
	}
	if c.WS.Path == "" || c.WS.Path[0] != '/' {
		return errs.ErrInvalidArgument.WrapMsg("ws.path must start with /", "path", c.WS.Path)
	}
	return nil
}

// NodeName 用于 Redis 节点集合和 NATS 事件里的节点标识
func (c *AppConfig) NodeName() string {
	if c.Nats.Name != "" {
		return c.Nats.Name + "-" + strconv.FormatInt(c.NodeID, 10)
	}
	return "ppsignal-" + strconv.FormatInt(c.NodeID, 10)
}
