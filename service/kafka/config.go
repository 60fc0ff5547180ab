package kafka

import (
	"strings"
	"time"

	"PPSignal/tools/errs"

	"github.com/Shopify/sarama"
)

const DefaultTopic = "im.message.events"

// Config Brokers 为空表示不启用
type Config struct {
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	Version           string   `mapstructure:"version"`     // 例如 2.1.0
	Compression       string   `mapstructure:"compression"` // none/snappy/lz4/zstd
	Retries           int      `mapstructure:"retries"`
	EnsureTopic       bool     `mapstructure:"ensure_topic"`
	Partitions        int32    `mapstructure:"partitions"`
	ReplicationFactor int16    `mapstructure:"replication_factor"`
}

func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

func (c *Config) norm() {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.Partitions <= 0 {
		c.Partitions = 8
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
}

// BuildConfig 同步生产者配置；按 Key 哈希分区保证同一会话有序
func BuildConfig(c Config) (*sarama.Config, error) {
	c.norm()
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, errs.ErrInvalidArgument.WrapMsg("bad kafka version", "version", c.Version)
		}
		cfg.Version = v
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.Retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // ★ 关键：Key 控制分区
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg, nil
}
