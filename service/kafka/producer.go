package kafka

import (
	"context"
	"encoding/json"

	"PPSignal/logger"
	"PPSignal/module/message"
	"PPSignal/tools/errs"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
	"go.uber.org/zap"
)

// EventProducer 把消息变更写入事件流，Key 为会话键
type EventProducer struct {
	client   sarama.Client
	producer sarama.SyncProducer
	topic    string
}

func NewEventProducer(p sarama.SyncProducer, topic string) *EventProducer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &EventProducer{producer: p, topic: topic}
}

// Dial 建客户端，按需建 topic，再建同步生产者
func Dial(c Config) (*EventProducer, error) {
	c.norm()
	cfg, err := BuildConfig(c)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", c.Brokers)
	}
	if c.EnsureTopic {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errs.WrapMsg(err, "kafka admin")
		}
		if err := EnsureTopic(admin, c.Topic, c.Partitions, c.ReplicationFactor); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka producer")
	}
	glog.Infof("[kafka] producer ready, brokers=%v topic=%s", c.Brokers, c.Topic)
	ep := NewEventProducer(p, c.Topic)
	ep.client = client
	return ep, nil
}

func (p *EventProducer) PublishMessageEvent(ctx context.Context, e message.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(e)
	if err != nil {
		return errs.Wrap(err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.Conv),
		Value: sarama.ByteEncoder(value),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return errs.WrapMsg(err, "kafka send", "topic", p.topic, "conv", e.Conv)
	}
	logger.Debug("[kafka] event sent", zap.String("kind", e.Kind), zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}

func (p *EventProducer) Close() error {
	err := p.producer.Close()
	if p.client != nil && !p.client.Closed() {
		if cerr := p.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
