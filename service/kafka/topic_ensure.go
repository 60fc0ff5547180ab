package kafka

import (
	"errors"

	"PPSignal/tools/errs"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
)

// EnsureTopic 不存在就创建；已存在且分区不足时扩分区（Kafka 仅支持增加分区）
func EnsureTopic(admin sarama.ClusterAdmin, topic string, partitions int32, rf int16) error {
	descs, err := admin.DescribeTopics([]string{topic})
	if err != nil {
		return errs.WrapMsg(err, "describe topic", "topic", topic)
	}
	exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

	if !exists {
		minISR := "1"
		if rf >= 3 {
			minISR = "2"
		}
		td := &sarama.TopicDetail{
			NumPartitions:     partitions,
			ReplicationFactor: rf,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(topic, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				glog.Infof("[Topic] exists (race): %s", topic)
				return nil
			}
			return errs.WrapMsg(err, "create topic", "topic", topic)
		}
		glog.Infof("[Topic] created: %s (partitions=%d, rf=%d)", topic, partitions, rf)
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if partitions > cur {
		if err := admin.CreatePartitions(topic, partitions, nil, false); err != nil {
			return errs.WrapMsg(err, "expand partitions", "topic", topic, "from", cur, "to", partitions)
		}
		glog.Infof("[Topic] partitions expanded: %s (%d -> %d)", topic, cur, partitions)
	}
	return nil
}

func strPtr(s string) *string { return &s }
