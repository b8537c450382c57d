// 文件: pkg/vault/kafka_db_writer.go
// Kafka 读模型回写器
//
// 生产部署的消费端: 以独立消费组消费金库事件并回写 MySQL。
// 消费组从最早 offset 起读，重建读模型时直接重放整个 topic，
// 重复事件靠 position_id 唯一索引幂等。

package vault

import (
	"nunggu.com/pkg/kafka"
)

// KafkaDBWriter 消费 Kafka 金库事件并回写读模型
type KafkaDBWriter struct {
	*positionProjector
	consumer *kafka.Consumer
}

// NewKafkaDBWriter 创建回写器
// groupID 区分消费组: 回写器、风控各用各的，互不抢占 offset
func NewKafkaDBWriter(repo PositionRepository, brokers []string, groupID string) (*KafkaDBWriter, error) {
	consumer, err := kafka.NewConsumer(kafka.DefaultConsumerConfig(brokers, groupID))
	if err != nil {
		return nil, err
	}

	w := &KafkaDBWriter{
		positionProjector: newPositionProjector(repo),
		consumer:          consumer,
	}
	consumer.Handle(TopicPositionCreated, func(_, value []byte) error {
		return w.handleEvent(TopicPositionCreated, value)
	})
	consumer.Handle(TopicPositionClosed, func(_, value []byte) error {
		return w.handleEvent(TopicPositionClosed, value)
	})

	return w, nil
}

// Start 启动消费
func (w *KafkaDBWriter) Start() {
	w.consumer.Start()
}

// Stop 停止
func (w *KafkaDBWriter) Stop() error {
	return w.consumer.Stop()
}

// handleEvent 按 topic 分发 (独立方法便于单元测试)
func (w *KafkaDBWriter) handleEvent(topic string, data []byte) error {
	switch topic {
	case TopicPositionCreated:
		return w.handleCreated(data)
	case TopicPositionClosed:
		return w.handleClosed(data)
	}
	return nil
}
