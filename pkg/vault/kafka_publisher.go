// 文件: pkg/vault/kafka_publisher.go
// Kafka 事件发布器
//
// 生产部署用: 事件进 Kafka，读模型回写器/风控各自消费组消费

package vault

import (
	"nunggu.com/pkg/kafka"
)

// 确保实现了接口
var _ EventPublisher = (*KafkaPublisher)(nil)

// KafkaPublisher 基于 Kafka 的事件发布器
type KafkaPublisher struct {
	producer *kafka.Producer
}

// NewKafkaPublisher 创建 Kafka 发布器
func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(kafka.DefaultProducerConfig(brokers))
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{producer: producer}, nil
}

// PublishPositionCreated 发布开仓事件
func (p *KafkaPublisher) PublishPositionCreated(e *PositionCreatedEvent) error {
	return p.producer.Send(e)
}

// PublishPositionClosed 发布平仓事件
func (p *KafkaPublisher) PublishPositionClosed(e *PositionClosedEvent) error {
	return p.producer.Send(e)
}

// PublishFeesWithdrawn 发布手续费提取事件
func (p *KafkaPublisher) PublishFeesWithdrawn(e *FeesWithdrawnEvent) error {
	return p.producer.Send(e)
}

// Close 关闭发布器
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// Stats 获取底层生产者统计
func (p *KafkaPublisher) Stats() kafka.ProducerStats {
	return p.producer.Stats()
}
