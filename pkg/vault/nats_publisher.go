// 文件: pkg/vault/nats_publisher.go
// NATS 事件发布器
//
// 本地开发/单机部署用: 轻量，不需要 Kafka 集群。
// subject 与 Kafka topic 同名，载荷一致，下游无感切换。

package vault

import (
	"nunggu.com/pkg/nats"
)

// 确保实现了接口
var _ EventPublisher = (*NatsPublisher)(nil)

// NatsPublisher 基于 NATS 的事件发布器
type NatsPublisher struct {
	pub *nats.Publisher
}

// NewNatsPublisher 创建 NATS 发布器
func NewNatsPublisher(url string) (*NatsPublisher, error) {
	pub, err := nats.NewPublisher(url)
	if err != nil {
		return nil, err
	}
	return &NatsPublisher{pub: pub}, nil
}

// PublishPositionCreated 发布开仓事件
func (p *NatsPublisher) PublishPositionCreated(e *PositionCreatedEvent) error {
	return p.pub.Publish(TopicPositionCreated, e)
}

// PublishPositionClosed 发布平仓事件
func (p *NatsPublisher) PublishPositionClosed(e *PositionClosedEvent) error {
	return p.pub.Publish(TopicPositionClosed, e)
}

// PublishFeesWithdrawn 发布手续费提取事件
func (p *NatsPublisher) PublishFeesWithdrawn(e *FeesWithdrawnEvent) error {
	return p.pub.Publish(TopicFeesWithdrawn, e)
}

// Close 关闭发布器
func (p *NatsPublisher) Close() error {
	p.pub.Close()
	return nil
}
