// 文件: pkg/kafka/consumer.go
// 金库事件总线 - Kafka 消费者
//
// 读模型回写器和风控都以独立消费组消费金库事件。
// 按 topic 注册处理器，单条处理失败只记日志不中断
// (事件可从引擎 WAL 回放补发)。

package kafka

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/IBM/sarama"
)

// =============================================================================
// Consumer 配置
// =============================================================================

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers       []string // Kafka broker 地址列表
	GroupID       string   // 消费者组 ID
	OffsetInitial int64    // 初始 offset: -1=newest, -2=oldest
	AutoCommit    bool     // 是否自动提交 offset
}

// DefaultConsumerConfig 默认配置
// 回写器从最早 offset 消费，保证重建读模型不丢事件
func DefaultConsumerConfig(brokers []string, groupID string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:       brokers,
		GroupID:       groupID,
		OffsetInitial: sarama.OffsetOldest,
		AutoCommit:    true,
	}
}

// =============================================================================
// TopicHandler 按主题分发
// =============================================================================

// TopicHandler 单个 topic 的处理函数
type TopicHandler func(key, value []byte) error

// =============================================================================
// Consumer 消费者
// =============================================================================

// Consumer 金库事件消费者
type Consumer struct {
	client   sarama.ConsumerGroup
	config   ConsumerConfig
	handlers map[string]TopicHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer 创建消费者
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	sc.Consumer.Offsets.Initial = cfg.OffsetInitial
	sc.Consumer.Offsets.AutoCommit.Enable = cfg.AutoCommit

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		client:   client,
		config:   cfg,
		handlers: make(map[string]TopicHandler),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Handle 注册 topic 处理器 (Start 之前调用)
func (c *Consumer) Handle(topic string, handler TopicHandler) {
	c.handlers[topic] = handler
}

// Start 启动消费 (订阅所有已注册 topic)
func (c *Consumer) Start() {
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// 加入消费者组 (rebalance 后 Consume 返回，循环重入)
			h := &groupHandler{handlers: c.handlers}
			if err := c.client.Consume(c.ctx, topics, h); err != nil {
				log.Printf("[Kafka] consume error: %v", err)
			}

			if c.ctx.Err() != nil {
				return
			}
		}
	}()
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// =============================================================================
// Sarama ConsumerGroupHandler 实现
// =============================================================================

type groupHandler struct {
	handlers map[string]TopicHandler
}

func (h *groupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if handler, ok := h.handlers[msg.Topic]; ok {
			if err := handler(msg.Key, msg.Value); err != nil {
				log.Printf("[Kafka] handle error: topic=%s, offset=%d, err=%v", msg.Topic, msg.Offset, err)
				// 继续处理下一条，不中断
			}
		}

		session.MarkMessage(msg, "")
	}
	return nil
}
