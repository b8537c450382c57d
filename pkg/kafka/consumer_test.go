// 文件: pkg/kafka/consumer_test.go
// 消费者分发逻辑测试 (用假 session/claim，不依赖 broker)

package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClaim 预灌消息的分区 claim
type fakeClaim struct {
	topic string
	msgs  chan *sarama.ConsumerMessage
}

func newFakeClaim(topic string, msgs ...*sarama.ConsumerMessage) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &fakeClaim{topic: topic, msgs: ch}
}

func (c *fakeClaim) Topic() string                            { return c.topic }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return int64(len(c.msgs)) }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

// fakeSession 只记录 MarkMessage 调用
type fakeSession struct {
	marked []*sarama.ConsumerMessage
}

func (s *fakeSession) Claims() map[string][]int32                               { return nil }
func (s *fakeSession) MemberID() string                                         { return "test" }
func (s *fakeSession) GenerationID() int32                                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)                  {}
func (s *fakeSession) Commit()                                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string)                 {}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string)        { s.marked = append(s.marked, msg) }
func (s *fakeSession) Context() context.Context                                 { return context.Background() }

func msg(topic, key, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: topic, Key: []byte(key), Value: []byte(value)}
}

func TestGroupHandler_DispatchByTopic(t *testing.T) {
	var got []string
	h := &groupHandler{handlers: map[string]TopicHandler{
		"vault.position.created": func(key, value []byte) error {
			got = append(got, string(value))
			return nil
		},
	}}

	session := &fakeSession{}
	claim := newFakeClaim("vault.position.created",
		msg("vault.position.created", "100", "a"),
		msg("vault.position.created", "100", "b"),
	)

	require.NoError(t, h.ConsumeClaim(session, claim))
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Len(t, session.marked, 2, "每条消息都要 mark")
}

func TestGroupHandler_HandlerErrorDoesNotStop(t *testing.T) {
	var handled int
	h := &groupHandler{handlers: map[string]TopicHandler{
		"vault.position.created": func(key, value []byte) error {
			handled++
			if handled == 1 {
				return errors.New("db down")
			}
			return nil
		},
	}}

	session := &fakeSession{}
	claim := newFakeClaim("vault.position.created",
		msg("vault.position.created", "100", "a"),
		msg("vault.position.created", "100", "b"),
	)

	// 单条失败只记日志，后续消息照常处理且全部 mark
	require.NoError(t, h.ConsumeClaim(session, claim))
	assert.Equal(t, 2, handled)
	assert.Len(t, session.marked, 2)
}

func TestGroupHandler_UnregisteredTopicStillMarked(t *testing.T) {
	h := &groupHandler{handlers: map[string]TopicHandler{}}

	session := &fakeSession{}
	claim := newFakeClaim("vault.unknown", msg("vault.unknown", "k", "v"))

	require.NoError(t, h.ConsumeClaim(session, claim))
	assert.Len(t, session.marked, 1, "没有处理器也不能卡住 offset")
}

func TestDefaultConsumerConfig(t *testing.T) {
	cfg := DefaultConsumerConfig([]string{"localhost:9092"}, "db-writer")
	assert.Equal(t, sarama.OffsetOldest, cfg.OffsetInitial, "重建读模型要从头消费")
	assert.True(t, cfg.AutoCommit)
}
