// 文件: pkg/vault/db_writer.go
// 读模型回写器
//
// 监听金库事件，写入 MySQL 读模型:
// - vault.position.created: 插入仓位
// - vault.position.closed:  标记平仓
//
// 事件可能重复投递 (回放补发)，写入靠 position_id 唯一索引幂等。
// 投影逻辑与传输解耦: positionProjector 只认事件字节，
// NatsDBWriter / KafkaDBWriter 各自接一种总线。

package vault

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"nunggu.com/pkg/nats"
)

// =============================================================================
// positionProjector - 事件到读模型的投影
// =============================================================================

// positionProjector 把金库事件投影到仓位读模型
type positionProjector struct {
	repo PositionRepository

	// 统计
	stats struct {
		CreatedReceived int64
		ClosedReceived  int64
		WrittenCount    int64
		SkippedCount    int64 // 幂等跳过
		ErrorCount      int64
	}
	mu sync.Mutex
}

func newPositionProjector(repo PositionRepository) *positionProjector {
	return &positionProjector{repo: repo}
}

// handleCreated 开仓事件 -> 插入读模型
func (w *positionProjector) handleCreated(data []byte) error {
	var event PositionCreatedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		w.addError()
		return err
	}

	w.mu.Lock()
	w.stats.CreatedReceived++
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pos := &Position{
		PositionID:      event.PositionID,
		Owner:           event.Owner,
		Collateral:      event.Collateral,
		PremiumReceived: event.Premium,
		StrikePrice:     event.Strike,
		Expiry:          event.Expiry,
		IsCall:          event.IsCall,
		IsLong:          event.IsLong,
		IsActive:        true,
		AutoRoll:        event.AutoRoll,
		CreatedAt:       event.CreatedAt,
	}

	if err := w.repo.Insert(ctx, pos); err != nil {
		if errors.Is(err, ErrPositionExists) {
			// 重复投递，幂等跳过
			w.mu.Lock()
			w.stats.SkippedCount++
			w.mu.Unlock()
			return nil
		}
		w.addError()
		log.Printf("[DBWriter] insert position failed: position=%d err=%v", event.PositionID, err)
		return err
	}

	w.mu.Lock()
	w.stats.WrittenCount++
	w.mu.Unlock()
	return nil
}

// handleClosed 平仓事件 -> 标记读模型
func (w *positionProjector) handleClosed(data []byte) error {
	var event PositionClosedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		w.addError()
		return err
	}

	w.mu.Lock()
	w.stats.ClosedReceived++
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.repo.MarkClosed(ctx, event.PositionID, event.ClosedAt); err != nil {
		if errors.Is(err, ErrPositionNotFound) {
			// 已标记或事件乱序，幂等跳过
			w.mu.Lock()
			w.stats.SkippedCount++
			w.mu.Unlock()
			return nil
		}
		w.addError()
		log.Printf("[DBWriter] mark closed failed: position=%d err=%v", event.PositionID, err)
		return err
	}

	w.mu.Lock()
	w.stats.WrittenCount++
	w.mu.Unlock()
	return nil
}

func (w *positionProjector) addError() {
	w.mu.Lock()
	w.stats.ErrorCount++
	w.mu.Unlock()
}

// Stats 获取统计
func (w *positionProjector) Stats() map[string]int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]int64{
		"created_received": w.stats.CreatedReceived,
		"closed_received":  w.stats.ClosedReceived,
		"written_count":    w.stats.WrittenCount,
		"skipped_count":    w.stats.SkippedCount,
		"error_count":      w.stats.ErrorCount,
	}
}

// =============================================================================
// NatsDBWriter - NATS 读模型回写器
// =============================================================================

// NatsDBWriter 监听 NATS 金库事件并回写读模型
type NatsDBWriter struct {
	*positionProjector
	subscriber *nats.Subscriber
}

// NewNatsDBWriter 创建回写器
func NewNatsDBWriter(repo PositionRepository, natsURL string) (*NatsDBWriter, error) {
	w := &NatsDBWriter{positionProjector: newPositionProjector(repo)}

	subscriber, err := nats.NewSubscriber(natsURL, w.handleMessage)
	if err != nil {
		return nil, err
	}
	w.subscriber = subscriber

	return w, nil
}

// Start 启动监听
// 队列订阅: 多实例回写器之间负载均衡，不重复写
func (w *NatsDBWriter) Start() error {
	if err := w.subscriber.SubscribeQueue(TopicPositionCreated, "db-writer"); err != nil {
		return err
	}
	if err := w.subscriber.SubscribeQueue(TopicPositionClosed, "db-writer"); err != nil {
		return err
	}
	return nil
}

// Stop 停止
func (w *NatsDBWriter) Stop() error {
	return w.subscriber.Close()
}

// handleMessage 分发消息 (独立方法便于单元测试)
func (w *NatsDBWriter) handleMessage(subject string, data []byte) error {
	switch subject {
	case TopicPositionCreated:
		return w.handleCreated(data)
	case TopicPositionClosed:
		return w.handleClosed(data)
	}
	return nil
}
