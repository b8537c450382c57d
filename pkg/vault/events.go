// 文件: pkg/vault/events.go
// 金库事件定义与发布
//
// 引擎每次状态变更发布一条事件，下游 (读模型回写器/风控/通知)
// 按需订阅。事件走 NATS (本地/轻量) 或 Kafka (生产)，
// 两种通道共用同一套载荷。
//
// 【兼容性契约】
// PositionCreatedEvent 的字段集 (owner, position_id, collateral,
// premium, strike, expiry, is_call, is_long) 已被下游依赖，
// 只能追加字段，不能改名或删除。

package vault

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// 主题定义
// =============================================================================

const (
	TopicPositionCreated = "vault.position.created"
	TopicPositionClosed  = "vault.position.closed"
	TopicFeesWithdrawn   = "vault.fees.withdrawn"
)

// =============================================================================
// 事件载荷
// =============================================================================

// PositionCreatedEvent 开仓事件
type PositionCreatedEvent struct {
	EventID    int64 `json:"event_id"`
	Owner      int64 `json:"owner"`
	PositionID int64 `json:"position_id"`
	Collateral int64 `json:"collateral"`
	Premium    int64 `json:"premium"`
	Strike     int64 `json:"strike"`
	Expiry     int64 `json:"expiry"`
	IsCall     bool  `json:"is_call"`
	IsLong     bool  `json:"is_long"`
	AutoRoll   bool  `json:"auto_roll"`
	CreatedAt  int64 `json:"created_at"`
}

// NewPositionCreatedEvent 从仓位构建开仓事件
func NewPositionCreatedEvent(pos *Position) *PositionCreatedEvent {
	return &PositionCreatedEvent{
		EventID:    nextEventID(),
		Owner:      pos.Owner,
		PositionID: pos.PositionID,
		Collateral: pos.Collateral,
		Premium:    pos.PremiumReceived,
		Strike:     pos.StrikePrice,
		Expiry:     pos.Expiry,
		IsCall:     pos.IsCall,
		IsLong:     pos.IsLong,
		AutoRoll:   pos.AutoRoll,
		CreatedAt:  pos.CreatedAt,
	}
}

// PositionClosedEvent 平仓事件
type PositionClosedEvent struct {
	EventID    int64 `json:"event_id"`
	Owner      int64 `json:"owner"`
	PositionID int64 `json:"position_id"`
	Collateral int64 `json:"collateral"` // 归还的抵押
	ClosedAt   int64 `json:"closed_at"`
}

// NewPositionClosedEvent 从仓位构建平仓事件
func NewPositionClosedEvent(pos *Position) *PositionClosedEvent {
	return &PositionClosedEvent{
		EventID:    nextEventID(),
		Owner:      pos.Owner,
		PositionID: pos.PositionID,
		Collateral: pos.Collateral,
		ClosedAt:   pos.ClosedAt,
	}
}

// FeesWithdrawnEvent 手续费提取事件
type FeesWithdrawnEvent struct {
	EventID     int64 `json:"event_id"`
	To          int64 `json:"to"`
	Amount      int64 `json:"amount"`
	WithdrawnAt int64 `json:"withdrawn_at"`
}

// =============================================================================
// kafka.Message 接口实现 (Kafka 通道用)
// =============================================================================

// Topic 返回 Kafka topic
func (e *PositionCreatedEvent) Topic() string { return TopicPositionCreated }

// Key 返回分区 key (按 Owner 分区，同一用户事件保序)
func (e *PositionCreatedEvent) Key() string { return fmt.Sprintf("%d", e.Owner) }

// Value 返回序列化后的消息体
func (e *PositionCreatedEvent) Value() ([]byte, error) { return json.Marshal(e) }

// Topic 返回 Kafka topic
func (e *PositionClosedEvent) Topic() string { return TopicPositionClosed }

// Key 返回分区 key
func (e *PositionClosedEvent) Key() string { return fmt.Sprintf("%d", e.Owner) }

// Value 返回序列化后的消息体
func (e *PositionClosedEvent) Value() ([]byte, error) { return json.Marshal(e) }

// Topic 返回 Kafka topic
func (e *FeesWithdrawnEvent) Topic() string { return TopicFeesWithdrawn }

// Key 返回分区 key
func (e *FeesWithdrawnEvent) Key() string { return fmt.Sprintf("%d", e.To) }

// Value 返回序列化后的消息体
func (e *FeesWithdrawnEvent) Value() ([]byte, error) { return json.Marshal(e) }

// =============================================================================
// EventPublisher 接口
// =============================================================================

// EventPublisher 金库事件发布器
// 引擎只依赖接口，具体通道在装配时决定
type EventPublisher interface {
	PublishPositionCreated(e *PositionCreatedEvent) error
	PublishPositionClosed(e *PositionClosedEvent) error
	PublishFeesWithdrawn(e *FeesWithdrawnEvent) error
	Close() error
}
