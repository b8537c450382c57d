// 文件: pkg/vault/repository.go
// 仓位读模型存储接口
//
// 【设计模式】Repository Pattern
// - 引擎内存是权威状态，这里只是异步回写的读模型
// - 回写器只依赖接口，不关心具体实现
// - 方便替换存储引擎、添加缓存层

package vault

import (
	"context"
	"errors"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionExists   = errors.New("position already exists")
)

// PositionRepository 仓位读模型存储接口
type PositionRepository interface {
	// Insert 写入新仓位
	// position_id 已存在返回 ErrPositionExists (事件重放天然幂等)
	Insert(ctx context.Context, pos *Position) error

	// MarkClosed 标记平仓
	// 仓位不存在或已平仓返回 ErrPositionNotFound
	MarkClosed(ctx context.Context, positionID, closedAt int64) error

	// GetByPositionID 按引擎仓位 ID 查询
	// 不存在返回 ErrPositionNotFound
	GetByPositionID(ctx context.Context, positionID int64) (*Position, error)

	// ListByOwner 某用户的全部仓位 (创建序)
	ListByOwner(ctx context.Context, owner int64) ([]*Position, error)

	// ListActiveByOwner 某用户的活跃仓位
	ListActiveByOwner(ctx context.Context, owner int64) ([]*Position, error)

	// SumPremiumByOwner 某用户累计权利金
	SumPremiumByOwner(ctx context.Context, owner int64) (int64, error)
}
