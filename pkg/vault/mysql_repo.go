// 文件: pkg/vault/mysql_repo.go
// 仓位读模型 MySQL 实现
//
// 【设计】
// - 使用 GORM 作为 ORM，Position 的 gorm 标签见 model.go
// - 所有操作带 context 支持超时控制
// - 回写器可能重复投递，Insert 靠 position_id 唯一索引去重

package vault

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// 确保实现了接口
var _ PositionRepository = (*MySQLPositionRepository)(nil)

// MySQLPositionRepository MySQL 实现
type MySQLPositionRepository struct {
	db *gorm.DB
}

// NewMySQLPositionRepository 创建 MySQL 存储
func NewMySQLPositionRepository(db *gorm.DB) *MySQLPositionRepository {
	return &MySQLPositionRepository{db: db}
}

// =============================================================================
// 接口实现
// =============================================================================

// Insert 写入新仓位
func (r *MySQLPositionRepository) Insert(ctx context.Context, pos *Position) error {
	err := r.db.WithContext(ctx).Create(pos).Error
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrPositionExists
		}
		return err
	}
	return nil
}

// MarkClosed 标记平仓
func (r *MySQLPositionRepository) MarkClosed(ctx context.Context, positionID, closedAt int64) error {
	result := r.db.WithContext(ctx).
		Model(&Position{}).
		Where("position_id = ? AND is_active = ?", positionID, true).
		Updates(map[string]interface{}{
			"is_active": false,
			"closed_at": closedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPositionNotFound
	}
	return nil
}

// GetByPositionID 按引擎仓位 ID 查询
func (r *MySQLPositionRepository) GetByPositionID(ctx context.Context, positionID int64) (*Position, error) {
	var pos Position
	err := r.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		First(&pos).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return &pos, nil
}

// ListByOwner 某用户的全部仓位
func (r *MySQLPositionRepository) ListByOwner(ctx context.Context, owner int64) ([]*Position, error) {
	var positions []*Position
	err := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("position_id ASC").
		Find(&positions).Error
	return positions, err
}

// ListActiveByOwner 某用户的活跃仓位
func (r *MySQLPositionRepository) ListActiveByOwner(ctx context.Context, owner int64) ([]*Position, error) {
	var positions []*Position
	err := r.db.WithContext(ctx).
		Where("owner = ? AND is_active = ?", owner, true).
		Order("position_id ASC").
		Find(&positions).Error
	return positions, err
}

// SumPremiumByOwner 某用户累计权利金
func (r *MySQLPositionRepository) SumPremiumByOwner(ctx context.Context, owner int64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&Position{}).
		Where("owner = ?", owner).
		Select("COALESCE(SUM(premium_received), 0)").
		Scan(&total).Error
	return total, err
}

// =============================================================================
// 辅助函数
// =============================================================================

// isDuplicateKeyError 判断是否为重复键错误
// MySQL error code 1062 = Duplicate entry
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "1062")
}
