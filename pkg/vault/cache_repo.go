// 文件: pkg/vault/cache_repo.go
// 仓位读模型 Redis 缓存层
//
// 【设计模式】装饰器模式 (Decorator Pattern)
// - 包装底层 Repository，透明添加缓存能力
// - 调用方只看到 PositionRepository 接口
//
// 【缓存策略】
// - 读: 先查 Redis，miss 则查 DB 并回填
// - 写: 先写 DB，成功后删除该用户的缓存 (Cache Aside)
// - 只缓存按用户的查询: 前端仪表盘轮询的就是这几个

package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 确保实现了接口
var _ PositionRepository = (*CachedPositionRepository)(nil)

// =============================================================================
// 缓存配置
// =============================================================================

const (
	// 缓存 Key 前缀
	cacheKeyPrefix = "vault:pos:"

	// 用户全部仓位: vault:pos:owner:{owner}
	cacheKeyOwner = cacheKeyPrefix + "owner:%d"

	// 用户活跃仓位: vault:pos:active:{owner}
	cacheKeyActive = cacheKeyPrefix + "active:%d"

	// 用户累计权利金: vault:pos:premium:{owner}
	cacheKeyPremium = cacheKeyPrefix + "premium:%d"

	// 缓存过期时间 (仓位变动低频，事件回写会主动失效)
	cacheTTL = 10 * time.Minute
)

// =============================================================================
// CachedPositionRepository - 带缓存的 Repository
// =============================================================================

// CachedPositionRepository Redis 缓存装饰器
type CachedPositionRepository struct {
	repo  PositionRepository // 被装饰的底层 Repository
	redis *redis.Client
}

// NewCachedPositionRepository 创建带缓存的 Repository
//
// 用法:
//
//	mysqlRepo := NewMySQLPositionRepository(db)
//	cachedRepo := NewCachedPositionRepository(mysqlRepo, redisClient)
//	writer := NewNatsDBWriter(cachedRepo, natsURL)
func NewCachedPositionRepository(repo PositionRepository, rds *redis.Client) *CachedPositionRepository {
	return &CachedPositionRepository{
		repo:  repo,
		redis: rds,
	}
}

// =============================================================================
// 读操作 (带缓存)
// =============================================================================

// ListByOwner 某用户的全部仓位 (带缓存)
func (r *CachedPositionRepository) ListByOwner(ctx context.Context, owner int64) ([]*Position, error) {
	key := fmt.Sprintf(cacheKeyOwner, owner)

	// 1. 查缓存
	data, err := r.redis.Get(ctx, key).Bytes()
	if err == nil {
		var positions []*Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil // Cache hit
		}
	}

	// 2. Cache miss, 查底层
	positions, err := r.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	// 3. 回填缓存 (异步，不阻塞主流程)
	go r.setCache(context.Background(), key, positions)

	return positions, nil
}

// ListActiveByOwner 某用户的活跃仓位 (带缓存)
func (r *CachedPositionRepository) ListActiveByOwner(ctx context.Context, owner int64) ([]*Position, error) {
	key := fmt.Sprintf(cacheKeyActive, owner)

	data, err := r.redis.Get(ctx, key).Bytes()
	if err == nil {
		var positions []*Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := r.repo.ListActiveByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	go r.setCache(context.Background(), key, positions)

	return positions, nil
}

// SumPremiumByOwner 某用户累计权利金 (带缓存)
func (r *CachedPositionRepository) SumPremiumByOwner(ctx context.Context, owner int64) (int64, error) {
	key := fmt.Sprintf(cacheKeyPremium, owner)

	val, err := r.redis.Get(ctx, key).Int64()
	if err == nil {
		return val, nil
	}

	total, err := r.repo.SumPremiumByOwner(ctx, owner)
	if err != nil {
		return 0, err
	}

	go r.redis.Set(context.Background(), key, total, cacheTTL)

	return total, nil
}

// GetByPositionID 单仓位查询不缓存，直接查底层
func (r *CachedPositionRepository) GetByPositionID(ctx context.Context, positionID int64) (*Position, error) {
	return r.repo.GetByPositionID(ctx, positionID)
}

// =============================================================================
// 写操作 (写穿 + 删缓存)
// =============================================================================

// Insert 写入新仓位
func (r *CachedPositionRepository) Insert(ctx context.Context, pos *Position) error {
	if err := r.repo.Insert(ctx, pos); err != nil {
		return err
	}

	r.invalidateOwner(ctx, pos.Owner)
	return nil
}

// MarkClosed 标记平仓
func (r *CachedPositionRepository) MarkClosed(ctx context.Context, positionID, closedAt int64) error {
	// 先拿 owner 才能精确失效
	pos, err := r.repo.GetByPositionID(ctx, positionID)
	if err != nil {
		return err
	}

	if err := r.repo.MarkClosed(ctx, positionID, closedAt); err != nil {
		return err
	}

	r.invalidateOwner(ctx, pos.Owner)
	return nil
}

// =============================================================================
// 缓存操作
// =============================================================================

// setCache 设置列表缓存
func (r *CachedPositionRepository) setCache(ctx context.Context, key string, positions []*Position) {
	data, err := json.Marshal(positions)
	if err != nil {
		return
	}
	r.redis.Set(ctx, key, data, cacheTTL)
}

// invalidateOwner 删除某用户的全部缓存
func (r *CachedPositionRepository) invalidateOwner(ctx context.Context, owner int64) {
	r.redis.Del(ctx,
		fmt.Sprintf(cacheKeyOwner, owner),
		fmt.Sprintf(cacheKeyActive, owner),
		fmt.Sprintf(cacheKeyPremium, owner),
	)
}
