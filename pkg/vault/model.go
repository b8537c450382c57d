// 文件: pkg/vault/model.go
// 期权金库 - 核心数据模型
//
// 【存储策略】
// - 权威状态: 引擎内存 (单线程串行修改) + WAL 恢复
// - 读模型: MySQL (持久化查询) + Redis (查询加速)，由事件管道异步回写

package vault

import "time"

// =============================================================================
// 平台参数常量
// =============================================================================

const (
	// RateBase 费率基数 (万分比)
	// platformFee = 1000 表示 10%
	RateBase = 10000

	// DefaultPlatformFee 默认平台费率 (10%)
	DefaultPlatformFee = 1000

	// MaxPlatformFee 平台费率硬上限 (20%)，任何超过此值的更新直接拒绝
	MaxPlatformFee = 2000

	// DefaultMinCollateral 默认最低抵押 (代币最小单位)
	DefaultMinCollateral = 1_000_000

	// DefaultPremiumRate 简单开仓流程的默认权利金报价 (1%)
	DefaultPremiumRate = 100

	// MinExpiryDuration 仓位最短存续期
	MinExpiryDuration = 24 * time.Hour

	// MaxExpiryDuration 仓位最长存续期
	MaxExpiryDuration = 365 * 24 * time.Hour
)

// =============================================================================
// 策略变体
// =============================================================================

// Strategy 期权策略变体，由 isCall/isLong 组合决定
type Strategy string

const (
	StrategyCashSecuredPut Strategy = "CASH_SECURED_PUT" // 卖出看跌 (isCall=false, isLong=false)
	StrategyCoveredCall    Strategy = "COVERED_CALL"     // 卖出看涨 (isCall=true,  isLong=false)
	StrategyLongCall       Strategy = "LONG_CALL"        // 买入看涨 (isCall=true,  isLong=true)
	StrategyLongPut        Strategy = "LONG_PUT"         // 买入看跌 (isCall=false, isLong=true)
)

// StrategyOf 根据方向标志得到策略变体
func StrategyOf(isCall, isLong bool) Strategy {
	switch {
	case isCall && isLong:
		return StrategyLongCall
	case isCall && !isLong:
		return StrategyCoveredCall
	case !isCall && isLong:
		return StrategyLongPut
	default:
		return StrategyCashSecuredPut
	}
}

// =============================================================================
// Position - 用户仓位
// =============================================================================

// Position 一张期权合约的抵押仓位
//
// 【状态机】Created (IsActive=true) -> Closed (IsActive=false)，单向且只走一次。
// autoRoll 到期续作由外部调度器负责，续作产生的是带新 ID 的新仓位。
//
// 金额单位为抵押代币最小单位；gorm 标签服务于 MySQL 读模型。
type Position struct {
	ID         uint  `gorm:"primaryKey;autoIncrement" json:"-"`
	PositionID int64 `gorm:"column:position_id;uniqueIndex" json:"position_id"` // 引擎内单调递增，永不复用
	Owner      int64 `gorm:"column:owner;index" json:"owner"`                   // 创建时确定，终身不变

	// ===== 抵押与收益 =====
	Collateral      int64 `gorm:"column:collateral" json:"collateral"`             // 锁定抵押
	PremiumReceived int64 `gorm:"column:premium_received" json:"premium_received"` // 创建时一次性支付，不退

	// ===== 期权参数 =====
	StrikePrice int64 `gorm:"column:strike_price" json:"strike_price"` // 行权价，非零
	Expiry      int64 `gorm:"column:expiry" json:"expiry"`             // 到期时间 (unix 秒)
	IsCall      bool  `gorm:"column:is_call" json:"is_call"`
	IsLong      bool  `gorm:"column:is_long" json:"is_long"`

	// ===== 生命周期 =====
	IsActive bool `gorm:"column:is_active;index" json:"is_active"`
	AutoRoll bool `gorm:"column:auto_roll" json:"auto_roll"` // 到期续作标志，引擎只存储不执行

	CreatedAt int64 `gorm:"column:created_at" json:"created_at"`
	ClosedAt  int64 `gorm:"column:closed_at" json:"closed_at"` // 未平仓为 0
}

// TableName GORM 表名
func (Position) TableName() string {
	return "vault_positions"
}

// Strategy 仓位的策略变体
func (p *Position) Strategy() Strategy {
	return StrategyOf(p.IsCall, p.IsLong)
}

// IsExpired 是否已到期
func (p *Position) IsExpired(now int64) bool {
	return now >= p.Expiry
}

// Clone 创建副本 (查询接口返回副本，外部拿不到内部指针)
func (p *Position) Clone() Position {
	return *p
}
