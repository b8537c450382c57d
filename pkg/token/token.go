// 文件: pkg/token/token.go
// 抵押代币适配器 - 接口定义
//
// 【职责】
// 抽象稳定币 (如 IDRX) 的转账/授权语义，金库引擎只依赖此接口:
// - 可以接入链上代币网关
// - 可以接入内存实现 (本地开发/测试)
//
// 【约定】
// 任何返回非 nil error 的操作都视为硬失败，调用方必须整体回滚，
// 不允许出现"钱动了但账没记"的中间状态。

package token

import "errors"

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrInvalidAmount         = errors.New("amount must be positive")
)

// =============================================================================
// Token - 稳定币账本接口
// =============================================================================

// Token 稳定币账本
//
// 金额单位为代币最小单位 (int64)，账户用 int64 ID 标识。
// Address 返回代币的资产地址，用于订单中的抵押资产校验。
type Token interface {
	// Address 代币资产地址 (订单 collateral 字段与之比对)
	Address() string

	// BalanceOf 查询余额
	BalanceOf(account int64) int64

	// Allowance 查询授权额度 (owner 授权给 spender 的剩余额度)
	Allowance(owner, spender int64) int64

	// Approve 设置授权额度 (覆盖语义，非累加)
	Approve(owner, spender int64, amount int64) error

	// Transfer 直接转账 (from 的可用余额 -> to)
	Transfer(from, to int64, amount int64) error

	// TransferFrom 授权转账 (spender 代表 owner 转给 to，扣减授权额度)
	// 额度不足返回 ErrInsufficientAllowance，余额不足返回 ErrInsufficientBalance
	TransferFrom(owner, spender, to int64, amount int64) error

	// Mint 铸造 (测试/本地环境使用)
	Mint(to int64, amount int64) error
}
