// 文件: pkg/token/memory.go
// 抵押代币适配器 - 内存实现
//
// 【用途】
// - 本地开发与单元测试
// - 模拟标准 ERC20 的 balance/allowance 语义
//
// 【并发】
// 单把互斥锁保护全部状态。金库引擎本身是单线程串行调用，
// 这里加锁是为了让模拟器/测试可以从多个 goroutine 直接操作。

package token

import "sync"

// 确保实现了接口
var _ Token = (*MemoryToken)(nil)

// MemoryToken 内存稳定币账本
type MemoryToken struct {
	addr string

	mu         sync.Mutex
	balances   map[int64]int64
	allowances map[int64]map[int64]int64 // owner -> spender -> amount
}

// NewMemoryToken 创建内存代币
// addr: 资产地址 (如 "IDRX")，不能为空
func NewMemoryToken(addr string) *MemoryToken {
	return &MemoryToken{
		addr:       addr,
		balances:   make(map[int64]int64),
		allowances: make(map[int64]map[int64]int64),
	}
}

// Address 代币资产地址
func (t *MemoryToken) Address() string {
	return t.addr
}

// BalanceOf 查询余额
func (t *MemoryToken) BalanceOf(account int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account]
}

// Allowance 查询授权额度
func (t *MemoryToken) Allowance(owner, spender int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.allowances[owner]; ok {
		return m[spender]
	}
	return 0
}

// Approve 设置授权额度 (覆盖语义)
func (t *MemoryToken) Approve(owner, spender int64, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[int64]int64)
		t.allowances[owner] = m
	}
	m[spender] = amount
	return nil
}

// Transfer 直接转账
func (t *MemoryToken) Transfer(from, to int64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.balances[from] < amount {
		return ErrInsufficientBalance
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

// TransferFrom 授权转账
//
// 先查额度再查余额，两项都满足才动账，保证失败时状态不变。
func (t *MemoryToken) TransferFrom(owner, spender, to int64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.allowances[owner]
	if m == nil || m[spender] < amount {
		return ErrInsufficientAllowance
	}
	if t.balances[owner] < amount {
		return ErrInsufficientBalance
	}

	m[spender] -= amount
	t.balances[owner] -= amount
	t.balances[to] += amount
	return nil
}

// Mint 铸造
func (t *MemoryToken) Mint(to int64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.balances[to] += amount
	return nil
}
