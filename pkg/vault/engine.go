// 文件: pkg/vault/engine.go
// 期权金库引擎 - 主引擎
//
// 核心职责:
// 1. 托管用户抵押，验证并成交做市商签名订单
// 2. 维护仓位账本与平台聚合指标 (TVL / 累计仓位数)
// 3. 权利金分账 (用户收益 vs 平台手续费)
// 4. 管理员护栏 (费率上限 / 最低抵押 / 暂停开关)
//
// 【执行模型】
// 所有变更操作封装为 Command，由单个 goroutine 串行处理:
// - 每次调用都是一个原子工作单元，外部看不到中间状态
// - 两个并发 CreatePosition 被队列严格排序，计数器不会读到半更新值
// - 代币实现如果从转账回调回引擎，会在队列上自我阻塞而不是
//   观察到半更新状态 (重入在结构上不可能发生)
//
// 架构:
//
//   调用方 (模拟器/网关)
//          │
//          ▼
//   ┌───────────────────┐      ┌──────────────┐
//   │   VaultEngine     │─────▶│  WAL (恢复)  │
//   │   - 命令串行化    │      └──────────────┘
//   │   - 账本/分账     │─────▶ token.Token (抵押转账)
//   └───────────────────┘─────▶ EventPublisher (NATS/Kafka)
//          │
//          ▼
//   查询接口 (RWMutex 读，暂停期间仍可用)

package vault

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"nunggu.com/pkg/optionbook"
	"nunggu.com/pkg/token"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	// 构造参数校验 (逐字段报错)
	ErrInvalidTokenAddress     = errors.New("invalid collateral token address")
	ErrInvalidOrderBookAddress = errors.New("invalid order book address")
	ErrInvalidOracleAddress    = errors.New("invalid price oracle address")
	ErrInvalidNativeAddress    = errors.New("invalid native asset address")

	// 输入校验
	ErrBelowMinCollateral = errors.New("collateral below minimum")
	ErrInvalidStrike      = errors.New("invalid strike price")
	ErrInvalidExpiry      = errors.New("invalid expiry duration")
	ErrFeeTooHigh         = errors.New("fee too high")
	ErrInvalidMinimum     = errors.New("invalid minimum collateral")

	// 权限
	ErrNotOwner         = errors.New("caller is not the platform owner")
	ErrNotOwnerOrClosed = errors.New("not position owner or already closed")

	// 运行状态
	ErrContractPaused = errors.New("vault is paused")
	ErrEngineClosed   = errors.New("vault engine is not running")
	ErrCommandTimeout = errors.New("command timeout")

	// 资金
	ErrInsufficientLiquidity = errors.New("insufficient vault liquidity for premium")
)

// =============================================================================
// 配置
// =============================================================================

// VaultConfig 引擎配置
type VaultConfig struct {
	// Token 抵押代币账本 (必填)
	Token token.Token

	// 外部协作方引用 (构造时逐个校验非空)
	OrderBookAddr   string // 做市订单簿
	PriceOracleAddr string // 价格预言机
	NativeAssetAddr string // 原生资产占位

	// Owner 平台管理员账户
	Owner int64

	// VaultAccount 金库自身的代币账户 (托管抵押和手续费)
	VaultAccount int64

	// 平台参数 (零值取默认)
	PlatformFeeBps      int64 // 平台费率 (万分比)，默认 DefaultPlatformFee
	MinCollateral       int64 // 最低抵押，默认 DefaultMinCollateral
	PremiumRateBps      int64 // 简单开仓的权利金报价 (万分比)，默认 DefaultPremiumRate
	PremiumToleranceBps int64 // 订单成交的权利金容差，透传给校验器

	// CommandQueueLen 命令队列长度
	CommandQueueLen int

	// DefaultTimeout 命令默认超时
	DefaultTimeout time.Duration

	// WALDir WAL 目录，为空则不启用
	WALDir string

	// Publisher 事件发布器 (可选，nil 则不发事件)
	Publisher EventPublisher

	// Now 账本时间源 (unix 秒)，nil 则用系统时钟。测试可注入。
	Now func() int64
}

// DefaultVaultConfig 返回默认配置 (仍需补 Token 等必填项)
func DefaultVaultConfig() VaultConfig {
	return VaultConfig{
		PlatformFeeBps:  DefaultPlatformFee,
		MinCollateral:   DefaultMinCollateral,
		PremiumRateBps:  DefaultPremiumRate,
		CommandQueueLen: 1024,
		DefaultTimeout:  time.Second,
	}
}

// =============================================================================
// 命令定义
// =============================================================================

type cmdType uint8

const (
	cmdCreate cmdType = iota + 1 // 简单开仓
	cmdExecute                   // 成交做市订单
	cmdClose                     // 平仓
	cmdUpdateFee                 // 更新费率
	cmdUpdateMin                 // 更新最低抵押
	cmdPause                     // 暂停
	cmdUnpause                   // 恢复
	cmdWithdraw                  // 提取手续费
)

type cmdResult struct {
	positionID int64
	err        error
}

// command 变更命令
// 所有写操作都走命令队列，由 processLoop 单线程执行
type command struct {
	typ    cmdType
	caller int64

	// 开仓参数
	collateral     int64
	strike         int64
	expiryDuration time.Duration
	autoRoll       bool

	// 订单成交参数
	order           *optionbook.Order
	sig             []byte
	expectedPremium int64

	// 平仓参数
	positionID int64

	// 管理参数
	feeBps     int64
	minimum    int64
	withdrawTo int64

	result chan cmdResult
}

// =============================================================================
// VaultEngine - 主引擎
// =============================================================================

// EngineStats 引擎统计 (监控用)
type EngineStats struct {
	TotalCommands   uint64
	CreatedCount    uint64
	ClosedCount     uint64
	RejectCount     uint64
	EventsPublished uint64
}

// walLog 引擎侧的 WAL 依赖面
type walLog interface {
	Append(*WALEntry) error
	Recover(func(*WALEntry) error) (uint64, error)
	Close() error
}

// VaultEngine 期权金库引擎
//
// 使用示例:
//
//	engine, err := vault.NewEngine(cfg)
//	engine.Start()
//	defer engine.Stop()
//
//	id, err := engine.CreatePosition(user, 40_000_000, 40_000_000, 7*24*time.Hour, false)
//	positions := engine.GetUserPositions(user)
//	err = engine.ClosePosition(user, id)
type VaultEngine struct {
	cfg      VaultConfig
	token    token.Token
	verifier *optionbook.Verifier
	wal      walLog
	pub      EventPublisher
	now      func() int64

	// ===== 账本状态 =====
	// 只在 processLoop 内持写锁修改；查询接口持读锁
	mu                    sync.RWMutex
	positions             []*Position       // 下标 = PositionID - 1
	userIndex             map[int64][]int64 // Owner -> PositionIDs (创建序)
	totalValueLocked      int64
	totalPositionsCreated int64
	platformFee           int64
	minCollateral         int64
	collectedFees         int64
	paused                bool

	// ===== 命令队列 =====
	cmdCh chan command

	// ===== 生命周期 =====
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// ===== 统计 =====
	stats EngineStats
}

// NewEngine 创建金库引擎
//
// 构造时校验全部外部引用，任何一个为空都拒绝部署:
// 这些地址一旦错了，后面所有成交都会失败在更难定位的地方。
func NewEngine(cfg VaultConfig) (*VaultEngine, error) {
	if cfg.Token == nil || cfg.Token.Address() == "" {
		return nil, ErrInvalidTokenAddress
	}
	if cfg.OrderBookAddr == "" {
		return nil, ErrInvalidOrderBookAddress
	}
	if cfg.PriceOracleAddr == "" {
		return nil, ErrInvalidOracleAddress
	}
	if cfg.NativeAssetAddr == "" {
		return nil, ErrInvalidNativeAddress
	}

	if cfg.PlatformFeeBps <= 0 {
		cfg.PlatformFeeBps = DefaultPlatformFee
	}
	if cfg.PlatformFeeBps > MaxPlatformFee {
		return nil, ErrFeeTooHigh
	}
	if cfg.MinCollateral <= 0 {
		cfg.MinCollateral = DefaultMinCollateral
	}
	if cfg.PremiumRateBps <= 0 {
		cfg.PremiumRateBps = DefaultPremiumRate
	}
	if cfg.CommandQueueLen <= 0 {
		cfg.CommandQueueLen = 1024
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = time.Second
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() int64 { return time.Now().Unix() }
	}

	e := &VaultEngine{
		cfg:   cfg,
		token: cfg.Token,
		verifier: optionbook.NewVerifier(optionbook.VerifierConfig{
			CollateralAddr:      cfg.Token.Address(),
			PremiumToleranceBps: cfg.PremiumToleranceBps,
		}),
		pub:           cfg.Publisher,
		now:           nowFn,
		userIndex:     make(map[int64][]int64),
		platformFee:   cfg.PlatformFeeBps,
		minCollateral: cfg.MinCollateral,
		cmdCh:         make(chan command, cfg.CommandQueueLen),
		stopCh:        make(chan struct{}),
	}

	if cfg.WALDir != "" {
		wal, err := NewWAL(WALConfig{Dir: cfg.WALDir})
		if err != nil {
			return nil, fmt.Errorf("open vault wal: %w", err)
		}
		e.wal = wal
	}

	return e, nil
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动命令处理循环
func (e *VaultEngine) Start() {
	if e.running.Swap(true) {
		return
	}
	e.wg.Add(1)
	go e.processLoop()
}

// Stop 停止引擎 (处理完队列中剩余命令后退出)
func (e *VaultEngine) Stop() {
	if !e.running.Swap(false) {
		return
	}
	close(e.stopCh)
	e.wg.Wait()
	if e.wal != nil {
		e.wal.Close()
	}
}

// processLoop 命令处理主循环 (单线程)
func (e *VaultEngine) processLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			e.drainQueue()
			return
		case cmd := <-e.cmdCh:
			e.handle(cmd)
		}
	}
}

// drainQueue 优雅关闭: 处理完已入队的命令
func (e *VaultEngine) drainQueue() {
	for {
		select {
		case cmd := <-e.cmdCh:
			e.handle(cmd)
		default:
			return
		}
	}
}

// submit 提交命令并等待结果
func (e *VaultEngine) submit(cmd command) cmdResult {
	if !e.running.Load() {
		return cmdResult{err: ErrEngineClosed}
	}

	cmd.result = make(chan cmdResult, 1)

	select {
	case e.cmdCh <- cmd:
	case <-time.After(e.cfg.DefaultTimeout):
		return cmdResult{err: ErrCommandTimeout}
	}

	select {
	case res := <-cmd.result:
		return res
	case <-time.After(e.cfg.DefaultTimeout):
		return cmdResult{err: ErrCommandTimeout}
	}
}

// handle 分发命令
func (e *VaultEngine) handle(cmd command) {
	e.stats.TotalCommands++

	var res cmdResult
	switch cmd.typ {
	case cmdCreate:
		res.positionID, res.err = e.applyCreate(cmd)
	case cmdExecute:
		res.positionID, res.err = e.applyExecute(cmd)
	case cmdClose:
		res.err = e.applyClose(cmd)
	case cmdUpdateFee:
		res.err = e.applyUpdateFee(cmd)
	case cmdUpdateMin:
		res.err = e.applyUpdateMin(cmd)
	case cmdPause:
		res.err = e.applySetPaused(cmd, true)
	case cmdUnpause:
		res.err = e.applySetPaused(cmd, false)
	case cmdWithdraw:
		res.err = e.applyWithdraw(cmd)
	default:
		res.err = fmt.Errorf("unknown command type %d", cmd.typ)
	}

	if res.err != nil {
		e.stats.RejectCount++
	}
	cmd.result <- res
}

// =============================================================================
// 对外接口 - 变更操作
// =============================================================================

// CreatePosition 简单开仓
//
// 流程: 暂停/参数校验 -> 从调用方划转抵押 -> 按引擎报价支付权利金
// (扣除平台费) -> 记账 -> 发事件。任何一步失败整体回滚。
//
// 返回新仓位 ID。
func (e *VaultEngine) CreatePosition(caller int64, collateral, strike int64, expiryDuration time.Duration, autoRoll bool) (int64, error) {
	res := e.submit(command{
		typ:            cmdCreate,
		caller:         caller,
		collateral:     collateral,
		strike:         strike,
		expiryDuration: expiryDuration,
		autoRoll:       autoRoll,
	})
	return res.positionID, res.err
}

// ExecuteOrder 成交做市商签名订单并开仓
//
// 订单校验 (有效期/抵押资产/签名/上限/权利金容差) 全部通过后，
// 才进入与 CreatePosition 相同的开仓流程，仓位归执行方所有。
func (e *VaultEngine) ExecuteOrder(caller int64, order *optionbook.Order, sig []byte, collateralAmount, expectedPremium int64) (int64, error) {
	res := e.submit(command{
		typ:             cmdExecute,
		caller:          caller,
		order:           order,
		sig:             sig,
		collateral:      collateralAmount,
		expectedPremium: expectedPremium,
	})
	return res.positionID, res.err
}

// ClosePosition 平仓
//
// 仓位所有者随时可平；平台管理员 (结算路径) 只能在到期后代平。
// 重复平仓、平别人的仓、平不存在的仓一律 ErrNotOwnerOrClosed。
func (e *VaultEngine) ClosePosition(caller int64, positionID int64) error {
	return e.submit(command{typ: cmdClose, caller: caller, positionID: positionID}).err
}

// UpdateFee 更新平台费率 (仅管理员，硬上限 MaxPlatformFee)
func (e *VaultEngine) UpdateFee(caller int64, feeBps int64) error {
	return e.submit(command{typ: cmdUpdateFee, caller: caller, feeBps: feeBps}).err
}

// UpdateMinCollateral 更新最低抵押 (仅管理员，不允许为零)
func (e *VaultEngine) UpdateMinCollateral(caller int64, minimum int64) error {
	return e.submit(command{typ: cmdUpdateMin, caller: caller, minimum: minimum}).err
}

// Pause 暂停所有资金操作 (仅管理员，查询不受影响)
func (e *VaultEngine) Pause(caller int64) error {
	return e.submit(command{typ: cmdPause, caller: caller}).err
}

// Unpause 恢复 (仅管理员)
func (e *VaultEngine) Unpause(caller int64) error {
	return e.submit(command{typ: cmdUnpause, caller: caller}).err
}

// WithdrawFees 提取全部已归集手续费到 to (仅管理员)
// 余额为零时直接成功，不转账不发事件。
func (e *VaultEngine) WithdrawFees(caller int64, to int64) error {
	return e.submit(command{typ: cmdWithdraw, caller: caller, withdrawTo: to}).err
}

// =============================================================================
// 命令执行 (仅 processLoop 调用)
// =============================================================================

// applyCreate 简单开仓
func (e *VaultEngine) applyCreate(cmd command) (int64, error) {
	now := e.now()

	// ===== 检查 (不动任何状态) =====
	if e.paused {
		return 0, ErrContractPaused
	}
	if cmd.collateral < e.minCollateral {
		return 0, ErrBelowMinCollateral
	}
	if cmd.strike <= 0 {
		return 0, ErrInvalidStrike
	}
	if cmd.expiryDuration < MinExpiryDuration || cmd.expiryDuration > MaxExpiryDuration {
		return 0, ErrInvalidExpiry
	}

	// 权利金按引擎报价，平台费从权利金中截断扣除
	premium := cmd.collateral * e.cfg.PremiumRateBps / RateBase
	expiry := now + int64(cmd.expiryDuration/time.Second)

	return e.fill(cmd.caller, cmd.collateral, cmd.strike, expiry, premium, cmd.autoRoll, false, false, now)
}

// applyExecute 成交做市订单
func (e *VaultEngine) applyExecute(cmd command) (int64, error) {
	now := e.now()

	if e.paused {
		return 0, ErrContractPaused
	}

	// 订单校验在账本被触碰之前完成
	terms, err := e.verifier.Verify(cmd.order, cmd.sig, cmd.collateral, cmd.expectedPremium, now)
	if err != nil {
		return 0, err
	}

	// 成交条款套用与简单开仓一致的账本校验
	if cmd.collateral < e.minCollateral {
		return 0, ErrBelowMinCollateral
	}
	if terms.Strike <= 0 {
		return 0, ErrInvalidStrike
	}
	dur := time.Duration(terms.Expiry-now) * time.Second
	if dur < MinExpiryDuration || dur > MaxExpiryDuration {
		return 0, ErrInvalidExpiry
	}

	return e.fill(cmd.caller, cmd.collateral, terms.Strike, terms.Expiry, terms.Premium,
		false, cmd.order.IsCall, cmd.order.IsLong, now)
}

// fill 开仓公共路径
//
// 【检查-生效-交互纪律】
// 1. 到这里所有校验已通过，先完成全部代币交互
// 2. 代币交互全部成功后写 WAL，WAL 写失败整笔回退 (内存修改不会失败)
// 3. 权利金只能动用引擎自有流动性，碰不到用户抵押和已归集手续费
func (e *VaultEngine) fill(owner int64, collateral, strike, expiry, premium int64, autoRoll, isCall, isLong bool, now int64) (int64, error) {
	// ===== 交互: 划转抵押 =====
	if err := e.token.TransferFrom(owner, e.cfg.VaultAccount, e.cfg.VaultAccount, collateral); err != nil {
		return 0, err
	}

	fee := premium * e.platformFee / RateBase
	net := premium - fee

	// ===== 交互: 支付权利金 (引擎自有流动性) =====
	if net > 0 {
		liquidity := e.token.BalanceOf(e.cfg.VaultAccount) - e.totalValueLocked - collateral - e.collectedFees
		if liquidity < net {
			e.refundCollateral(owner, collateral)
			return 0, ErrInsufficientLiquidity
		}
		if err := e.token.Transfer(e.cfg.VaultAccount, owner, net); err != nil {
			e.refundCollateral(owner, collateral)
			return 0, fmt.Errorf("pay premium: %w", err)
		}
	}

	positionID := e.totalPositionsCreated + 1

	pos := &Position{
		PositionID:      positionID,
		Owner:           owner,
		Collateral:      collateral,
		PremiumReceived: premium,
		StrikePrice:     strike,
		Expiry:          expiry,
		IsCall:          isCall,
		IsLong:          isLong,
		IsActive:        true,
		AutoRoll:        autoRoll,
		CreatedAt:       now,
	}

	// ===== 生效: WAL 先行，落不了盘就不能让这笔账存在 =====
	if e.wal != nil {
		err := e.wal.Append(&WALEntry{
			Type:       WALCreate,
			Timestamp:  now,
			PositionID: positionID,
			Owner:      owner,
			Collateral: collateral,
			Premium:    premium,
			Fee:        fee,
			Strike:     strike,
			Expiry:     expiry,
			AutoRoll:   autoRoll,
			IsCall:     isCall,
			IsLong:     isLong,
		})
		if err != nil {
			if net > 0 {
				if rbErr := e.token.Transfer(owner, e.cfg.VaultAccount, net); rbErr != nil {
					log.Printf("[Vault] ROLLBACK FAILED: owner=%d premium=%d err=%v", owner, net, rbErr)
				}
			}
			e.refundCollateral(owner, collateral)
			return 0, fmt.Errorf("wal append: %w", err)
		}
	}

	e.mu.Lock()
	e.positions = append(e.positions, pos)
	e.userIndex[owner] = append(e.userIndex[owner], positionID)
	e.totalPositionsCreated = positionID
	e.totalValueLocked += collateral
	e.collectedFees += fee
	e.mu.Unlock()

	e.stats.CreatedCount++

	// ===== 事件 (兼容性契约载荷，字段不可改) =====
	e.publishCreated(pos)

	return positionID, nil
}

// refundCollateral 开仓被拒时退还抵押，并恢复 TransferFrom 扣掉的授权额度，
// 失败的请求不消耗调用方的任何东西
func (e *VaultEngine) refundCollateral(owner, collateral int64) {
	if err := e.token.Transfer(e.cfg.VaultAccount, owner, collateral); err != nil {
		log.Printf("[Vault] ROLLBACK FAILED: owner=%d collateral=%d err=%v", owner, collateral, err)
		return
	}
	restored := e.token.Allowance(owner, e.cfg.VaultAccount) + collateral
	if err := e.token.Approve(owner, e.cfg.VaultAccount, restored); err != nil {
		log.Printf("[Vault] ROLLBACK FAILED: restore allowance owner=%d amount=%d err=%v", owner, restored, err)
	}
}

// applyClose 平仓
func (e *VaultEngine) applyClose(cmd command) error {
	now := e.now()

	if e.paused {
		return ErrContractPaused
	}

	pos := e.findPosition(cmd.positionID)
	if pos == nil || !pos.IsActive {
		return ErrNotOwnerOrClosed
	}

	// 授权: 所有者随时可平；管理员只能在到期后走结算路径
	if cmd.caller != pos.Owner {
		if cmd.caller != e.cfg.Owner || !pos.IsExpired(now) {
			return ErrNotOwnerOrClosed
		}
	}

	// ===== 交互: 归还抵押 =====
	if err := e.token.Transfer(e.cfg.VaultAccount, pos.Owner, pos.Collateral); err != nil {
		return fmt.Errorf("return collateral: %w", err)
	}

	// ===== 生效: WAL 写失败则收回已归还的抵押，仓位保持原状 =====
	if e.wal != nil {
		err := e.wal.Append(&WALEntry{
			Type:       WALClose,
			Timestamp:  now,
			PositionID: pos.PositionID,
		})
		if err != nil {
			if rbErr := e.token.Transfer(pos.Owner, e.cfg.VaultAccount, pos.Collateral); rbErr != nil {
				log.Printf("[Vault] ROLLBACK FAILED: position=%d collateral=%d err=%v", pos.PositionID, pos.Collateral, rbErr)
			}
			return fmt.Errorf("wal append: %w", err)
		}
	}

	e.mu.Lock()
	pos.IsActive = false
	pos.ClosedAt = now
	e.totalValueLocked -= pos.Collateral
	e.mu.Unlock()

	e.stats.ClosedCount++

	e.publishClosed(pos)
	return nil
}

// applyUpdateFee 更新费率
func (e *VaultEngine) applyUpdateFee(cmd command) error {
	if cmd.caller != e.cfg.Owner {
		return ErrNotOwner
	}
	if cmd.feeBps > MaxPlatformFee {
		return ErrFeeTooHigh
	}
	if cmd.feeBps < 0 {
		return ErrFeeTooHigh
	}

	if e.wal != nil {
		if err := e.wal.Append(&WALEntry{Type: WALUpdateFee, Timestamp: e.now(), Amount: cmd.feeBps}); err != nil {
			return fmt.Errorf("wal append: %w", err)
		}
	}

	e.mu.Lock()
	e.platformFee = cmd.feeBps
	e.mu.Unlock()
	return nil
}

// applyUpdateMin 更新最低抵押
func (e *VaultEngine) applyUpdateMin(cmd command) error {
	if cmd.caller != e.cfg.Owner {
		return ErrNotOwner
	}
	if cmd.minimum <= 0 {
		return ErrInvalidMinimum
	}

	if e.wal != nil {
		if err := e.wal.Append(&WALEntry{Type: WALUpdateMin, Timestamp: e.now(), Amount: cmd.minimum}); err != nil {
			return fmt.Errorf("wal append: %w", err)
		}
	}

	e.mu.Lock()
	e.minCollateral = cmd.minimum
	e.mu.Unlock()
	return nil
}

// applySetPaused 暂停/恢复
func (e *VaultEngine) applySetPaused(cmd command, paused bool) error {
	if cmd.caller != e.cfg.Owner {
		return ErrNotOwner
	}

	if e.wal != nil {
		typ := WALPause
		if !paused {
			typ = WALUnpause
		}
		if err := e.wal.Append(&WALEntry{Type: typ, Timestamp: e.now()}); err != nil {
			return fmt.Errorf("wal append: %w", err)
		}
	}

	e.mu.Lock()
	e.paused = paused
	e.mu.Unlock()
	return nil
}

// applyWithdraw 提取手续费
func (e *VaultEngine) applyWithdraw(cmd command) error {
	if cmd.caller != e.cfg.Owner {
		return ErrNotOwner
	}

	amount := e.collectedFees
	if amount == 0 {
		// 零余额: 直接成功，什么都不做
		return nil
	}

	// ===== 交互 =====
	if err := e.token.Transfer(e.cfg.VaultAccount, cmd.withdrawTo, amount); err != nil {
		return fmt.Errorf("withdraw fees: %w", err)
	}

	// ===== 生效: WAL 写失败则收回已转出的手续费 =====
	now := e.now()
	if e.wal != nil {
		if err := e.wal.Append(&WALEntry{Type: WALWithdraw, Timestamp: now, Owner: cmd.withdrawTo, Amount: amount}); err != nil {
			if rbErr := e.token.Transfer(cmd.withdrawTo, e.cfg.VaultAccount, amount); rbErr != nil {
				log.Printf("[Vault] ROLLBACK FAILED: withdraw to=%d amount=%d err=%v", cmd.withdrawTo, amount, rbErr)
			}
			return fmt.Errorf("wal append: %w", err)
		}
	}

	e.mu.Lock()
	e.collectedFees = 0
	e.mu.Unlock()

	e.publishWithdrawn(cmd.withdrawTo, amount, now)
	return nil
}

// findPosition 按 ID 查仓位 (ID 从 1 开始，等于创建序号)
func (e *VaultEngine) findPosition(positionID int64) *Position {
	if positionID < 1 || positionID > int64(len(e.positions)) {
		return nil
	}
	return e.positions[positionID-1]
}

// =============================================================================
// 事件发布
// =============================================================================

func (e *VaultEngine) publishCreated(pos *Position) {
	if e.pub == nil {
		return
	}
	evt := NewPositionCreatedEvent(pos)
	if err := e.pub.PublishPositionCreated(evt); err != nil {
		log.Printf("[Vault] publish created event: position=%d err=%v", pos.PositionID, err)
		return
	}
	e.stats.EventsPublished++
}

func (e *VaultEngine) publishClosed(pos *Position) {
	if e.pub == nil {
		return
	}
	evt := NewPositionClosedEvent(pos)
	if err := e.pub.PublishPositionClosed(evt); err != nil {
		log.Printf("[Vault] publish closed event: position=%d err=%v", pos.PositionID, err)
		return
	}
	e.stats.EventsPublished++
}

func (e *VaultEngine) publishWithdrawn(to, amount, now int64) {
	if e.pub == nil {
		return
	}
	evt := &FeesWithdrawnEvent{EventID: nextEventID(), To: to, Amount: amount, WithdrawnAt: now}
	if err := e.pub.PublishFeesWithdrawn(evt); err != nil {
		log.Printf("[Vault] publish withdraw event: err=%v", err)
		return
	}
	e.stats.EventsPublished++
}

// =============================================================================
// 查询接口 (只读，暂停期间仍可用，可高频轮询)
// =============================================================================

// GetUserPositions 用户全部仓位 (含已平仓，创建序)
// 未知用户返回空切片。
func (e *VaultEngine) GetUserPositions(owner int64) []Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := e.userIndex[owner]
	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.positions[id-1].Clone())
	}
	return out
}

// GetActivePositions 用户活跃仓位
func (e *VaultEngine) GetActivePositions(owner int64) []Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := e.userIndex[owner]
	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		if p := e.positions[id-1]; p.IsActive {
			out = append(out, p.Clone())
		}
	}
	return out
}

// GetTotalPremiumEarned 用户累计权利金 (活跃+已平仓，单调不减)
func (e *VaultEngine) GetTotalPremiumEarned(owner int64) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var total int64
	for _, id := range e.userIndex[owner] {
		total += e.positions[id-1].PremiumReceived
	}
	return total
}

// GetPosition 按 ID 查单个仓位
func (e *VaultEngine) GetPosition(positionID int64) (Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p := e.findPosition(positionID)
	if p == nil {
		return Position{}, false
	}
	return p.Clone(), true
}

// TotalValueLocked 当前锁仓总额 (活跃仓位抵押之和)
func (e *VaultEngine) TotalValueLocked() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalValueLocked
}

// TotalPositionsCreated 累计创建仓位数 (单调不减)
func (e *VaultEngine) TotalPositionsCreated() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalPositionsCreated
}

// PlatformFee 当前平台费率 (万分比)
func (e *VaultEngine) PlatformFee() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.platformFee
}

// MinCollateral 当前最低抵押
func (e *VaultEngine) MinCollateral() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.minCollateral
}

// CollectedFees 已归集待提取的手续费
func (e *VaultEngine) CollectedFees() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.collectedFees
}

// Paused 是否处于暂停状态
func (e *VaultEngine) Paused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paused
}

// GetStats 引擎统计 (processLoop 单线程更新，读取值仅用于监控)
func (e *VaultEngine) GetStats() EngineStats {
	return e.stats
}
