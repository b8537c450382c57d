// 文件: pkg/vault/engine_test.go
// 金库引擎测试

package vault

import (
	"crypto/ed25519"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nunggu.com/pkg/optionbook"
	"nunggu.com/pkg/token"
)

const (
	ownerID    = int64(1)   // 平台管理员
	vaultID    = int64(2)   // 金库代币账户
	treasuryID = int64(3)   // 手续费收款账户
	alice      = int64(100)
	bob        = int64(101)

	testNow = int64(1_700_000_000)
	week    = 7 * 24 * time.Hour
)

// testClock 可拨动的账本时钟
type testClock struct {
	now atomic.Int64
}

func newTestClock() *testClock {
	c := &testClock{}
	c.now.Store(testNow)
	return c
}

func (c *testClock) Now() int64          { return c.now.Load() }
func (c *testClock) Advance(d time.Duration) { c.now.Add(int64(d / time.Second)) }

// newTestEngine 创建测试引擎
// 金库预注入 10 亿流动性用于支付权利金
func newTestEngine(t *testing.T) (*VaultEngine, *token.MemoryToken, *testClock) {
	t.Helper()

	tok := token.NewMemoryToken("IDRX")
	clock := newTestClock()

	cfg := DefaultVaultConfig()
	cfg.Token = tok
	cfg.OrderBookAddr = "book:main"
	cfg.PriceOracleAddr = "oracle:ETH_IDRX"
	cfg.NativeAssetAddr = "native:ETH"
	cfg.Owner = ownerID
	cfg.VaultAccount = vaultID
	cfg.Now = clock.Now

	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	engine.Start()
	t.Cleanup(engine.Stop)

	require.NoError(t, tok.Mint(vaultID, 1_000_000_000))

	return engine, tok, clock
}

// fundUser 给用户铸币并授权金库划转
func fundUser(t *testing.T, tok *token.MemoryToken, user, amount int64) {
	t.Helper()
	require.NoError(t, tok.Mint(user, amount))
	require.NoError(t, tok.Approve(user, vaultID, amount))
}

// =============================================================================
// 构造校验
// =============================================================================

func TestNewEngine_RejectsZeroAddresses(t *testing.T) {
	base := func() VaultConfig {
		cfg := DefaultVaultConfig()
		cfg.Token = token.NewMemoryToken("IDRX")
		cfg.OrderBookAddr = "book:main"
		cfg.PriceOracleAddr = "oracle:ETH_IDRX"
		cfg.NativeAssetAddr = "native:ETH"
		return cfg
	}

	cfg := base()
	cfg.Token = nil
	_, err := NewEngine(cfg)
	assert.ErrorIs(t, err, ErrInvalidTokenAddress)

	cfg = base()
	cfg.OrderBookAddr = ""
	_, err = NewEngine(cfg)
	assert.ErrorIs(t, err, ErrInvalidOrderBookAddress)

	cfg = base()
	cfg.PriceOracleAddr = ""
	_, err = NewEngine(cfg)
	assert.ErrorIs(t, err, ErrInvalidOracleAddress)

	cfg = base()
	cfg.NativeAssetAddr = ""
	_, err = NewEngine(cfg)
	assert.ErrorIs(t, err, ErrInvalidNativeAddress)

	// 全部合法则成功
	_, err = NewEngine(base())
	assert.NoError(t, err)
}

// =============================================================================
// 简单开仓
// =============================================================================

func TestCreatePosition_Success(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 40_000_000)

	id, err := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id, "首个仓位 ID 为 1")

	assert.Equal(t, int64(40_000_000), engine.TotalValueLocked())
	assert.Equal(t, int64(1), engine.TotalPositionsCreated())

	pos, ok := engine.GetPosition(id)
	require.True(t, ok)
	assert.Equal(t, alice, pos.Owner)
	assert.Equal(t, int64(40_000_000), pos.Collateral)
	assert.Equal(t, int64(40_000_000), pos.StrikePrice)
	assert.True(t, pos.IsActive)
	assert.Equal(t, testNow+int64(week/time.Second), pos.Expiry)

	// 权利金 = 40M * 1% = 400_000，平台费 10% = 40_000
	assert.Equal(t, int64(400_000), pos.PremiumReceived)
	assert.Equal(t, int64(40_000), engine.CollectedFees())

	// 用户余额: -40M 抵押 + 360_000 净权利金
	assert.Equal(t, int64(360_000), tok.BalanceOf(alice))
}

func TestCreatePosition_BelowMinimum(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 10_000_000)

	// 最低抵押 1_000_000
	_, err := engine.CreatePosition(alice, 500_000, 40_000_000, week, false)
	assert.ErrorIs(t, err, ErrBelowMinCollateral)

	// 账本不受影响
	assert.Equal(t, int64(0), engine.TotalValueLocked())
	assert.Equal(t, int64(0), engine.TotalPositionsCreated())
	assert.Equal(t, int64(10_000_000), tok.BalanceOf(alice))
}

func TestCreatePosition_InvalidParams(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 100_000_000)

	_, err := engine.CreatePosition(alice, 40_000_000, 0, week, false)
	assert.ErrorIs(t, err, ErrInvalidStrike)

	// 到期窗口 [1天, 365天]
	_, err = engine.CreatePosition(alice, 40_000_000, 40_000_000, time.Hour, false)
	assert.ErrorIs(t, err, ErrInvalidExpiry)

	_, err = engine.CreatePosition(alice, 40_000_000, 40_000_000, 366*24*time.Hour, false)
	assert.ErrorIs(t, err, ErrInvalidExpiry)

	// 边界: 正好 1 天和 365 天都合法
	fundUser(t, tok, alice, 80_000_000)
	_, err = engine.CreatePosition(alice, 40_000_000, 40_000_000, 24*time.Hour, false)
	assert.NoError(t, err)
	_, err = engine.CreatePosition(alice, 40_000_000, 40_000_000, 365*24*time.Hour, false)
	assert.NoError(t, err)
}

func TestCreatePosition_MultipleUsers(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 40_000_000)
	fundUser(t, tok, bob, 40_000_000)

	idA, err := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	require.NoError(t, err)
	idB, err := engine.CreatePosition(bob, 40_000_000, 42_000_000, 2*week, false)
	require.NoError(t, err)

	assert.Equal(t, int64(1), idA)
	assert.Equal(t, int64(2), idB, "仓位 ID 严格递增")
	assert.Equal(t, int64(80_000_000), engine.TotalValueLocked())
	assert.Equal(t, int64(2), engine.TotalPositionsCreated())

	// 用户隔离: 各自只看到自己的仓位
	posA := engine.GetUserPositions(alice)
	require.Len(t, posA, 1)
	assert.Equal(t, idA, posA[0].PositionID)

	posB := engine.GetUserPositions(bob)
	require.Len(t, posB, 1)
	assert.Equal(t, idB, posB[0].PositionID)
}

func TestCreatePosition_InsufficientBalance(t *testing.T) {
	engine, tok, _ := newTestEngine(t)

	// 授权充足但余额不足
	require.NoError(t, tok.Mint(alice, 1_000_000))
	require.NoError(t, tok.Approve(alice, vaultID, 100_000_000))

	_, err := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	assert.ErrorIs(t, err, token.ErrInsufficientBalance)
	assert.Equal(t, int64(0), engine.TotalValueLocked())

	// 余额充足但未授权
	require.NoError(t, tok.Mint(bob, 40_000_000))
	_, err = engine.CreatePosition(bob, 40_000_000, 40_000_000, week, false)
	assert.ErrorIs(t, err, token.ErrInsufficientAllowance)
}

func TestCreatePosition_InsufficientLiquidity(t *testing.T) {
	// 金库没有自有流动性，付不出权利金
	tok := token.NewMemoryToken("IDRX")
	clock := newTestClock()

	cfg := DefaultVaultConfig()
	cfg.Token = tok
	cfg.OrderBookAddr = "book:main"
	cfg.PriceOracleAddr = "oracle:ETH_IDRX"
	cfg.NativeAssetAddr = "native:ETH"
	cfg.Owner = ownerID
	cfg.VaultAccount = vaultID
	cfg.Now = clock.Now

	engine, err := NewEngine(cfg)
	require.NoError(t, err)
	engine.Start()
	t.Cleanup(engine.Stop)

	fundUser(t, tok, alice, 40_000_000)

	_, err = engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	// 抵押已回滚，被扣减的授权额度一并恢复
	assert.Equal(t, int64(40_000_000), tok.BalanceOf(alice))
	assert.Equal(t, int64(0), tok.BalanceOf(vaultID))
	assert.Equal(t, int64(40_000_000), tok.Allowance(alice, vaultID))

	// 不需要重新授权即可重试
	require.NoError(t, tok.Mint(vaultID, 1_000_000_000))
	_, err = engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	assert.NoError(t, err)
}

// =============================================================================
// WAL 故障
// =============================================================================

// failingWAL 总是写失败的 WAL
type failingWAL struct{}

func (failingWAL) Append(*WALEntry) error                        { return errors.New("disk full") }
func (failingWAL) Recover(func(*WALEntry) error) (uint64, error) { return 0, nil }
func (failingWAL) Close() error                                  { return nil }

func TestCreatePosition_WALFailureRollsBack(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	engine.wal = failingWAL{}
	fundUser(t, tok, alice, 40_000_000)

	_, err := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	require.Error(t, err)

	// 资金、授权、账本全部保持原状
	assert.Equal(t, int64(40_000_000), tok.BalanceOf(alice))
	assert.Equal(t, int64(40_000_000), tok.Allowance(alice, vaultID))
	assert.Equal(t, int64(1_000_000_000), tok.BalanceOf(vaultID))
	assert.Equal(t, int64(0), engine.TotalValueLocked())
	assert.Equal(t, int64(0), engine.TotalPositionsCreated())
	assert.Equal(t, int64(0), engine.CollectedFees())

	// 故障恢复后重试成功，失败请求没有消耗 ID
	engine.wal = nil
	id, err := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestClosePosition_WALFailureRollsBack(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 40_000_000)

	id, err := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	require.NoError(t, err)
	balance := tok.BalanceOf(alice)

	engine.wal = failingWAL{}
	require.Error(t, engine.ClosePosition(alice, id))

	// 仓位保持活跃，抵押没有流出
	pos, ok := engine.GetPosition(id)
	require.True(t, ok)
	assert.True(t, pos.IsActive)
	assert.Equal(t, balance, tok.BalanceOf(alice))
	assert.Equal(t, int64(40_000_000), engine.TotalValueLocked())

	// 故障恢复后可以正常平仓
	engine.wal = nil
	require.NoError(t, engine.ClosePosition(alice, id))
	assert.Equal(t, balance+40_000_000, tok.BalanceOf(alice))
}

func TestAdminOps_WALFailureLeavesStateUnchanged(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 40_000_000)

	_, err := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	require.NoError(t, err)
	fees := engine.CollectedFees()
	require.Positive(t, fees)

	engine.wal = failingWAL{}

	assert.Error(t, engine.UpdateFee(ownerID, 1500))
	assert.Equal(t, int64(DefaultPlatformFee), engine.PlatformFee())

	assert.Error(t, engine.UpdateMinCollateral(ownerID, 2_000_000))
	assert.Equal(t, int64(DefaultMinCollateral), engine.MinCollateral())

	assert.Error(t, engine.Pause(ownerID))
	assert.False(t, engine.Paused())

	// 手续费提取失败: 转出的资金已收回
	assert.Error(t, engine.WithdrawFees(ownerID, treasuryID))
	assert.Equal(t, fees, engine.CollectedFees())
	assert.Equal(t, int64(0), tok.BalanceOf(treasuryID))
}

// =============================================================================
// 平仓
// =============================================================================

func TestClosePosition_OwnerClose(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 40_000_000)

	id, err := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	require.NoError(t, err)

	require.NoError(t, engine.ClosePosition(alice, id))

	// 抵押归还，权利金保留
	assert.Equal(t, int64(40_360_000), tok.BalanceOf(alice))
	assert.Equal(t, int64(0), engine.TotalValueLocked())

	pos, ok := engine.GetPosition(id)
	require.True(t, ok)
	assert.False(t, pos.IsActive)
	assert.Equal(t, testNow, pos.ClosedAt)

	// 累计权利金不随平仓减少
	assert.Equal(t, int64(400_000), engine.GetTotalPremiumEarned(alice))
}

func TestClosePosition_Idempotent(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 40_000_000)

	id, _ := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	require.NoError(t, engine.ClosePosition(alice, id))

	balance := tok.BalanceOf(alice)
	tvl := engine.TotalValueLocked()

	// 重复平仓: 拒绝且无任何资金变动
	err := engine.ClosePosition(alice, id)
	assert.ErrorIs(t, err, ErrNotOwnerOrClosed)
	assert.Equal(t, balance, tok.BalanceOf(alice))
	assert.Equal(t, tvl, engine.TotalValueLocked())
}

func TestClosePosition_Authorization(t *testing.T) {
	engine, tok, clock := newTestEngine(t)
	fundUser(t, tok, alice, 40_000_000)

	id, _ := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)

	// 其他用户不能平
	assert.ErrorIs(t, engine.ClosePosition(bob, id), ErrNotOwnerOrClosed)

	// 管理员到期前也不能代平
	assert.ErrorIs(t, engine.ClosePosition(ownerID, id), ErrNotOwnerOrClosed)

	// 到期后管理员可以走结算路径代平
	clock.Advance(week + time.Hour)
	assert.NoError(t, engine.ClosePosition(ownerID, id))

	// 抵押归还给仓位所有者，不是调用方
	assert.Equal(t, int64(40_360_000), tok.BalanceOf(alice))
}

func TestClosePosition_NotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	assert.ErrorIs(t, engine.ClosePosition(alice, 999), ErrNotOwnerOrClosed)
	assert.ErrorIs(t, engine.ClosePosition(alice, 0), ErrNotOwnerOrClosed)
}

// =============================================================================
// 做市订单成交
// =============================================================================

// newMakerOrder 构建一个由新生成密钥签名的做市订单
func newMakerOrder(t *testing.T, mutate func(*optionbook.Order)) (*optionbook.Order, []byte) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	order := &optionbook.Order{
		Maker:                optionbook.MakerAddress(pub),
		OrderExpiryTimestamp: testNow + 3600,
		Collateral:           "IDRX",
		IsCall:               false,
		PriceFeed:            "oracle:ETH_IDRX",
		Implementation:       "impl:cash_settle_v1",
		IsLong:               false,
		MaxCollateralUsable:  100_000_000,
		Strikes:              []int64{42_000_000},
		Expiry:               testNow + int64(week/time.Second),
		Price:                500_000,
		NumContracts:         2,
	}
	if mutate != nil {
		mutate(order)
	}
	sig := ed25519.Sign(priv, order.CanonicalBytes())
	return order, sig
}

func TestExecuteOrder_Success(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 40_000_000)

	order, sig := newMakerOrder(t, nil)

	// 订单报价权利金 = 500_000 * 2 = 1_000_000
	id, err := engine.ExecuteOrder(alice, order, sig, 40_000_000, 1_000_000)
	require.NoError(t, err)

	pos, ok := engine.GetPosition(id)
	require.True(t, ok)
	assert.Equal(t, alice, pos.Owner)
	assert.Equal(t, int64(42_000_000), pos.StrikePrice, "行权价来自订单")
	assert.Equal(t, order.Expiry, pos.Expiry)
	assert.Equal(t, int64(1_000_000), pos.PremiumReceived)
	assert.False(t, pos.IsCall)
	assert.False(t, pos.IsLong)

	// 平台费 10% = 100_000，净到手 900_000
	assert.Equal(t, int64(900_000), tok.BalanceOf(alice))
	assert.Equal(t, int64(100_000), engine.CollectedFees())
	assert.Equal(t, int64(40_000_000), engine.TotalValueLocked())
}

func TestExecuteOrder_Rejections(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 200_000_000)

	// 过期订单
	order, sig := newMakerOrder(t, func(o *optionbook.Order) {
		o.OrderExpiryTimestamp = testNow - 1
	})
	_, err := engine.ExecuteOrder(alice, order, sig, 40_000_000, 1_000_000)
	assert.ErrorIs(t, err, optionbook.ErrOrderExpired)

	// 签名被篡改
	order, sig = newMakerOrder(t, nil)
	order.Price = 1
	_, err = engine.ExecuteOrder(alice, order, sig, 40_000_000, 1_000_000)
	assert.ErrorIs(t, err, optionbook.ErrBadSignature)

	// 抵押超上限
	order, sig = newMakerOrder(t, nil)
	_, err = engine.ExecuteOrder(alice, order, sig, order.MaxCollateralUsable+1, 1_000_000)
	assert.ErrorIs(t, err, optionbook.ErrCollateralCapExceeded)

	// 期望权利金偏离报价超容差 (1%)
	order, sig = newMakerOrder(t, nil)
	_, err = engine.ExecuteOrder(alice, order, sig, 40_000_000, 2_000_000)
	assert.ErrorIs(t, err, optionbook.ErrPremiumMismatch)

	// 抵押资产不匹配
	order, sig = newMakerOrder(t, func(o *optionbook.Order) {
		o.Collateral = "USDC"
	})
	_, err = engine.ExecuteOrder(alice, order, sig, 40_000_000, 1_000_000)
	assert.ErrorIs(t, err, optionbook.ErrCollateralMismatch)

	// 订单到期窗口超出账本限制
	order, sig = newMakerOrder(t, func(o *optionbook.Order) {
		o.Expiry = testNow + 3600 // 不足 1 天
	})
	_, err = engine.ExecuteOrder(alice, order, sig, 40_000_000, 1_000_000)
	assert.ErrorIs(t, err, ErrInvalidExpiry)

	// 空订单: 拒绝而不是崩溃
	_, err = engine.ExecuteOrder(alice, nil, nil, 40_000_000, 1_000_000)
	assert.ErrorIs(t, err, optionbook.ErrNilOrder)

	// 全部被拒后账本干净，引擎仍在服务
	assert.Equal(t, int64(0), engine.TotalPositionsCreated())
	assert.Equal(t, int64(0), engine.TotalValueLocked())

	order, sig = newMakerOrder(t, nil)
	_, err = engine.ExecuteOrder(alice, order, sig, 40_000_000, 1_000_000)
	assert.NoError(t, err)
}

// =============================================================================
// 管理操作
// =============================================================================

func TestUpdateFee(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	// 超过硬上限 2000 (20%)
	assert.ErrorIs(t, engine.UpdateFee(ownerID, 3000), ErrFeeTooHigh)
	assert.Equal(t, int64(DefaultPlatformFee), engine.PlatformFee(), "失败不改状态")

	// 非管理员
	assert.ErrorIs(t, engine.UpdateFee(alice, 500), ErrNotOwner)

	// 合法更新 (上限本身合法)
	require.NoError(t, engine.UpdateFee(ownerID, MaxPlatformFee))
	assert.Equal(t, int64(MaxPlatformFee), engine.PlatformFee())

	// 零费率合法
	require.NoError(t, engine.UpdateFee(ownerID, 0))
	assert.Equal(t, int64(0), engine.PlatformFee())
}

func TestUpdateFee_AffectsSubsequentPositions(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 80_000_000)

	require.NoError(t, engine.UpdateFee(ownerID, 2000)) // 20%

	_, err := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	require.NoError(t, err)

	// 权利金 400_000，20% 费 = 80_000，净到手 320_000
	assert.Equal(t, int64(80_000), engine.CollectedFees())
	assert.Equal(t, int64(40_320_000), tok.BalanceOf(alice))
}

func TestUpdateMinCollateral(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 10_000_000)

	assert.ErrorIs(t, engine.UpdateMinCollateral(ownerID, 0), ErrInvalidMinimum)
	assert.ErrorIs(t, engine.UpdateMinCollateral(alice, 5_000_000), ErrNotOwner)

	require.NoError(t, engine.UpdateMinCollateral(ownerID, 5_000_000))
	assert.Equal(t, int64(5_000_000), engine.MinCollateral())

	// 新下限立即生效
	_, err := engine.CreatePosition(alice, 4_000_000, 40_000_000, week, false)
	assert.ErrorIs(t, err, ErrBelowMinCollateral)

	_, err = engine.CreatePosition(alice, 5_000_000, 40_000_000, week, false)
	assert.NoError(t, err)
}

func TestPauseGating(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 80_000_000)

	id, err := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	require.NoError(t, err)

	assert.ErrorIs(t, engine.Pause(alice), ErrNotOwner)
	require.NoError(t, engine.Pause(ownerID))
	assert.True(t, engine.Paused())

	// 暂停期间所有资金操作被拒
	_, err = engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	assert.ErrorIs(t, err, ErrContractPaused)

	order, sig := newMakerOrder(t, nil)
	_, err = engine.ExecuteOrder(alice, order, sig, 40_000_000, 1_000_000)
	assert.ErrorIs(t, err, ErrContractPaused)

	assert.ErrorIs(t, engine.ClosePosition(alice, id), ErrContractPaused)

	// 查询不受影响
	assert.Equal(t, int64(40_000_000), engine.TotalValueLocked())
	assert.Len(t, engine.GetActivePositions(alice), 1)

	// 恢复后一切照常
	require.NoError(t, engine.Unpause(ownerID))
	assert.False(t, engine.Paused())
	require.NoError(t, engine.ClosePosition(alice, id))
}

func TestWithdrawFees(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 40_000_000)

	// 零余额提取: 直接成功，无资金变动
	require.NoError(t, engine.WithdrawFees(ownerID, treasuryID))
	assert.Equal(t, int64(0), tok.BalanceOf(treasuryID))

	_, err := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	require.NoError(t, err)
	require.Equal(t, int64(40_000), engine.CollectedFees())

	assert.ErrorIs(t, engine.WithdrawFees(alice, alice), ErrNotOwner)

	// 全额提取并清零
	require.NoError(t, engine.WithdrawFees(ownerID, treasuryID))
	assert.Equal(t, int64(40_000), tok.BalanceOf(treasuryID))
	assert.Equal(t, int64(0), engine.CollectedFees())

	// 再次提取回到零余额 no-op
	require.NoError(t, engine.WithdrawFees(ownerID, treasuryID))
	assert.Equal(t, int64(40_000), tok.BalanceOf(treasuryID))
}

// =============================================================================
// 账本不变式
// =============================================================================

func TestConservation_TokensNeverMintedByEngine(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 40_000_000)
	fundUser(t, tok, bob, 40_000_000)

	total := func() int64 {
		return tok.BalanceOf(alice) + tok.BalanceOf(bob) +
			tok.BalanceOf(vaultID) + tok.BalanceOf(treasuryID)
	}
	supply := total()

	idA, _ := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	assert.Equal(t, supply, total())

	engine.CreatePosition(bob, 40_000_000, 42_000_000, 2*week, false)
	assert.Equal(t, supply, total())

	engine.ClosePosition(alice, idA)
	assert.Equal(t, supply, total())

	engine.WithdrawFees(ownerID, treasuryID)
	assert.Equal(t, supply, total())
}

func TestTotalPremiumEarned_Monotonic(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 80_000_000)

	id1, _ := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	assert.Equal(t, int64(400_000), engine.GetTotalPremiumEarned(alice))

	engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	assert.Equal(t, int64(800_000), engine.GetTotalPremiumEarned(alice))

	// 平仓不减少累计权利金
	engine.ClosePosition(alice, id1)
	assert.Equal(t, int64(800_000), engine.GetTotalPremiumEarned(alice))
}

func TestGetActivePositions_FiltersClosed(t *testing.T) {
	engine, tok, _ := newTestEngine(t)
	fundUser(t, tok, alice, 120_000_000)

	id1, _ := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	id2, _ := engine.CreatePosition(alice, 40_000_000, 41_000_000, week, false)
	id3, _ := engine.CreatePosition(alice, 40_000_000, 42_000_000, week, false)

	engine.ClosePosition(alice, id2)

	active := engine.GetActivePositions(alice)
	require.Len(t, active, 2)
	assert.Equal(t, id1, active[0].PositionID)
	assert.Equal(t, id3, active[1].PositionID)

	// 全量查询含已平仓
	assert.Len(t, engine.GetUserPositions(alice), 3)
}

func TestConcurrentCreates_Serialized(t *testing.T) {
	engine, tok, _ := newTestEngine(t)

	const n = 20
	for i := int64(0); i < n; i++ {
		fundUser(t, tok, 1000+i, 2_000_000)
	}

	var wg sync.WaitGroup
	ids := make([]int64, n)
	for i := int64(0); i < n; i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			id, err := engine.CreatePosition(1000+i, 2_000_000, 40_000_000, week, false)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	// ID 不重复且覆盖 1..n
	seen := make(map[int64]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "仓位 ID 不能重复")
		seen[id] = true
		assert.GreaterOrEqual(t, id, int64(1))
		assert.LessOrEqual(t, id, int64(n))
	}

	assert.Equal(t, int64(n), engine.TotalPositionsCreated())
	assert.Equal(t, int64(n*2_000_000), engine.TotalValueLocked())
}

func TestEngineClosed(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	engine.Stop()

	_, err := engine.CreatePosition(alice, 40_000_000, 40_000_000, week, false)
	assert.ErrorIs(t, err, ErrEngineClosed)
}

// =============================================================================
// 策略变体
// =============================================================================

func TestStrategyOf(t *testing.T) {
	assert.Equal(t, StrategyCashSecuredPut, StrategyOf(false, false))
	assert.Equal(t, StrategyCoveredCall, StrategyOf(true, false))
	assert.Equal(t, StrategyLongCall, StrategyOf(true, true))
	assert.Equal(t, StrategyLongPut, StrategyOf(false, true))
}
