// 文件: pkg/optionbook/verifier.go
// 订单校验器
//
// 【职责】
// 在任何资金移动之前，对外部半可信输入 (签名订单) 做全部校验:
// 1. 订单未过期
// 2. 抵押资产与引擎配置一致
// 3. 签名对应 maker
// 4. 抵押金额未超上限、期望权利金在容差内
//
// 【设计】
// Verify 是纯函数: 不碰任何账本状态，时间由调用方传入，
// 校验结果要么是归一化的成交条款，要么是带原因的拒绝。

package optionbook

import "errors"

// =============================================================================
// 错误定义 (每条拒绝原因独立命名)
// =============================================================================

var (
	ErrNilOrder              = errors.New("order is nil")
	ErrOrderExpired          = errors.New("order has expired")
	ErrCollateralMismatch    = errors.New("order collateral does not match vault token")
	ErrBadSignature          = errors.New("order signature verification failed")
	ErrCollateralCapExceeded = errors.New("collateral exceeds order max usable")
	ErrPremiumMismatch       = errors.New("expected premium outside tolerance")
	ErrNoStrikes             = errors.New("order has no strike prices")
	ErrNoContracts           = errors.New("order has no contracts")
)

// =============================================================================
// 配置
// =============================================================================

// VerifierConfig 校验器配置
type VerifierConfig struct {
	// CollateralAddr 引擎配置的抵押资产地址
	CollateralAddr string

	// Scheme 签名方案，nil 则默认 ed25519
	Scheme SignatureScheme

	// PremiumToleranceBps 期望权利金与报价的容差 (万分比)
	// 默认 100 (1%)。双向生效: 偏高偏低都拒绝。
	PremiumToleranceBps int64
}

// =============================================================================
// FillTerms - 归一化成交条款
// =============================================================================

// FillTerms 校验通过后归一化出的成交条款
// 持仓账本按此创建仓位，不再回读原始订单。
type FillTerms struct {
	Strike  int64 // 主行权价 (strikes[0])
	Expiry  int64 // 期权到期时间
	Premium int64 // 权利金总额 (price * numContracts)
}

// =============================================================================
// Verifier - 订单校验器
// =============================================================================

// Verifier 订单校验器
type Verifier struct {
	collateralAddr string
	scheme         SignatureScheme
	toleranceBps   int64
}

// NewVerifier 创建校验器
func NewVerifier(cfg VerifierConfig) *Verifier {
	scheme := cfg.Scheme
	if scheme == nil {
		scheme = Ed25519Scheme{}
	}
	tol := cfg.PremiumToleranceBps
	if tol <= 0 {
		tol = 100 // 默认 1%
	}
	return &Verifier{
		collateralAddr: cfg.CollateralAddr,
		scheme:         scheme,
		toleranceBps:   tol,
	}
}

// Verify 校验订单并归一化成交条款
//
// 参数:
//   - order: 签名订单
//   - sig: 对 order.CanonicalBytes() 的签名
//   - collateralAmount: 调用方打算投入的抵押
//   - expectedPremium: 调用方期望收到的权利金总额
//   - now: 当前账本时间 (unix 秒)
//
// 任何一条不满足即拒绝，全部通过才返回条款。
func (v *Verifier) Verify(order *Order, sig []byte, collateralAmount, expectedPremium, now int64) (*FillTerms, error) {
	// 0. 订单必须存在 (外部输入，不能指望调用方已判空)
	if order == nil {
		return nil, ErrNilOrder
	}

	// 1. 订单有效期
	if order.OrderExpiryTimestamp <= now {
		return nil, ErrOrderExpired
	}

	// 2. 抵押资产匹配
	if order.Collateral != v.collateralAddr {
		return nil, ErrCollateralMismatch
	}

	// 3. 结构检查
	if len(order.Strikes) == 0 {
		return nil, ErrNoStrikes
	}
	if order.NumContracts <= 0 || order.Price <= 0 {
		return nil, ErrNoContracts
	}

	// 4. 签名
	ok, err := v.scheme.Verify(order.Maker, order.CanonicalBytes(), sig)
	if err != nil || !ok {
		return nil, ErrBadSignature
	}

	// 5. 抵押上限
	if collateralAmount > order.MaxCollateralUsable {
		return nil, ErrCollateralCapExceeded
	}

	// 6. 权利金容差
	quoted := order.QuotedPremium()
	if !withinTolerance(expectedPremium, quoted, v.toleranceBps) {
		return nil, ErrPremiumMismatch
	}

	return &FillTerms{
		Strike:  order.Strikes[0],
		Expiry:  order.Expiry,
		Premium: quoted,
	}, nil
}

// withinTolerance 判断 expected 相对 quoted 的偏差是否在容差内
// |expected - quoted| * 10000 <= quoted * tolBps
func withinTolerance(expected, quoted, tolBps int64) bool {
	diff := expected - quoted
	if diff < 0 {
		diff = -diff
	}
	return diff*10000 <= quoted*tolBps
}
