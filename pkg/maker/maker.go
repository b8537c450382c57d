// 文件: pkg/maker/maker.go
// 模拟做市商
//
// 持有 ed25519 密钥，按 Black-Scholes 报价并产出签名订单。
// 金库侧通过 optionbook.Verifier 校验这些订单后成交。
// 生产环境做市商是外部系统，这个实现服务于模拟器和集成测试。

package maker

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"math"
	"time"

	"nunggu.com/pkg/optionbook"
)

var (
	ErrExpiryInPast = errors.New("option expiry is in the past")
)

const secondsPerYear = 365 * 24 * 3600

// MakerConfig 做市商配置
type MakerConfig struct {
	// CollateralAddr 报价针对的抵押资产
	CollateralAddr string

	// PriceFeed / Implementation 订单里携带的协作方标识
	PriceFeed      string
	Implementation string

	// 定价参数
	RiskFreeRate float64 // 无风险利率 (年化)
	Volatility   float64 // 波动率 (年化)

	// OrderTTL 签名订单的有效时长
	OrderTTL time.Duration

	// MaxCollateralUsable 单笔订单可吃的抵押上限
	MaxCollateralUsable int64

	// Seed 可选: 固定密钥种子 (测试复现用)，nil 则随机生成
	Seed []byte
}

// DefaultMakerConfig 默认配置
func DefaultMakerConfig(collateralAddr string) MakerConfig {
	return MakerConfig{
		CollateralAddr:      collateralAddr,
		PriceFeed:           "oracle:ETH_IDRX",
		Implementation:      "impl:cash_settle_v1",
		RiskFreeRate:        0.03,
		Volatility:          0.6,
		OrderTTL:            10 * time.Minute,
		MaxCollateralUsable: 1_000_000_000,
	}
}

// QuoteRequest 询价请求
type QuoteRequest struct {
	Spot         float64 // 当前标的价格 (抵押代币最小单位)
	Strike       int64   // 执行价
	Expiry       int64   // 期权到期时间 (unix 秒)
	NumContracts int64   // 合约张数
	IsCall       bool
	IsLong       bool // 做市商视角: 是否买方
	Now          int64
}

// MarketMaker 模拟做市商
type MarketMaker struct {
	cfg  MakerConfig
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewMarketMaker 创建做市商
func NewMarketMaker(cfg MakerConfig) (*MarketMaker, error) {
	var pub ed25519.PublicKey
	var priv ed25519.PrivateKey

	if len(cfg.Seed) > 0 {
		if len(cfg.Seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("seed must be %d bytes", ed25519.SeedSize)
		}
		priv = ed25519.NewKeyFromSeed(cfg.Seed)
		pub = priv.Public().(ed25519.PublicKey)
	} else {
		var err error
		pub, priv, err = ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generate maker key: %w", err)
		}
	}

	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = 10 * time.Minute
	}

	return &MarketMaker{cfg: cfg, pub: pub, priv: priv}, nil
}

// Address 做市商地址 (公钥十六进制)
func (m *MarketMaker) Address() string {
	return optionbook.MakerAddress(m.pub)
}

// Quote 报价并产出签名订单
//
// 单张合约权利金 = BS 理论价向上取整 (做市商不亏零头)，
// 至少 1 个最小单位。
func (m *MarketMaker) Quote(req QuoteRequest) (*optionbook.Order, []byte, error) {
	if req.Expiry <= req.Now {
		return nil, nil, ErrExpiryInPast
	}

	T := float64(req.Expiry-req.Now) / secondsPerYear

	var unitPremium float64
	var err error
	if req.IsCall {
		unitPremium, err = PriceCall(req.Spot, float64(req.Strike), m.cfg.RiskFreeRate, m.cfg.Volatility, T)
	} else {
		unitPremium, err = PricePut(req.Spot, float64(req.Strike), m.cfg.RiskFreeRate, m.cfg.Volatility, T)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("price option: %w", err)
	}

	price := int64(math.Ceil(unitPremium))
	if price < 1 {
		price = 1
	}

	order := &optionbook.Order{
		Maker:                m.Address(),
		OrderExpiryTimestamp: req.Now + int64(m.cfg.OrderTTL/time.Second),
		Collateral:           m.cfg.CollateralAddr,
		IsCall:               req.IsCall,
		PriceFeed:            m.cfg.PriceFeed,
		Implementation:       m.cfg.Implementation,
		IsLong:               req.IsLong,
		MaxCollateralUsable:  m.cfg.MaxCollateralUsable,
		Strikes:              []int64{req.Strike},
		Expiry:               req.Expiry,
		Price:                price,
		NumContracts:         req.NumContracts,
	}

	sig := ed25519.Sign(m.priv, order.CanonicalBytes())
	return order, sig, nil
}
