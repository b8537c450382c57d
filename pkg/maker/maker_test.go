// 文件: pkg/maker/maker_test.go
// 做市商测试

package maker

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nunggu.com/pkg/optionbook"
)

const testNow = int64(1_700_000_000)

// =============================================================================
// Black-Scholes 定价
// =============================================================================

func TestPriceCall_KnownValue(t *testing.T) {
	// 教科书算例: S=100, K=100, r=5%, sigma=20%, T=1 年
	// 理论 Call 价约 10.4506
	price, err := PriceCall(100, 100, 0.05, 0.2, 1)
	require.NoError(t, err)
	assert.InDelta(t, 10.4506, price, 0.001)
}

func TestPricePut_PutCallParity(t *testing.T) {
	S, K, r, sigma, T := 100.0, 95.0, 0.03, 0.4, 0.5

	call, err := PriceCall(S, K, r, sigma, T)
	require.NoError(t, err)
	put, err := PricePut(S, K, r, sigma, T)
	require.NoError(t, err)

	// Put-Call 平价: C - P = S - K*e^{-rT}
	lhs := call - put
	rhs := S - K*math.Exp(-r*T)
	assert.InDelta(t, rhs, lhs, 1e-9)
}

func TestPrice_EdgeCases(t *testing.T) {
	// 到期时刻 = 内在价值
	price, err := PriceCall(110, 100, 0.05, 0.2, 0)
	require.NoError(t, err)
	assert.Equal(t, 10.0, price)

	price, err = PricePut(90, 100, 0.05, 0.2, 0)
	require.NoError(t, err)
	assert.Equal(t, 10.0, price)

	// 零波动率
	price, err = PriceCall(100, 100, 0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, price)

	// 非法输入
	_, err = PriceCall(-1, 100, 0.05, 0.2, 1)
	assert.ErrorIs(t, err, ErrInvalidInputs)
	_, err = PricePut(100, 0, 0.05, 0.2, 1)
	assert.ErrorIs(t, err, ErrInvalidInputs)
}

func TestImpliedVolatility_RoundTrip(t *testing.T) {
	S, K, r, T := 100.0, 100.0, 0.05, 1.0
	sigma := 0.35

	price, err := PriceCall(S, K, r, sigma, T)
	require.NoError(t, err)

	iv, err := ImpliedVolatility(S, K, r, price, T)
	require.NoError(t, err)
	assert.InDelta(t, sigma, iv, 1e-4)
}

// =============================================================================
// 报价与签名
// =============================================================================

func TestQuote_ProducesVerifiableOrder(t *testing.T) {
	mm, err := NewMarketMaker(DefaultMakerConfig("IDRX"))
	require.NoError(t, err)

	order, sig, err := mm.Quote(QuoteRequest{
		Spot:         40_000_000,
		Strike:       40_000_000,
		Expiry:       testNow + 7*24*3600,
		NumContracts: 2,
		IsCall:       false,
		Now:          testNow,
	})
	require.NoError(t, err)

	assert.Equal(t, mm.Address(), order.Maker)
	assert.Equal(t, "IDRX", order.Collateral)
	assert.Equal(t, []int64{40_000_000}, order.Strikes)
	assert.Greater(t, order.Price, int64(0))

	// 金库侧校验器接受该订单
	v := optionbook.NewVerifier(optionbook.VerifierConfig{CollateralAddr: "IDRX"})
	terms, err := v.Verify(order, sig, 40_000_000, order.QuotedPremium(), testNow)
	require.NoError(t, err)
	assert.Equal(t, order.QuotedPremium(), terms.Premium)
}

func TestQuote_ExpiryInPast(t *testing.T) {
	mm, err := NewMarketMaker(DefaultMakerConfig("IDRX"))
	require.NoError(t, err)

	_, _, err = mm.Quote(QuoteRequest{
		Spot:   40_000_000,
		Strike: 40_000_000,
		Expiry: testNow - 1,
		Now:    testNow,
	})
	assert.ErrorIs(t, err, ErrExpiryInPast)
}

func TestNewMarketMaker_FixedSeed(t *testing.T) {
	cfg := DefaultMakerConfig("IDRX")
	cfg.Seed = make([]byte, 32)
	for i := range cfg.Seed {
		cfg.Seed[i] = byte(i)
	}

	a, err := NewMarketMaker(cfg)
	require.NoError(t, err)
	b, err := NewMarketMaker(cfg)
	require.NoError(t, err)

	// 同种子同地址，测试可复现
	assert.Equal(t, a.Address(), b.Address())

	cfg.Seed = []byte{1, 2, 3}
	_, err = NewMarketMaker(cfg)
	assert.Error(t, err)
}

func TestQuote_OrderTTL(t *testing.T) {
	cfg := DefaultMakerConfig("IDRX")
	cfg.OrderTTL = time.Minute

	mm, err := NewMarketMaker(cfg)
	require.NoError(t, err)

	order, _, err := mm.Quote(QuoteRequest{
		Spot:         40_000_000,
		Strike:       40_000_000,
		Expiry:       testNow + 7*24*3600,
		NumContracts: 1,
		Now:          testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, testNow+60, order.OrderExpiryTimestamp)
}
