// 文件: pkg/maker/bs.go
// 做市商定价 - Black-Scholes 模型
//
// 做市报价用: 欧式期权 (无分红) 理论价，输出单张合约权利金。
// S: 当前标的价格
// K: 执行价
// r: 无风险利率 (年化连续复利)
// sigma: 年化波动率
// T: 剩余到期时间 (年)

package maker

import (
	"errors"
	"math"
)

var (
	ErrInvalidInputs = errors.New("invalid pricing inputs")
)

// PriceCall 欧式看涨期权价格
func PriceCall(S, K, r, sigma, T float64) (float64, error) {
	if err := validateInputs(S, K, sigma, T); err != nil {
		return 0, err
	}

	// 到期时刻价格就是内在价值
	if T == 0 {
		return math.Max(S-K, 0), nil
	}

	// 零波动率时价格确定
	if sigma == 0 {
		return math.Max(S-K*math.Exp(-r*T), 0), nil
	}

	d1 := calcD1(S, K, r, sigma, T)
	d2 := d1 - sigma*math.Sqrt(T)

	return S*normCDF(d1) - K*math.Exp(-r*T)*normCDF(d2), nil
}

// PricePut 欧式看跌期权价格
func PricePut(S, K, r, sigma, T float64) (float64, error) {
	if err := validateInputs(S, K, sigma, T); err != nil {
		return 0, err
	}

	if T == 0 {
		return math.Max(K-S, 0), nil
	}

	if sigma == 0 {
		return math.Max(K*math.Exp(-r*T)-S, 0), nil
	}

	d1 := calcD1(S, K, r, sigma, T)
	d2 := d1 - sigma*math.Sqrt(T)

	return K*math.Exp(-r*T)*normCDF(-d2) - S*normCDF(-d1), nil
}

// Vega 期权价格对波动率的敏感度
func Vega(S, K, r, sigma, T float64) (float64, error) {
	if err := validateInputs(S, K, sigma, T); err != nil {
		return 0, err
	}
	d1 := calcD1(S, K, r, sigma, T)
	return S * math.Sqrt(T) * normPDF(d1), nil
}

// ImpliedVolatility 从市场价反推隐含波动率 (牛顿法)
func ImpliedVolatility(S, K, r, marketPrice, T float64) (float64, error) {
	sigma := 0.2 // 初始猜测 20%
	const tolerance = 1e-6
	const maxIterations = 100

	for i := 0; i < maxIterations; i++ {
		price, err := PriceCall(S, K, r, sigma, T)
		if err != nil {
			return 0, err
		}

		vega, err := Vega(S, K, r, sigma, T)
		if err != nil {
			return 0, err
		}

		diff := marketPrice - price
		if math.Abs(diff) < tolerance {
			return sigma, nil
		}

		sigma = sigma + diff/vega
	}

	return 0, errors.New("implied volatility did not converge")
}

// validateInputs 检查 Black-Scholes 输入
func validateInputs(S, K, sigma, T float64) error {
	if S <= 0 || K <= 0 {
		return ErrInvalidInputs
	}
	if sigma < 0 || T < 0 {
		return ErrInvalidInputs
	}
	return nil
}

// calcD1 d1 = [ln(S/K) + (r + 0.5*sigma^2)T] / (sigma * sqrt(T))
func calcD1(S, K, r, sigma, T float64) float64 {
	return (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
}

// normCDF 标准正态分布 CDF: N(x) = 0.5 * (1 + erf(x / sqrt(2)))
func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// normPDF 标准正态分布 PDF
func normPDF(x float64) float64 {
	return (1.0 / math.Sqrt(2*math.Pi)) * math.Exp(-0.5*x*x)
}
