// Package greeks 期权 Greeks：Black-Scholes 计算、波动率回退、组合聚合与 Delta 对冲
package greeks

import (
	"errors"
	"fmt"
	"math"
	"time"

	"quantrisk/market"
)

// ErrInvalidInputs 定价输入非法
var ErrInvalidInputs = errors.New("invalid option pricing inputs")

// Set 一组 Greeks
// Vega 为波动率每变化 1% 的价值变化，Theta 为每个日历日的衰减，Rho 为利率每变化 1% 的价值变化
type Set struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
	Rho   float64 `json:"rho"`
}

// Add 逐项相加
func (s Set) Add(o Set) Set {
	return Set{
		Delta: s.Delta + o.Delta,
		Gamma: s.Gamma + o.Gamma,
		Vega:  s.Vega + o.Vega,
		Theta: s.Theta + o.Theta,
		Rho:   s.Rho + o.Rho,
	}
}

// Inputs Black-Scholes 输入
type Inputs struct {
	Type         market.OptionType
	Spot         float64
	Strike       float64
	TimeToExpiry float64 // 年
	RiskFreeRate float64
	Volatility   float64 // 年化小数
}

// Validate 校验输入
func (in Inputs) Validate() error {
	if !in.Type.Valid() {
		return fmt.Errorf("%w: option type %q", ErrInvalidInputs, in.Type)
	}
	if in.Spot <= 0 || in.Strike <= 0 {
		return fmt.Errorf("%w: spot=%.6f strike=%.6f must be > 0", ErrInvalidInputs, in.Spot, in.Strike)
	}
	if in.TimeToExpiry > 0 && (in.Volatility <= 0 || math.IsNaN(in.Volatility)) {
		return fmt.Errorf("%w: volatility %.6f must be > 0", ErrInvalidInputs, in.Volatility)
	}
	return nil
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

func d1d2(in Inputs) (float64, float64) {
	sqrtT := math.Sqrt(in.TimeToExpiry)
	d1 := (math.Log(in.Spot/in.Strike) + (in.RiskFreeRate+0.5*in.Volatility*in.Volatility)*in.TimeToExpiry) /
		(in.Volatility * sqrtT)
	return d1, d1 - in.Volatility*sqrtT
}

// Calculate 计算单张合约的 Greeks
// 已到期（T<=0）时只保留内在价值对应的 Delta
func Calculate(in Inputs) (Set, error) {
	if err := in.Validate(); err != nil {
		return Set{}, err
	}
	if in.TimeToExpiry <= 0 {
		return expiredSet(in), nil
	}

	T := in.TimeToExpiry
	sqrtT := math.Sqrt(T)
	d1, d2 := d1d2(in)
	pdf := normPDF(d1)
	discount := math.Exp(-in.RiskFreeRate * T)

	set := Set{
		Gamma: pdf / (in.Spot * in.Volatility * sqrtT),
		Vega:  in.Spot * pdf * sqrtT / 100,
	}
	decay := -in.Spot * pdf * in.Volatility / (2 * sqrtT)

	if in.Type == market.Call {
		set.Delta = normCDF(d1)
		set.Theta = (decay - in.RiskFreeRate*in.Strike*discount*normCDF(d2)) / 365
		set.Rho = in.Strike * T * discount * normCDF(d2) / 100
	} else {
		set.Delta = normCDF(d1) - 1
		set.Theta = (decay + in.RiskFreeRate*in.Strike*discount*normCDF(-d2)) / 365
		set.Rho = -in.Strike * T * discount * normCDF(-d2) / 100
	}
	return set, nil
}

// TheoreticalPrice Black-Scholes 理论价格
func TheoreticalPrice(in Inputs) (float64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	if in.TimeToExpiry <= 0 {
		return intrinsic(in), nil
	}
	d1, d2 := d1d2(in)
	discount := math.Exp(-in.RiskFreeRate * in.TimeToExpiry)
	if in.Type == market.Call {
		return in.Spot*normCDF(d1) - in.Strike*discount*normCDF(d2), nil
	}
	return in.Strike*discount*normCDF(-d2) - in.Spot*normCDF(-d1), nil
}

func intrinsic(in Inputs) float64 {
	if in.Type == market.Call {
		return math.Max(in.Spot-in.Strike, 0)
	}
	return math.Max(in.Strike-in.Spot, 0)
}

func expiredSet(in Inputs) Set {
	switch {
	case in.Type == market.Call && in.Spot > in.Strike:
		return Set{Delta: 1}
	case in.Type == market.Put && in.Spot < in.Strike:
		return Set{Delta: -1}
	}
	return Set{}
}

// YearsToExpiry 距到期年数（按 365 日历日）
func YearsToExpiry(expiry, now time.Time) float64 {
	return expiry.Sub(now).Hours() / (365 * 24)
}
