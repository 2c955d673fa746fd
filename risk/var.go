package risk

import (
	"fmt"
	"math"

	"quantrisk/indicators"
)

// VaRResult 历史模拟法 VaR/CVaR
// VaR、CVaR 均为带符号收益率（亏损为负），CVaR <= VaR
type VaRResult struct {
	Confidence   float64 `json:"confidence"`
	Horizon      int     `json:"horizon"`
	VaR          float64 `json:"var"`
	CVaR         float64 `json:"cvar"`
	Observations int     `json:"observations"`
	TailCount    int     `json:"tail_count"`
	Warning      string  `json:"warning,omitempty"`
}

// HistoricalVaR 历史模拟法计算 VaR 与 CVaR
//
// VaR 取收益率序列 (1-confidence) 分位数（线性插值），再乘以 √horizon。
// CVaR 为不高于未缩放阈值的收益均值，尾部为空时退化为 VaR。
// 输入不足时返回零值并附带 Warning。
func HistoricalVaR(returns []float64, confidence float64, horizon int) VaRResult {
	if horizon < 1 {
		horizon = 1
	}
	result := VaRResult{Confidence: confidence, Horizon: horizon, Observations: len(returns)}

	if confidence <= 0 || confidence >= 1 {
		result.Warning = fmt.Sprintf("confidence %.4f not in (0,1)", confidence)
		return result
	}
	if len(returns) == 0 {
		result.Warning = "no return observations"
		return result
	}

	threshold := indicators.Percentile(returns, (1-confidence)*100)

	sum := 0.0
	for _, r := range returns {
		if r <= threshold {
			sum += r
			result.TailCount++
		}
	}
	cvar := threshold
	if result.TailCount > 0 {
		cvar = sum / float64(result.TailCount)
	}

	scale := math.Sqrt(float64(horizon))
	result.VaR = threshold * scale
	result.CVaR = cvar * scale
	return result
}

// PortfolioReturns 按权重合成组合收益率
//
// closes 为各资产收盘价序列，按尾部对齐取共同长度；权重按市值占比归一化。
func PortfolioReturns(closes map[string][]float64, values map[string]float64) []float64 {
	total := 0.0
	for sym, v := range values {
		if _, ok := closes[sym]; ok {
			total += math.Abs(v)
		}
	}
	if total == 0 {
		return nil
	}

	length := -1
	series := make(map[string][]float64, len(values))
	for sym := range values {
		c, ok := closes[sym]
		if !ok {
			continue
		}
		r := indicators.Returns(c)
		series[sym] = r
		if length < 0 || len(r) < length {
			length = len(r)
		}
	}
	if length <= 0 {
		return nil
	}

	out := make([]float64, length)
	for sym, r := range series {
		w := values[sym] / total
		offset := len(r) - length
		for i := 0; i < length; i++ {
			out[i] += w * r[offset+i]
		}
	}
	return out
}
