package indicators

import "math"

// TradingDaysPerYear 年化使用的交易日数
const TradingDaysPerYear = 252

// ========== 波动率指标 ==========

// Bands 布林带
type Bands struct {
	Upper    []float64
	Middle   []float64
	Lower    []float64
	PercentB []float64
}

// BollingerBands 计算布林带，数据不足返回 nil
func BollingerBands(closes []float64, period int, multiplier float64) *Bands {
	middle := SMA(closes, period)
	stdDev := StdDev(closes, period)
	if middle == nil || stdDev == nil {
		return nil
	}

	b := &Bands{
		Upper:    make([]float64, len(middle)),
		Middle:   middle,
		Lower:    make([]float64, len(middle)),
		PercentB: make([]float64, len(middle)),
	}
	for i := range middle {
		band := multiplier * stdDev[i]
		b.Upper[i] = middle[i] + band
		b.Lower[i] = middle[i] - band
		if b.Upper[i] != b.Lower[i] {
			b.PercentB[i] = (closes[i+period-1] - b.Lower[i]) / (b.Upper[i] - b.Lower[i])
		}
	}
	return b
}

// Last 最新的上、中、下轨
func (b *Bands) Last() (upper, middle, lower float64) {
	n := len(b.Middle) - 1
	return b.Upper[n], b.Middle[n], b.Lower[n]
}

// HistoricalVolatility 历史波动率（年化小数，√252）
// 取最近 window 个对数收益率的样本标准差；数据不足返回 (0, false)
func HistoricalVolatility(closes []float64, window int) (float64, bool) {
	logReturns := LogReturns(closes)
	if window <= 1 || len(logReturns) < window {
		return 0, false
	}
	recent := logReturns[len(logReturns)-window:]
	sd := SampleStdDev(recent)
	if sd == 0 || math.IsNaN(sd) {
		return 0, false
	}
	return sd * math.Sqrt(TradingDaysPerYear), true
}
