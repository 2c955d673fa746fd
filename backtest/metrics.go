package backtest

import (
	"encoding/json"
	"math"

	"quantrisk/indicators"
	"quantrisk/portfolio"
)

// 日化无风险利率（年化 2%）
const riskFreeDaily = 0.02 / indicators.TradingDaysPerYear

// Ratio 可能为 +Inf 的比率，JSON 中 +Inf 编码为字符串 "inf"
type Ratio float64

// IsInf 是否为正无穷
func (r Ratio) IsInf() bool { return math.IsInf(float64(r), 1) }

// MarshalJSON 实现 json.Marshaler
func (r Ratio) MarshalJSON() ([]byte, error) {
	if r.IsInf() {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(float64(r))
}

// UnmarshalJSON 实现 json.Unmarshaler
func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == `"inf"` {
		*r = Ratio(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// TradeStats 基于配对交易的统计
type TradeStats struct {
	TotalTrades  int     `json:"total_trades"`
	Winners      int     `json:"winners"`
	Losers       int     `json:"losers"`
	Breakeven    int     `json:"breakeven"`
	WinRate      float64 `json:"win_rate"` // 胜率 (%)
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"` // 正数
	ProfitFactor Ratio   `json:"profit_factor"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"` // 正数
	WinLossRatio Ratio   `json:"win_loss_ratio"`
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"` // 正数
	MedianPnL    float64 `json:"median_pnl"`
	TotalPnL     float64 `json:"total_pnl"`

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`
}

// CalculateTradeStats 计算交易统计，纯函数
func CalculateTradeStats(matches []MatchedTrade) TradeStats {
	stats := TradeStats{TotalTrades: len(matches)}
	if len(matches) == 0 {
		return stats
	}

	pnls := make([]float64, len(matches))
	curWins, curLosses := 0, 0
	for i, m := range matches {
		pnls[i] = m.PnL
		stats.TotalPnL += m.PnL
		switch {
		case m.PnL > 0:
			stats.Winners++
			stats.GrossProfit += m.PnL
			stats.LargestWin = math.Max(stats.LargestWin, m.PnL)
			curWins++
			curLosses = 0
		case m.PnL < 0:
			stats.Losers++
			stats.GrossLoss += -m.PnL
			stats.LargestLoss = math.Max(stats.LargestLoss, -m.PnL)
			curLosses++
			curWins = 0
		default:
			stats.Breakeven++
			curWins, curLosses = 0, 0
		}
		if curWins > stats.MaxConsecutiveWins {
			stats.MaxConsecutiveWins = curWins
		}
		if curLosses > stats.MaxConsecutiveLosses {
			stats.MaxConsecutiveLosses = curLosses
		}
	}

	stats.WinRate = float64(stats.Winners) / float64(stats.TotalTrades) * 100
	stats.ProfitFactor = ratio(stats.GrossProfit, stats.GrossLoss)
	if stats.Winners > 0 {
		stats.AvgWin = stats.GrossProfit / float64(stats.Winners)
	}
	if stats.Losers > 0 {
		stats.AvgLoss = stats.GrossLoss / float64(stats.Losers)
	}
	stats.WinLossRatio = ratio(stats.AvgWin, stats.AvgLoss)
	stats.MedianPnL = indicators.Median(pnls)
	return stats
}

// ratio 分母为 0 时：分子 > 0 返回 +Inf，否则 0
func ratio(num, den float64) Ratio {
	if den == 0 {
		if num > 0 {
			return Ratio(math.Inf(1))
		}
		return 0
	}
	return Ratio(num / den)
}

// Metrics 回测指标
type Metrics struct {
	// 收益指标
	TotalReturn      float64 `json:"total_return"`      // 总收益率 (%)
	AnnualizedReturn float64 `json:"annualized_return"` // 年化收益率 (%)

	// 风险指标
	MaxDrawdown         float64 `json:"max_drawdown"`          // 最大回撤 (%)
	MaxDrawdownDuration int     `json:"max_drawdown_duration"` // 最大回撤持续周期数
	Volatility          float64 `json:"volatility"`            // 年化波动率 (%)

	// 风险调整收益
	SharpeRatio  float64 `json:"sharpe_ratio"`
	SortinoRatio float64 `json:"sortino_ratio"`
	CalmarRatio  float64 `json:"calmar_ratio"`

	TradeStats
}

// CalculateMetrics 计算所有指标，纯函数
func CalculateMetrics(equity []portfolio.Snapshot, matches []MatchedTrade, initialCapital float64) Metrics {
	metrics := Metrics{TradeStats: CalculateTradeStats(matches)}
	if len(equity) == 0 {
		return metrics
	}

	returns := EquityReturns(equity)

	metrics.TotalReturn = calculateTotalReturn(equity, initialCapital)
	metrics.AnnualizedReturn = calculateAnnualizedReturn(equity, initialCapital)
	metrics.MaxDrawdown = calculateMaxDrawdown(equity)
	metrics.MaxDrawdownDuration = calculateMaxDrawdownDuration(equity)
	metrics.Volatility = indicators.PopulationStdDev(returns) * math.Sqrt(indicators.TradingDaysPerYear) * 100
	metrics.SharpeRatio = SharpeRatio(returns)
	metrics.SortinoRatio = calculateSortinoRatio(returns)
	if metrics.MaxDrawdown > 0 {
		metrics.CalmarRatio = metrics.AnnualizedReturn / metrics.MaxDrawdown
	}
	return metrics
}

// EquityReturns 权益曲线的逐期收益率
func EquityReturns(equity []portfolio.Snapshot) []float64 {
	values := make([]float64, len(equity))
	for i, s := range equity {
		values[i] = s.TotalValue
	}
	return indicators.Returns(values)
}

// calculateTotalReturn 计算总收益率
func calculateTotalReturn(equity []portfolio.Snapshot, initialCapital float64) float64 {
	if len(equity) == 0 || initialCapital == 0 {
		return 0
	}
	return (equity[len(equity)-1].TotalValue - initialCapital) / initialCapital * 100
}

// calculateAnnualizedReturn 计算年化收益率（按日历天数）
func calculateAnnualizedReturn(equity []portfolio.Snapshot, initialCapital float64) float64 {
	if len(equity) < 2 || initialCapital == 0 {
		return 0
	}

	days := equity[len(equity)-1].Timestamp.Sub(equity[0].Timestamp).Hours() / 24
	if days <= 0 {
		return 0
	}

	growth := 1 + calculateTotalReturn(equity, initialCapital)/100
	if growth <= 0 {
		return -100
	}
	return (math.Pow(growth, 365/days) - 1) * 100
}

// calculateMaxDrawdown 计算最大回撤
func calculateMaxDrawdown(equity []portfolio.Snapshot) float64 {
	if len(equity) == 0 {
		return 0
	}

	maxDrawdown := 0.0
	peak := equity[0].TotalValue
	for _, point := range equity {
		if point.TotalValue > peak {
			peak = point.TotalValue
		}
		if peak > 0 {
			drawdown := (peak - point.TotalValue) / peak * 100
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}
	return maxDrawdown
}

// calculateMaxDrawdownDuration 计算最大回撤持续周期数
func calculateMaxDrawdownDuration(equity []portfolio.Snapshot) int {
	if len(equity) == 0 {
		return 0
	}

	maxDuration := 0
	currentDuration := 0
	peak := equity[0].TotalValue
	for _, point := range equity {
		if point.TotalValue >= peak {
			peak = point.TotalValue
			if currentDuration > maxDuration {
				maxDuration = currentDuration
			}
			currentDuration = 0
		} else {
			currentDuration++
		}
	}
	if currentDuration > maxDuration {
		maxDuration = currentDuration
	}
	return maxDuration
}

// SharpeRatio 年化夏普比率（总体标准差，√252）
func SharpeRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	stdDev := indicators.PopulationStdDev(returns)
	if stdDev == 0 {
		return 0
	}
	return (indicators.Mean(returns) - riskFreeDaily) / stdDev * math.Sqrt(indicators.TradingDaysPerYear)
}

// calculateSortinoRatio 计算索提诺比率（只考虑下行波动）
func calculateSortinoRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	downVariance := 0.0
	downCount := 0
	for _, r := range returns {
		if r < 0 {
			downVariance += r * r
			downCount++
		}
	}
	if downCount == 0 {
		return 0
	}

	downStdDev := math.Sqrt(downVariance / float64(downCount))
	if downStdDev == 0 {
		return 0
	}
	return (indicators.Mean(returns) - riskFreeDaily) / downStdDev * math.Sqrt(indicators.TradingDaysPerYear)
}
