package backtest

import (
	"quantrisk/portfolio"
	"quantrisk/risk"
)

// RiskMetrics 权益曲线的风险指标（百分比，亏损为负）
type RiskMetrics struct {
	VaR95  float64 `json:"var_95"`  // 95% 置信度的风险价值
	VaR99  float64 `json:"var_99"`  // 99% 置信度的风险价值
	CVaR95 float64 `json:"cvar_95"` // 95% 置信度的条件风险价值
	CVaR99 float64 `json:"cvar_99"` // 99% 置信度的条件风险价值
}

// CalculateRiskMetrics 计算风险指标（单期）
func CalculateRiskMetrics(equity []portfolio.Snapshot) RiskMetrics {
	returns := EquityReturns(equity)
	if len(returns) == 0 {
		return RiskMetrics{}
	}

	r95 := risk.HistoricalVaR(returns, 0.95, 1)
	r99 := risk.HistoricalVaR(returns, 0.99, 1)

	return RiskMetrics{
		VaR95:  r95.VaR * 100,
		VaR99:  r99.VaR * 100,
		CVaR95: r95.CVaR * 100,
		CVaR99: r99.CVaR * 100,
	}
}
