package risk

import (
	"sort"

	"quantrisk/margin"
)

// WarningLevel 预警级别
type WarningLevel string

const (
	LevelCritical WarningLevel = "critical"
	LevelWarning  WarningLevel = "warning"
)

// LiquidationThresholds 强平距离预警阈值（%）
type LiquidationThresholds struct {
	CriticalPct float64 `yaml:"critical_pct" json:"critical_pct"`
	WarningPct  float64 `yaml:"warning_pct" json:"warning_pct"`
}

// DefaultLiquidationThresholds 默认 3% / 5%
func DefaultLiquidationThresholds() LiquidationThresholds {
	return LiquidationThresholds{CriticalPct: 3, WarningPct: 5}
}

// LiquidationWarning 强平预警
type LiquidationWarning struct {
	Symbol           string       `json:"symbol"`
	Level            WarningLevel `json:"level"`
	DistancePct      float64      `json:"distance_pct"`
	CurrentPrice     float64      `json:"current_price"`
	LiquidationPrice float64      `json:"liquidation_price"`
}

// MarginUsage 保证金占用率，截断到 [0,1]；权益非正时视为满占用
func MarginUsage(totalMargin, equity float64) float64 {
	if equity <= 0 {
		if totalMargin > 0 {
			return 1
		}
		return 0
	}
	usage := totalMargin / equity
	switch {
	case usage < 0:
		return 0
	case usage > 1:
		return 1
	}
	return usage
}

// LiquidationWarnings 按距强平距离生成预警，距离升序
// 只考虑杠杆持仓；距离 <= CriticalPct 为 critical，<= WarningPct 为 warning
func LiquidationWarnings(states []margin.Snapshot, th LiquidationThresholds) []LiquidationWarning {
	var out []LiquidationWarning
	for _, s := range states {
		if !s.Leveraged || s.LiquidationPrice <= 0 {
			continue
		}
		var level WarningLevel
		switch {
		case s.DistanceToLiquidation <= th.CriticalPct:
			level = LevelCritical
		case s.DistanceToLiquidation <= th.WarningPct:
			level = LevelWarning
		default:
			continue
		}
		out = append(out, LiquidationWarning{
			Symbol:           s.Symbol,
			Level:            level,
			DistancePct:      s.DistanceToLiquidation,
			CurrentPrice:     s.CurrentPrice,
			LiquidationPrice: s.LiquidationPrice,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistancePct < out[j].DistancePct })
	return out
}
