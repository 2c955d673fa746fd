package greeks

import (
	"quantrisk/indicators"
	"quantrisk/logger"
)

// VolSource 波动率来源
type VolSource string

const (
	SourceImplied    VolSource = "implied"
	SourceHistorical VolSource = "historical"
	SourceDefault    VolSource = "default"
)

// Resolution 波动率解析结果
type Resolution struct {
	Volatility        float64   `json:"volatility"`
	Source            VolSource `json:"source"`
	ReducedConfidence bool      `json:"reduced_confidence"`
}

// VolatilityResolver 波动率回退链：隐含 → 历史（√252 年化）→ 默认
type VolatilityResolver struct {
	Window  int     // 历史波动率滚动窗口
	Default float64 // 兜底波动率
}

// Resolve 解析可用波动率，每次回退都记录为低置信度
func (r VolatilityResolver) Resolve(symbol string, implied float64, closes []float64) Resolution {
	if implied > 0 {
		return Resolution{Volatility: implied, Source: SourceImplied}
	}

	if hv, ok := indicators.HistoricalVolatility(closes, r.Window); ok {
		logger.Warn("⚠️ %s 缺少隐含波动率，使用历史波动率 %.4f（窗口 %d，低置信度）", symbol, hv, r.Window)
		return Resolution{Volatility: hv, Source: SourceHistorical, ReducedConfidence: true}
	}

	logger.Warn("⚠️ %s 缺少隐含波动率且历史数据不足(%d)，使用默认波动率 %.4f（低置信度）",
		symbol, len(closes), r.Default)
	return Resolution{Volatility: r.Default, Source: SourceDefault, ReducedConfidence: true}
}
