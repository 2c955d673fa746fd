package event

import (
	"sync"

	"quantrisk/logger"
	"quantrisk/risk"
)

// MonitorConfig 快照告警阈值，0 表示关闭对应检查
type MonitorConfig struct {
	MarginUsagePct float64 // 保证金占用率（%）
	VaRLimitPct    float64 // VaR95 损失占权益（%）
}

// RiskMonitor 比较连续快照的风险状态，只在状态变化时发布事件
type RiskMonitor struct {
	mu          sync.Mutex
	publisher   Publisher
	cfg         MonitorConfig
	liquidation map[string]risk.WarningLevel
	pairs       map[string]bool
	marginHigh  bool
	varBreach   bool
}

// NewRiskMonitor 创建快照监控
func NewRiskMonitor(publisher Publisher, cfg MonitorConfig) *RiskMonitor {
	return &RiskMonitor{
		publisher:   publisher,
		cfg:         cfg,
		liquidation: make(map[string]risk.WarningLevel),
		pairs:       make(map[string]bool),
	}
}

// SetConfig 更新阈值，下一次快照生效
func (m *RiskMonitor) SetConfig(cfg MonitorConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	logger.Info("🔄 [事件] 告警阈值已更新 (保证金占用: %.1f%%, VaR: %.1f%%)", cfg.MarginUsagePct, cfg.VaRLimitPct)
}

// Observe 处理一次快照，可直接注册为 risk.Service 的刷新回调
func (m *RiskMonitor) Observe(snap *risk.Snapshot) {
	if snap == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.observeLiquidation(snap)
	m.observeMargin(snap)
	m.observeVaR(snap)
	m.observeCorrelation(snap)
}

func (m *RiskMonitor) publish(t EventType, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	m.publisher.Publish(&Event{Type: t, Data: data})
}

// observeLiquidation 新进入或升级到严重级别时告警，离开预警区间时发布解除
func (m *RiskMonitor) observeLiquidation(snap *risk.Snapshot) {
	current := make(map[string]risk.WarningLevel, len(snap.LiquidationWarnings))
	for _, w := range snap.LiquidationWarnings {
		current[w.Symbol] = w.Level
		prev, seen := m.liquidation[w.Symbol]
		if seen && prev == w.Level {
			continue
		}
		data := map[string]interface{}{
			"symbol":            w.Symbol,
			"distance_pct":      w.DistancePct,
			"current_price":     w.CurrentPrice,
			"liquidation_price": w.LiquidationPrice,
		}
		switch {
		case w.Level == risk.LevelCritical:
			m.publish(EventTypeLiquidationCritical, data)
		case !seen:
			m.publish(EventTypeLiquidationWarning, data)
		}
	}
	for symbol := range m.liquidation {
		if _, ok := current[symbol]; !ok {
			m.publish(EventTypeRiskRecovered, map[string]interface{}{
				"symbol":  symbol,
				"kind":    "liquidation",
				"message": symbol + " 已脱离强平预警区间",
			})
		}
	}
	m.liquidation = current
}

func (m *RiskMonitor) observeMargin(snap *risk.Snapshot) {
	if m.cfg.MarginUsagePct <= 0 {
		m.marginHigh = false
		return
	}
	usagePct := snap.MarginUsage * 100
	high := usagePct >= m.cfg.MarginUsagePct
	switch {
	case high && !m.marginHigh:
		m.publish(EventTypeMarginUsageHigh, map[string]interface{}{
			"usage_pct":     usagePct,
			"threshold_pct": m.cfg.MarginUsagePct,
			"total_margin":  snap.TotalMargin,
			"equity":        snap.Equity,
		})
	case !high && m.marginHigh:
		m.publish(EventTypeRiskRecovered, map[string]interface{}{
			"kind":    "margin",
			"message": "保证金占用率已回落到阈值以下",
		})
	}
	m.marginHigh = high
}

func (m *RiskMonitor) observeVaR(snap *risk.Snapshot) {
	if m.cfg.VaRLimitPct <= 0 || snap.Equity <= 0 {
		m.varBreach = false
		return
	}
	lossPct := 0.0
	if snap.VaR95.VaR < 0 {
		lossPct = -snap.VaR95.VaR / snap.Equity * 100
	}
	breach := lossPct >= m.cfg.VaRLimitPct
	switch {
	case breach && !m.varBreach:
		m.publish(EventTypeVaRBreach, map[string]interface{}{
			"var_95":        snap.VaR95.VaR,
			"cvar_95":       snap.VaR95.CVaR,
			"loss_pct":      lossPct,
			"threshold_pct": m.cfg.VaRLimitPct,
		})
	case !breach && m.varBreach:
		m.publish(EventTypeRiskRecovered, map[string]interface{}{
			"kind":    "var",
			"message": "VaR 已回落到阈值以下",
		})
	}
	m.varBreach = breach
}

// observeCorrelation 每个高相关对只在首次出现时告警
func (m *RiskMonitor) observeCorrelation(snap *risk.Snapshot) {
	current := make(map[string]bool, len(snap.Correlation.HighPairs))
	for _, p := range snap.Correlation.HighPairs {
		key := p.SymbolA + "|" + p.SymbolB
		current[key] = true
		if m.pairs[key] {
			continue
		}
		m.publish(EventTypeCorrelationHigh, map[string]interface{}{
			"symbol":      p.SymbolA,
			"peer":        p.SymbolB,
			"correlation": p.Correlation,
		})
	}
	m.pairs = current
}
