package parallel

import (
	"math"

	"quantrisk/logger"
	"quantrisk/monitor"
)

const (
	// DefaultMemoryWarningPct 内存占用预警阈值（%）
	DefaultMemoryWarningPct = 75.0
	// MinWorkers 最少工作协程数
	MinWorkers = 2
)

// Scaler 按内存压力调整工作协程数
type Scaler struct {
	WarningPct float64
	Probe      monitor.MemoryProbe
}

// NewScaler 创建伸缩器，使用系统内存探针
func NewScaler(warningPct float64) *Scaler {
	if warningPct <= 0 {
		warningPct = DefaultMemoryWarningPct
	}
	return &Scaler{WarningPct: warningPct, Probe: monitor.MemoryUsagePercent}
}

// Workers 内存低于阈值时返回 requested；否则每超出 10 个百分点减少 1 个，最少 MinWorkers
func (s *Scaler) Workers(requested int) int {
	if requested < 1 {
		requested = 1
	}
	if s.Probe == nil {
		return requested
	}
	usage, err := s.Probe()
	if err != nil {
		logger.Warn("⚠️ 读取内存占用失败，按请求数 %d 运行: %v", requested, err)
		return requested
	}
	return ScaleWorkers(requested, usage, s.WarningPct)
}

// ScaleWorkers 纯函数版本
func ScaleWorkers(requested int, usagePct, warningPct float64) int {
	if usagePct < warningPct {
		return requested
	}
	reduced := requested - int(math.Floor((usagePct-warningPct)/10))
	if reduced < MinWorkers {
		reduced = MinWorkers
	}
	if reduced > requested {
		reduced = requested
	}
	logger.Warn("⚠️ 内存占用 %.1f%% 超过 %.0f%%，工作协程 %d → %d", usagePct, warningPct, requested, reduced)
	return reduced
}
