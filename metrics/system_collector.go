package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"quantrisk/logger"
	"quantrisk/monitor"
)

// SystemMetricsCollector 运行时与系统内存采集器
//
// 系统内存占用超过 warningPct 时并行回测会缩减 worker，采集器导出该压力状态并在状态切换时记录日志。
type SystemMetricsCollector struct {
	pm         *PrometheusMetrics
	interval   time.Duration
	warningPct float64
	probe      monitor.MemoryProbe

	mu            sync.Mutex
	underPressure bool
	lastUsage     float64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSystemMetricsCollector 创建采集器，warningPct 与 parallel.memory_warning_pct 一致
func NewSystemMetricsCollector(interval time.Duration, warningPct float64) *SystemMetricsCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SystemMetricsCollector{
		pm:         GetPrometheusMetrics(),
		interval:   interval,
		warningPct: warningPct,
		probe:      monitor.MemoryUsagePercent,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start 启动采集，ctx 取消或 Stop 后退出
func (smc *SystemMetricsCollector) Start(ctx context.Context) {
	go smc.collectLoop(ctx)
}

// Stop 停止采集并等待采集协程退出
func (smc *SystemMetricsCollector) Stop() {
	smc.stopOnce.Do(func() { close(smc.stop) })
	<-smc.done
}

// UnderPressure 最近一次采样是否处于内存压力状态
func (smc *SystemMetricsCollector) UnderPressure() (bool, float64) {
	smc.mu.Lock()
	defer smc.mu.Unlock()
	return smc.underPressure, smc.lastUsage
}

func (smc *SystemMetricsCollector) collectLoop(ctx context.Context) {
	defer close(smc.done)
	ticker := time.NewTicker(smc.interval)
	defer ticker.Stop()

	smc.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-smc.stop:
			return
		case <-ticker.C:
			smc.collect()
		}
	}
}

func (smc *SystemMetricsCollector) collect() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	smc.pm.SetGoroutineCount(runtime.NumGoroutine())
	smc.pm.SetMemoryAlloc(m.Alloc)
	if m.NumGC > 0 {
		if pauseNs := m.PauseNs[(m.NumGC+255)%256]; pauseNs > 0 {
			smc.pm.RecordGCPause(time.Duration(pauseNs))
		}
	}

	usage, err := smc.probe()
	if err != nil {
		logger.Debug("⚠️ 系统内存采样失败: %v", err)
		return
	}
	smc.pm.SetSystemMemoryPercent(usage)

	high := smc.warningPct > 0 && usage > smc.warningPct
	smc.mu.Lock()
	changed := high != smc.underPressure
	smc.underPressure = high
	smc.lastUsage = usage
	smc.mu.Unlock()

	smc.pm.SetMemoryPressure(high)
	if !changed {
		return
	}
	if high {
		logger.Warn("⚠️ 系统内存占用 %.1f%% 超过预警线 %.1f%%，并行回测将缩减 worker", usage, smc.warningPct)
	} else {
		logger.Info("✅ 系统内存占用回落到 %.1f%%，并行回测恢复全部 worker", usage)
	}
}
