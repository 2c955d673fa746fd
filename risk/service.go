package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"quantrisk/cache"
	"quantrisk/logger"
	"quantrisk/metrics"
)

// ErrRefreshThrottled 强制刷新过于频繁
var ErrRefreshThrottled = errors.New("risk refresh throttled")

// mirrorKey Redis 镜像中的快照键
const mirrorKey = "risk:snapshot"

// InputProvider 提供最新的风险计算输入
type InputProvider func(ctx context.Context) (Inputs, error)

// Service 风险快照服务
//
// 最新快照保存在单槽原子缓存中，读者无锁读取；缓存过期时并发请求合并为一次计算。
// Start 启动后台定时刷新，Refresh 为限速的强制刷新。
type Service struct {
	engine   atomic.Pointer[Engine]
	provider InputProvider
	slot     *cache.Slot[*Snapshot]
	group    singleflight.Group
	limiter  *rate.Limiter
	mirror   cache.Mirror
	interval time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	listeners []func(*Snapshot)
}

// NewService 创建风险快照服务，mirror 为 nil 时不做跨进程镜像
func NewService(engine *Engine, provider InputProvider, mirror cache.Mirror) *Service {
	cfg := engine.Config()
	if mirror == nil {
		mirror = cache.NewNopMirror()
	}
	s := &Service{
		provider: provider,
		slot:     cache.NewSlot[*Snapshot](cfg.CacheTTL),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RefreshPerSec), cfg.RefreshBurst),
		mirror:   mirror,
		interval: cfg.RefreshInterval,
		now:      time.Now,
	}
	s.engine.Store(engine)
	return s
}

// Engine 当前使用的风险引擎
func (s *Service) Engine() *Engine {
	return s.engine.Load()
}

// Reconfigure 按新配置替换风险引擎并使缓存失效
// 缓存 TTL 与刷新间隔在创建时确定，不随此调用变化
func (s *Service) Reconfigure(cfg Config) error {
	engine, err := NewEngine(cfg)
	if err != nil {
		return err
	}
	s.engine.Store(engine)
	s.limiter.SetLimit(rate.Limit(cfg.RefreshPerSec))
	s.limiter.SetBurst(cfg.RefreshBurst)
	s.slot.Invalidate()
	logger.Info("🔄 [风险] 引擎配置已更新 (VaR持有期: %d, 相关性阈值: %.2f, 强平预警: %.1f%%/%.1f%%)",
		cfg.VaRHorizon, cfg.CorrelationThreshold, cfg.Liquidation.CriticalPct, cfg.Liquidation.WarningPct)
	return nil
}

// OnRefresh 注册快照刷新回调，回调在刷新协程内同步执行
func (s *Service) OnRefresh(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start 启动后台刷新，ctx 取消后退出
func (s *Service) Start(ctx context.Context) {
	logger.Info("✅ 风险快照服务已启动 (刷新间隔: %v, 缓存TTL: %v)", s.interval, s.slot.TTL())
	go s.refreshLoop(ctx)
}

func (s *Service) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if _, err := s.recompute(ctx, "startup"); err != nil {
		logger.Warn("⚠️ [风险] 初始快照计算失败: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("⏹️ 风险快照服务已停止")
			return
		case <-ticker.C:
			if _, err := s.recompute(ctx, "interval"); err != nil {
				logger.Warn("⚠️ [风险] 定时刷新失败: %v", err)
			}
		}
	}
}

// Snapshot 返回最新快照，缓存未过期时直接返回
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap, ok := s.slot.Fresh(s.now()); ok {
		metrics.GetPrometheusMetrics().RecordRiskCache(true)
		return snap, nil
	}
	metrics.GetPrometheusMetrics().RecordRiskCache(false)
	return s.recompute(ctx, "miss")
}

// Cached 返回缓存中的快照（可能已过期），从未计算过时为 nil
func (s *Service) Cached() *Snapshot {
	if e := s.slot.Load(); e != nil {
		return e.Value
	}
	return nil
}

// Refresh 强制重新计算，超过限速时返回 ErrRefreshThrottled 与当前缓存
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	if !s.limiter.Allow() {
		return s.Cached(), ErrRefreshThrottled
	}
	return s.recompute(ctx, "forced")
}

// recompute 合并并发计算请求
func (s *Service) recompute(ctx context.Context, trigger string) (*Snapshot, error) {
	v, err, _ := s.group.Do("snapshot", func() (interface{}, error) {
		in, err := s.provider(ctx)
		if err != nil {
			return nil, fmt.Errorf("load risk inputs: %w", err)
		}
		start := time.Now()
		snap := s.engine.Load().Compute(in)
		s.slot.Store(snap, s.now())
		s.publish(ctx, snap, trigger, time.Since(start))
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (s *Service) publish(ctx context.Context, snap *Snapshot, trigger string, elapsed time.Duration) {
	pm := metrics.GetPrometheusMetrics()
	pm.RecordRiskRefresh(trigger, elapsed)
	pm.SetEquity(snap.Equity)
	pm.SetMarginUsageRatio(snap.MarginUsage)
	pm.SetVaR("0.95", snap.VaR95.VaR, snap.VaR95.CVaR)
	pm.SetVaR("0.99", snap.VaR99.VaR, snap.VaR99.CVaR)
	pm.SetDollarDelta(snap.Greeks.DollarDelta)
	critical, warning := 0, 0
	for _, w := range snap.LiquidationWarnings {
		if w.Level == LevelCritical {
			critical++
		} else {
			warning++
		}
	}
	pm.SetLiquidationWarnings(critical, warning)
	if critical > 0 {
		logger.Warn("🚨 [风险] %d 个持仓接近强平", critical)
	}

	if err := s.mirror.Publish(ctx, mirrorKey, snap, s.slot.TTL()); err != nil {
		logger.Warn("⚠️ [风险] 快照镜像写入失败: %v", err)
	}

	s.mu.RLock()
	listeners := append([]func(*Snapshot){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// Mirrored 从镜像读取最近发布的快照（可能来自其他进程），本地计算不可用时作为降级来源
func (s *Service) Mirrored(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	if err := s.mirror.Fetch(ctx, mirrorKey, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
