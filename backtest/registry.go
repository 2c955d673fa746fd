package backtest

import (
	"fmt"
	"sort"
	"sync"
)

// StrategyBuilder 按参数构造策略
type StrategyBuilder func(params map[string]interface{}) Strategy

// StrategyRegistry 策略注册表
type StrategyRegistry struct {
	mu       sync.RWMutex
	builders map[string]StrategyBuilder
}

// NewStrategyRegistry 创建策略注册表
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{builders: make(map[string]StrategyBuilder)}
}

// Register 注册策略
func (r *StrategyRegistry) Register(name string, builder StrategyBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// Factory 返回按名称与参数构造策略的工厂
func (r *StrategyRegistry) Factory(name string, params map[string]interface{}) (Factory, error) {
	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %v)", name, r.List())
	}
	return func() Strategy { return builder(params) }, nil
}

// List 列出所有注册的策略
func (r *StrategyRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry 默认策略注册表
var DefaultRegistry = NewStrategyRegistry()

// NewStrategyFactory 从默认注册表获取策略工厂
func NewStrategyFactory(name string, params map[string]interface{}) (Factory, error) {
	return DefaultRegistry.Factory(name, params)
}

func riskParams(params map[string]interface{}) RiskParams {
	return RiskParams{
		StopLossPct:     getFloatParam(params, "stop_loss_pct", 0),
		TakeProfitPct:   getFloatParam(params, "take_profit_pct", 0),
		PositionSizePct: getFloatParam(params, "position_size_pct", 0),
	}
}

// 注册内置策略
func init() {
	DefaultRegistry.Register("ma_crossover", func(params map[string]interface{}) Strategy {
		s := NewMACrossover(getIntParam(params, "fast", 10), getIntParam(params, "slow", 30))
		s.RiskParams = riskParams(params)
		return s
	})

	DefaultRegistry.Register("rsi_momentum", func(params map[string]interface{}) Strategy {
		s := NewRSIMomentum(
			getIntParam(params, "period", 14),
			getFloatParam(params, "oversold", 30),
			getFloatParam(params, "overbought", 70),
		)
		s.RiskParams = riskParams(params)
		return s
	})

	DefaultRegistry.Register("bollinger_reversion", func(params map[string]interface{}) Strategy {
		s := NewBollingerReversion(getIntParam(params, "period", 20), getFloatParam(params, "multiplier", 2.0))
		s.RiskParams = riskParams(params)
		return s
	})
}

// 辅助函数
func getIntParam(params map[string]interface{}, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case int64:
			return int(val)
		case float64:
			return int(val)
		}
	}
	return defaultVal
}

func getFloatParam(params map[string]interface{}, key string, defaultVal float64) float64 {
	if v, ok := params[key]; ok {
		switch val := v.(type) {
		case float64:
			return val
		case int:
			return float64(val)
		case int64:
			return float64(val)
		}
	}
	return defaultVal
}
