package backtest

import (
	"errors"
	"fmt"
	"math"

	"quantrisk/market"
)

// ErrInvalidSignal 策略信号未通过校验
var ErrInvalidSignal = errors.New("invalid strategy signal")

// Action 信号动作
type Action string

const (
	ActionBuy        Action = "BUY"
	ActionSell       Action = "SELL"
	ActionHold       Action = "HOLD"
	ActionStrongBuy  Action = "STRONG_BUY"
	ActionStrongSell Action = "STRONG_SELL"
)

// Valid 是否为已知动作
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold, ActionStrongBuy, ActionStrongSell:
		return true
	}
	return false
}

// IsBuy BUY 或 STRONG_BUY
func (a Action) IsBuy() bool { return a == ActionBuy || a == ActionStrongBuy }

// IsSell SELL 或 STRONG_SELL
func (a Action) IsSell() bool { return a == ActionSell || a == ActionStrongSell }

// Signal 策略信号
type Signal struct {
	Action          Action   `json:"action"`
	EntryPrice      float64  `json:"entry_price"`
	StopLoss        float64  `json:"stop_loss,omitempty"`   // 0 表示未设置
	TakeProfit      float64  `json:"take_profit,omitempty"` // 0 表示未设置
	PositionSizePct float64  `json:"position_size_pct"`     // 建议仓位（占权益 %），0 使用默认仓位
	Factors         []string `json:"factors,omitempty"`     // 信号依据
}

// Hold 观望信号
func Hold(price float64, factors ...string) Signal {
	return Signal{Action: ActionHold, EntryPrice: price, Factors: factors}
}

// Strategy 策略接口
// GenerateSignal 只能看到截至当前K线（含）的历史
type Strategy interface {
	Name() string
	GenerateSignal(history market.BarSeries) Signal
}

// Factory 策略工厂，每次回测/每个切分创建新实例
type Factory func() Strategy

// SignalLimits 仓位限制
type SignalLimits struct {
	MaxSinglePositionPct  float64 `yaml:"max_single_position_pct" json:"max_single_position_pct"`
	MaxTotalAllocationPct float64 `yaml:"max_total_allocation_pct" json:"max_total_allocation_pct"`
}

// DefaultSignalLimits 默认仓位限制
func DefaultSignalLimits() SignalLimits {
	return SignalLimits{MaxSinglePositionPct: 95, MaxTotalAllocationPct: 100}
}

// ValidateSignal 校验信号并按限制裁剪仓位
//
// allocatedPct 为当前已占用的仓位百分比。止损价为 0 视为未设置。
// 返回裁剪后的信号；非法信号返回 ErrInvalidSignal。
func ValidateSignal(sig Signal, limits SignalLimits, allocatedPct float64) (Signal, error) {
	if !sig.Action.Valid() {
		return sig, fmt.Errorf("%w: unknown action %q", ErrInvalidSignal, sig.Action)
	}
	if math.IsNaN(sig.PositionSizePct) || sig.PositionSizePct < 0 || sig.PositionSizePct > 100 {
		return sig, fmt.Errorf("%w: position_size_pct %.4f not in [0,100]", ErrInvalidSignal, sig.PositionSizePct)
	}
	if sig.Action == ActionHold {
		return sig, nil
	}
	if sig.EntryPrice <= 0 {
		return sig, fmt.Errorf("%w: %s entry price %.6f must be > 0", ErrInvalidSignal, sig.Action, sig.EntryPrice)
	}

	if sig.StopLoss != 0 {
		if sig.Action.IsBuy() && sig.StopLoss >= sig.EntryPrice {
			return sig, fmt.Errorf("%w: %s stop loss %.6f must be below entry %.6f",
				ErrInvalidSignal, sig.Action, sig.StopLoss, sig.EntryPrice)
		}
		if sig.Action.IsSell() && sig.StopLoss <= sig.EntryPrice {
			return sig, fmt.Errorf("%w: %s stop loss %.6f must be above entry %.6f",
				ErrInvalidSignal, sig.Action, sig.StopLoss, sig.EntryPrice)
		}
	}

	if sig.Action.IsBuy() {
		size := sig.PositionSizePct
		if limits.MaxSinglePositionPct > 0 {
			size = math.Min(size, limits.MaxSinglePositionPct)
		}
		if limits.MaxTotalAllocationPct > 0 {
			size = math.Min(size, math.Max(0, limits.MaxTotalAllocationPct-allocatedPct))
		}
		sig.PositionSizePct = size
	}
	return sig, nil
}
