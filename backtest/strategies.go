package backtest

import (
	"fmt"

	"quantrisk/indicators"
	"quantrisk/market"
)

// RiskParams 策略附带的止损/止盈/仓位参数
type RiskParams struct {
	StopLossPct     float64 // 止损幅度（小数），0 不设置
	TakeProfitPct   float64 // 止盈幅度（小数），0 不设置
	PositionSizePct float64 // 建议仓位 %
}

func (p RiskParams) buySignal(action Action, price float64, factors ...string) Signal {
	sig := Signal{Action: action, EntryPrice: price, PositionSizePct: p.PositionSizePct, Factors: factors}
	if p.StopLossPct > 0 {
		sig.StopLoss = price * (1 - p.StopLossPct)
	}
	if p.TakeProfitPct > 0 {
		sig.TakeProfit = price * (1 + p.TakeProfitPct)
	}
	return sig
}

func lastPrice(closes []float64) float64 {
	if len(closes) == 0 {
		return 0
	}
	return closes[len(closes)-1]
}

// ========== 均线交叉 ==========

// MACrossover 均线交叉策略：金叉买入，死叉卖出
type MACrossover struct {
	FastPeriod int
	SlowPeriod int
	RiskParams
}

// NewMACrossover 创建均线交叉策略
func NewMACrossover(fast, slow int) *MACrossover {
	return &MACrossover{FastPeriod: fast, SlowPeriod: slow}
}

// Name 策略名称
func (s *MACrossover) Name() string {
	return fmt.Sprintf("ma_crossover(%d,%d)", s.FastPeriod, s.SlowPeriod)
}

// GenerateSignal 生成信号
func (s *MACrossover) GenerateSignal(history market.BarSeries) Signal {
	closes := market.Closes(history, s.SlowPeriod+1)
	price := lastPrice(closes)
	if len(closes) < s.SlowPeriod+1 {
		return Hold(price, "数据不足")
	}

	fast := indicators.SMA(closes, s.FastPeriod)
	slow := indicators.SMA(closes, s.SlowPeriod)

	if indicators.CrossOver(fast, slow) {
		return s.buySignal(ActionBuy, price,
			fmt.Sprintf("金叉: 快线=%.4f 上穿 慢线=%.4f", fast[len(fast)-1], slow[len(slow)-1]))
	}
	if indicators.CrossUnder(fast, slow) {
		return Signal{Action: ActionSell, EntryPrice: price,
			Factors: []string{fmt.Sprintf("死叉: 快线=%.4f 下穿 慢线=%.4f", fast[len(fast)-1], slow[len(slow)-1])}}
	}
	return Hold(price, "等待信号")
}

// ========== RSI 动量 ==========

// RSIMomentum RSI 超卖买入、超买卖出
type RSIMomentum struct {
	Period     int
	Oversold   float64
	Overbought float64
	RiskParams
}

// NewRSIMomentum 创建 RSI 策略
func NewRSIMomentum(period int, oversold, overbought float64) *RSIMomentum {
	return &RSIMomentum{Period: period, Oversold: oversold, Overbought: overbought}
}

// Name 策略名称
func (s *RSIMomentum) Name() string {
	return fmt.Sprintf("rsi_momentum(%d)", s.Period)
}

// GenerateSignal 生成信号
func (s *RSIMomentum) GenerateSignal(history market.BarSeries) Signal {
	// EMA 平滑需要更长的预热
	closes := market.Closes(history, s.Period*3+1)
	price := lastPrice(closes)
	rsi, ok := indicators.LastRSI(closes, s.Period)
	if !ok {
		return Hold(price, "数据不足")
	}

	switch {
	case rsi < s.Oversold/2:
		return s.buySignal(ActionStrongBuy, price, fmt.Sprintf("RSI 深度超卖 (RSI=%.2f)", rsi))
	case rsi < s.Oversold:
		return s.buySignal(ActionBuy, price, fmt.Sprintf("RSI 超卖信号 (RSI=%.2f)", rsi))
	case rsi > s.Overbought:
		return Signal{Action: ActionSell, EntryPrice: price,
			Factors: []string{fmt.Sprintf("RSI 超买信号 (RSI=%.2f)", rsi)}}
	}
	return Hold(price, "等待信号")
}

// ========== 布林带均值回归 ==========

// BollingerReversion 跌破下轨买入，回归均值或突破上轨卖出
type BollingerReversion struct {
	Period     int
	Multiplier float64
	RiskParams
}

// NewBollingerReversion 创建均值回归策略
func NewBollingerReversion(period int, multiplier float64) *BollingerReversion {
	return &BollingerReversion{Period: period, Multiplier: multiplier}
}

// Name 策略名称
func (s *BollingerReversion) Name() string {
	return fmt.Sprintf("bollinger_reversion(%d,%.1f)", s.Period, s.Multiplier)
}

// GenerateSignal 生成信号
func (s *BollingerReversion) GenerateSignal(history market.BarSeries) Signal {
	closes := market.Closes(history, s.Period)
	price := lastPrice(closes)
	bands := indicators.BollingerBands(closes, s.Period, s.Multiplier)
	if bands == nil {
		return Hold(price, "数据不足")
	}

	upper, middle, lower := bands.Last()
	switch {
	case price < lower:
		return s.buySignal(ActionBuy, price, fmt.Sprintf("价格低于下轨 (%.4f < %.4f)", price, lower))
	case price > upper:
		return Signal{Action: ActionSell, EntryPrice: price,
			Factors: []string{fmt.Sprintf("价格高于上轨 (%.4f > %.4f)", price, upper)}}
	case price >= middle:
		return Signal{Action: ActionSell, EntryPrice: price,
			Factors: []string{fmt.Sprintf("价格回归均值 (%.4f >= %.4f)", price, middle)}}
	}
	return Hold(price, "等待信号")
}
