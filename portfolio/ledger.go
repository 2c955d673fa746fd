// Package portfolio 组合账本：现金/持仓记账、交易成本与只追加的成交日志
package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"quantrisk/logger"
)

var (
	ErrInvalidConfig        = errors.New("invalid ledger config")
	ErrInvalidOrder         = errors.New("invalid order")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position")
)

// 数量归零的容差
const quantityEpsilon = 1e-12

// Config 账本配置
type Config struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital"`
	CommissionRate float64 `yaml:"commission_rate" json:"commission_rate"` // 手续费率，如 0.001
	SlippageRate   float64 `yaml:"slippage_rate" json:"slippage_rate"`     // 滑点率，如 0.0005
	Source         string  `yaml:"source" json:"source"`                   // 成交数据来源标记
}

// Validate 校验账本配置
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("%w: initial_capital must be > 0, got %.4f", ErrInvalidConfig, c.InitialCapital)
	}
	if c.CommissionRate < 0 || c.SlippageRate < 0 {
		return fmt.Errorf("%w: commission_rate=%.6f slippage_rate=%.6f must be >= 0",
			ErrInvalidConfig, c.CommissionRate, c.SlippageRate)
	}
	if c.CommissionRate+c.SlippageRate >= 1 {
		return fmt.Errorf("%w: commission_rate+slippage_rate must be < 1, got %.6f",
			ErrInvalidConfig, c.CommissionRate+c.SlippageRate)
	}
	return nil
}

// Ledger 组合账本
//
// 单次模拟独占一个账本，非并发安全。成交日志只追加，已写入的 Trade 不会被修改。
type Ledger struct {
	cfg            Config
	commissionRate decimal.Decimal
	slippageRate   decimal.Decimal

	cash      decimal.Decimal
	positions map[string]*Position
	trades    []Trade
	equity    []Snapshot
	seq       int64
}

// NewLedger 创建账本
func NewLedger(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		cfg:            cfg,
		commissionRate: decimal.NewFromFloat(cfg.CommissionRate),
		slippageRate:   decimal.NewFromFloat(cfg.SlippageRate),
		cash:           decimal.NewFromFloat(cfg.InitialCapital),
		positions:      make(map[string]*Position),
		trades:         make([]Trade, 0, 64),
		equity:         make([]Snapshot, 0, 256),
	}, nil
}

// Config 返回账本配置
func (l *Ledger) Config() Config {
	return l.cfg
}

// Buy 买入现货
func (l *Ledger) Buy(symbol string, price, quantity float64, ts time.Time) (Trade, error) {
	return l.Execute(Order{Symbol: symbol, Side: SideBuy, Price: price, Quantity: quantity, Timestamp: ts})
}

// Sell 卖出现货
func (l *Ledger) Sell(symbol string, price, quantity float64, ts time.Time) (Trade, error) {
	return l.Execute(Order{Symbol: symbol, Side: SideSell, Price: price, Quantity: quantity, Timestamp: ts})
}

// Execute 执行订单
// 被拒绝的订单（资金/持仓不足）返回哨兵错误，账本状态保持不变
func (l *Ledger) Execute(order Order) (Trade, error) {
	if order.Symbol == "" || order.Price <= 0 || order.Quantity <= 0 {
		return Trade{}, fmt.Errorf("%w: symbol=%q price=%.6f quantity=%.6f",
			ErrInvalidOrder, order.Symbol, order.Price, order.Quantity)
	}
	if err := l.resolveContract(&order); err != nil {
		return Trade{}, err
	}
	if order.Source == "" {
		order.Source = l.cfg.Source
	}

	cost := decimal.NewFromFloat(order.Price).
		Mul(decimal.NewFromFloat(order.Quantity)).
		Mul(decimal.NewFromFloat(order.Multiplier))
	commission := cost.Mul(l.commissionRate)
	slippage := cost.Mul(l.slippageRate)
	fees := commission.Add(slippage)

	switch order.Side {
	case SideBuy:
		return l.buy(order, cost, commission, slippage, fees)
	case SideSell:
		return l.sell(order, cost, commission, slippage, fees)
	default:
		return Trade{}, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, order.Side)
	}
}

// resolveContract 补全订单的合约条款
// 已有持仓时品种、乘数和保证金率以持仓为准，订单显式给出的不一致条款被拒绝
func (l *Ledger) resolveContract(order *Order) error {
	pos, exists := l.positions[order.Symbol]
	if !exists {
		if order.Kind == "" {
			order.Kind = AssetEquity
		}
		if order.Multiplier <= 0 {
			order.Multiplier = 1
		}
		if order.MarginRate <= 0 {
			order.MarginRate = 1
		}
		return nil
	}

	switch {
	case order.Kind != "" && order.Kind != pos.Kind:
		return fmt.Errorf("%w: %s held as %s, order is %s",
			ErrInvalidOrder, order.Symbol, pos.Kind, order.Kind)
	case order.Multiplier > 0 && order.Multiplier != pos.Multiplier:
		return fmt.Errorf("%w: %s held with multiplier %.4f, order has %.4f",
			ErrInvalidOrder, order.Symbol, pos.Multiplier, order.Multiplier)
	case order.MarginRate > 0 && order.MarginRate != pos.MarginRate:
		return fmt.Errorf("%w: %s held with margin rate %.4f, order has %.4f",
			ErrInvalidOrder, order.Symbol, pos.MarginRate, order.MarginRate)
	}
	order.Kind = pos.Kind
	order.Multiplier = pos.Multiplier
	order.MarginRate = pos.MarginRate
	return nil
}

func (l *Ledger) buy(order Order, cost, commission, slippage, fees decimal.Decimal) (Trade, error) {
	total := cost.Add(fees)
	if total.GreaterThan(l.cash) {
		return Trade{}, fmt.Errorf("%w: %s needs %s, cash %s",
			ErrInsufficientFunds, order.Symbol, total.StringFixed(4), l.cash.StringFixed(4))
	}

	pos, exists := l.positions[order.Symbol]
	l.cash = l.cash.Sub(total)
	if !exists {
		pos = &Position{
			Symbol:     order.Symbol,
			Kind:       order.Kind,
			Multiplier: order.Multiplier,
			MarginRate: order.MarginRate,
			Direction:  Long,
		}
		l.positions[order.Symbol] = pos
	}
	newQty := pos.Quantity + order.Quantity
	pos.EntryPrice = (pos.Quantity*pos.EntryPrice + order.Quantity*order.Price) / newQty
	pos.Quantity = newQty

	trade := l.appendTrade(order, commission, slippage, total)
	logger.Debug("📈 买入: %s 价格=%.4f, 数量=%.4f, 费用=%.4f, 现金=%.2f",
		order.Symbol, order.Price, order.Quantity, trade.Fees(), l.Cash())
	return trade, nil
}

func (l *Ledger) sell(order Order, cost, commission, slippage, fees decimal.Decimal) (Trade, error) {
	pos, exists := l.positions[order.Symbol]
	held := 0.0
	if exists {
		held = pos.Quantity
	}
	if order.Quantity > held {
		return Trade{}, fmt.Errorf("%w: %s sell %.6f, held %.6f",
			ErrInsufficientPosition, order.Symbol, order.Quantity, held)
	}

	proceeds := cost.Sub(fees)
	l.cash = l.cash.Add(proceeds)
	pos.Quantity -= order.Quantity
	if pos.Quantity <= quantityEpsilon {
		delete(l.positions, order.Symbol)
	}

	trade := l.appendTrade(order, commission, slippage, proceeds.Neg())
	logger.Debug("📉 卖出: %s 价格=%.4f, 数量=%.4f, 费用=%.4f, 现金=%.2f",
		order.Symbol, order.Price, order.Quantity, trade.Fees(), l.Cash())
	return trade, nil
}

func (l *Ledger) appendTrade(order Order, commission, slippage, netCash decimal.Decimal) Trade {
	l.seq++
	trade := Trade{
		Seq:           l.seq,
		Timestamp:     order.Timestamp,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Kind:          order.Kind,
		Price:         order.Price,
		Quantity:      order.Quantity,
		Multiplier:    order.Multiplier,
		Commission:    commission.InexactFloat64(),
		Slippage:      slippage.InexactFloat64(),
		NetCashEffect: netCash.InexactFloat64(),
		Source:        order.Source,
	}
	l.trades = append(l.trades, trade)
	return trade
}

// Cash 当前现金
func (l *Ledger) Cash() float64 {
	return l.cash.InexactFloat64()
}

// InitialCapital 初始资金
func (l *Ledger) InitialCapital() float64 {
	return l.cfg.InitialCapital
}

// Position 查询单个持仓
func (l *Ledger) Position(symbol string) (Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions 持仓快照（按代码排序的副本）
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// TradeLog 成交日志副本（按成交顺序）
func (l *Ledger) TradeLog() []Trade {
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// EquityCurve 权益曲线副本
func (l *Ledger) EquityCurve() []Snapshot {
	out := make([]Snapshot, len(l.equity))
	copy(out, l.equity)
	return out
}

// Valuate 盯市估值
// 缺少价格的持仓按 0 计价，并作为数据质量告警返回
func (l *Ledger) Valuate(prices map[string]float64) Valuation {
	positionsValue := decimal.Zero
	var missing []string
	for _, sym := range l.symbols() {
		pos := l.positions[sym]
		price, ok := prices[sym]
		if !ok {
			missing = append(missing, sym)
			continue
		}
		value := decimal.NewFromFloat(pos.Quantity).
			Mul(decimal.NewFromFloat(price)).
			Mul(decimal.NewFromFloat(pos.ContractMultiplier()))
		positionsValue = positionsValue.Add(value)
	}
	if len(missing) > 0 {
		logger.Warn("⚠️ 盯市缺少价格，按0计价: %v", missing)
	}
	return Valuation{
		Cash:           l.Cash(),
		PositionsValue: positionsValue.InexactFloat64(),
		Total:          l.cash.Add(positionsValue).InexactFloat64(),
		MissingPrices:  missing,
	}
}

// MarkToMarket 现金 + 持仓市值
func (l *Ledger) MarkToMarket(prices map[string]float64) float64 {
	return l.Valuate(prices).Total
}

// Snapshot 记录一个权益快照
func (l *Ledger) Snapshot(ts time.Time, prices map[string]float64) Snapshot {
	v := l.Valuate(prices)
	snap := Snapshot{
		Timestamp:      ts,
		Cash:           v.Cash,
		PositionsValue: v.PositionsValue,
		TotalValue:     v.Total,
		MissingPrices:  v.MissingPrices,
	}
	l.equity = append(l.equity, snap)
	return snap
}

// Summary 账户概览
func (l *Ledger) Summary(prices map[string]float64) Summary {
	v := l.Valuate(prices)
	totalFees := 0.0
	for _, t := range l.trades {
		totalFees += t.Fees()
	}
	return Summary{
		InitialCapital: l.cfg.InitialCapital,
		Cash:           v.Cash,
		PositionsValue: v.PositionsValue,
		TotalValue:     v.Total,
		ReturnPct:      (v.Total - l.cfg.InitialCapital) / l.cfg.InitialCapital * 100,
		Positions:      l.Positions(),
		TradeCount:     len(l.trades),
		TotalFees:      totalFees,
		MissingPrices:  v.MissingPrices,
	}
}

func (l *Ledger) symbols() []string {
	syms := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}
