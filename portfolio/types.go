package portfolio

import (
	"math"
	"time"
)

// AssetKind 资产类型
type AssetKind string

const (
	AssetEquity  AssetKind = "equity"
	AssetFutures AssetKind = "futures"
	AssetOption  AssetKind = "option"
)

// Direction 持仓方向
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Side 成交方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Position 持仓
type Position struct {
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"` // 加权平均开仓价（不含费用）
	Kind       AssetKind `json:"kind"`
	Multiplier float64   `json:"multiplier"`
	MarginRate float64   `json:"margin_rate"`
	Direction  Direction `json:"direction"`
}

// SignedQuantity 带方向的数量，空头为负
func (p Position) SignedQuantity() float64 {
	if p.Direction == Short {
		return -math.Abs(p.Quantity)
	}
	return math.Abs(p.Quantity)
}

// ContractMultiplier 合约乘数，未设置时为 1
func (p Position) ContractMultiplier() float64 {
	if p.Multiplier <= 0 {
		return 1
	}
	return p.Multiplier
}

// MarketValue 按当前价格计算的带符号市值
func (p Position) MarketValue(price float64) float64 {
	return p.SignedQuantity() * price * p.ContractMultiplier()
}

// Notional 名义价值（绝对值）
func (p Position) Notional(price float64) float64 {
	return math.Abs(p.Quantity) * price * p.ContractMultiplier()
}

// Leveraged 是否为杠杆持仓
func (p Position) Leveraged() bool {
	return p.Kind != AssetEquity && p.MarginRate > 0 && p.MarginRate < 1
}

// Trade 成交记录，写入后不可修改
//
// NetCashEffect 符号约定：买入为正（现金流出 = 成本 + 费用），
// 卖出为负（现金流入 = 收入 − 费用）。现金变化恒为 −NetCashEffect。
type Trade struct {
	Seq           int64     `json:"seq"`
	Timestamp     time.Time `json:"timestamp"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Kind          AssetKind `json:"kind"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	Multiplier    float64   `json:"multiplier"`
	Commission    float64   `json:"commission"`
	Slippage      float64   `json:"slippage"`
	NetCashEffect float64   `json:"net_cash_effect"`
	Source        string    `json:"source"`
}

// Fees 手续费 + 滑点
func (t Trade) Fees() float64 {
	return t.Commission + t.Slippage
}

// UnitCashEffect 每单位数量的现金影响（买入为含费成本，卖出为负的含费收入）
func (t Trade) UnitCashEffect() float64 {
	if t.Quantity == 0 {
		return 0
	}
	return t.NetCashEffect / t.Quantity
}

// Order 下单请求
type Order struct {
	Symbol     string
	Side       Side
	Price      float64
	Quantity   float64
	Timestamp  time.Time
	Kind       AssetKind
	Multiplier float64
	MarginRate float64
	Source     string
}

// Snapshot 账户快照（权益曲线上的一个点）
type Snapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	TotalValue     float64   `json:"total_value"`
	MissingPrices  []string  `json:"missing_prices,omitempty"`
}

// Valuation 盯市估值结果
type Valuation struct {
	Cash           float64  `json:"cash"`
	PositionsValue float64  `json:"positions_value"`
	Total          float64  `json:"total"`
	MissingPrices  []string `json:"missing_prices,omitempty"`
}

// Summary 账户概览
type Summary struct {
	InitialCapital float64    `json:"initial_capital"`
	Cash           float64    `json:"cash"`
	PositionsValue float64    `json:"positions_value"`
	TotalValue     float64    `json:"total_value"`
	ReturnPct      float64    `json:"return_pct"`
	Positions      []Position `json:"positions"`
	TradeCount     int        `json:"trade_count"`
	TotalFees      float64    `json:"total_fees"`
	MissingPrices  []string   `json:"missing_prices,omitempty"`
}
