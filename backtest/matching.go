package backtest

import (
	"time"

	"quantrisk/portfolio"
)

// MatchedTrade 一笔 FIFO 配对的已实现交易
type MatchedTrade struct {
	Symbol           string        `json:"symbol"`
	EntrySeq         int64         `json:"entry_seq"`
	ExitSeq          int64         `json:"exit_seq"`
	EntryTime        time.Time     `json:"entry_time"`
	ExitTime         time.Time     `json:"exit_time"`
	Quantity         float64       `json:"quantity"`
	EntryPrice       float64       `json:"entry_price"`
	ExitPrice        float64       `json:"exit_price"`
	EntryUnitCost    float64       `json:"entry_unit_cost"`    // 含费用的每单位成本
	ExitUnitProceeds float64       `json:"exit_unit_proceeds"` // 扣费后的每单位收入
	PnL              float64       `json:"pnl"`
	ReturnPct        float64       `json:"return_pct"`
	HoldingPeriod    time.Duration `json:"holding_period"`
}

type openLot struct {
	trade     portfolio.Trade
	remaining float64
}

// MatchTrades 按代码分组，严格 FIFO 将买入与后续卖出配对
//
// 卖出按顺序消耗最早的未平仓买入，不足一手时部分消耗。
// 未平仓的买入不产生 MatchedTrade。输出按卖出顺序排列。
func MatchTrades(trades []portfolio.Trade) []MatchedTrade {
	open := make(map[string][]*openLot)
	matches := make([]MatchedTrade, 0, len(trades)/2)

	for _, tr := range trades {
		if tr.Quantity <= 0 {
			continue
		}
		switch tr.Side {
		case portfolio.SideBuy:
			open[tr.Symbol] = append(open[tr.Symbol], &openLot{trade: tr, remaining: tr.Quantity})

		case portfolio.SideSell:
			exitUnit := -tr.UnitCashEffect()
			remaining := tr.Quantity
			lots := open[tr.Symbol]
			for remaining > quantityEpsilon && len(lots) > 0 {
				lot := lots[0]
				qty := remaining
				if lot.remaining < qty {
					qty = lot.remaining
				}
				matches = append(matches, newMatch(lot.trade, tr, qty, exitUnit))

				lot.remaining -= qty
				remaining -= qty
				if lot.remaining <= quantityEpsilon {
					lots = lots[1:]
				}
			}
			open[tr.Symbol] = lots
		}
	}
	return matches
}

const quantityEpsilon = 1e-12

func newMatch(entry, exit portfolio.Trade, qty, exitUnit float64) MatchedTrade {
	entryUnit := entry.UnitCashEffect()
	pnl := qty * (exitUnit - entryUnit)
	returnPct := 0.0
	if entryUnit != 0 {
		returnPct = (exitUnit - entryUnit) / entryUnit * 100
	}
	return MatchedTrade{
		Symbol:           entry.Symbol,
		EntrySeq:         entry.Seq,
		ExitSeq:          exit.Seq,
		EntryTime:        entry.Timestamp,
		ExitTime:         exit.Timestamp,
		Quantity:         qty,
		EntryPrice:       entry.Price,
		ExitPrice:        exit.Price,
		EntryUnitCost:    entryUnit,
		ExitUnitProceeds: exitUnit,
		PnL:              pnl,
		ReturnPct:        returnPct,
		HoldingPeriod:    exit.Timestamp.Sub(entry.Timestamp),
	}
}
