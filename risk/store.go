package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quantrisk/market"
	"quantrisk/portfolio"
)

// InputStore 保存最新的组合状态与行情，作为风险服务的输入来源
type InputStore struct {
	mu  sync.RWMutex
	in  Inputs
	now func() time.Time
}

// NewInputStore 创建输入存储
func NewInputStore(initial Inputs) *InputStore {
	return &InputStore{in: cloneInputs(initial), now: time.Now}
}

// Replace 整体替换组合状态
func (s *InputStore) Replace(in Inputs) error {
	if err := validateInputs(in); err != nil {
		return err
	}
	s.mu.Lock()
	s.in = cloneInputs(in)
	s.mu.Unlock()
	return nil
}

// UpdatePrice 更新单个标的最新价，并追加到收盘价历史
func (s *InputStore) UpdatePrice(symbol string, price float64, appendClose bool) error {
	if price <= 0 {
		return fmt.Errorf("%w: price for %s must be > 0, got %.6f", market.ErrInvalidBar, symbol, price)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.in.Prices == nil {
		s.in.Prices = make(map[string]float64)
	}
	s.in.Prices[symbol] = price
	if appendClose {
		if s.in.Closes == nil {
			s.in.Closes = make(map[string][]float64)
		}
		s.in.Closes[symbol] = append(s.in.Closes[symbol], price)
	}
	return nil
}

// SyncLedger 用账本的现金与持仓覆盖组合状态
func (s *InputStore) SyncLedger(ledger *portfolio.Ledger) {
	cash := ledger.Cash()
	positions := ledger.Positions()
	s.mu.Lock()
	s.in.Cash = cash
	s.in.Positions = positions
	s.mu.Unlock()
}

// Current 当前输入的副本
func (s *InputStore) Current() Inputs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneInputs(s.in)
}

// Provider 作为 InputProvider 使用，时间戳为空时取当前时间
func (s *InputStore) Provider() InputProvider {
	return func(ctx context.Context) (Inputs, error) {
		if err := ctx.Err(); err != nil {
			return Inputs{}, err
		}
		in := s.Current()
		if in.Timestamp.IsZero() {
			in.Timestamp = s.now()
		}
		return in, nil
	}
}

func validateInputs(in Inputs) error {
	for _, pos := range in.Positions {
		if pos.Symbol == "" {
			return fmt.Errorf("%w: position without symbol", ErrInvalidConfig)
		}
		if pos.Quantity < 0 {
			return fmt.Errorf("%w: position %s quantity %.6f must be >= 0 (use direction for shorts)",
				ErrInvalidConfig, pos.Symbol, pos.Quantity)
		}
	}
	for symbol, price := range in.Prices {
		if price <= 0 {
			return fmt.Errorf("%w: price for %s must be > 0, got %.6f", market.ErrInvalidBar, symbol, price)
		}
	}
	return nil
}

func cloneInputs(in Inputs) Inputs {
	out := in
	out.Positions = append([]portfolio.Position(nil), in.Positions...)
	if in.Prices != nil {
		out.Prices = make(map[string]float64, len(in.Prices))
		for k, v := range in.Prices {
			out.Prices[k] = v
		}
	}
	if in.Closes != nil {
		out.Closes = make(map[string][]float64, len(in.Closes))
		for k, v := range in.Closes {
			out.Closes[k] = append([]float64(nil), v...)
		}
	}
	if in.OptionQuotes != nil {
		out.OptionQuotes = make(map[string]*market.OptionQuote, len(in.OptionQuotes))
		for k, v := range in.OptionQuotes {
			if v == nil {
				continue
			}
			q := *v
			out.OptionQuotes[k] = &q
		}
	}
	return out
}
