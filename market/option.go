package market

import (
	"fmt"
	"strings"
	"time"
)

// OptionType 期权类型
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// Valid 是否为看涨/看跌
func (t OptionType) Valid() bool { return t == Call || t == Put }

// OptionQuote 期权补充行情
type OptionQuote struct {
	Symbol            string     `json:"symbol"`
	Underlying        string     `json:"underlying"`
	Type              OptionType `json:"type"`
	ImpliedVolatility float64    `json:"implied_volatility"`
	Strike            float64    `json:"strike"`
	Expiry            time.Time  `json:"expiry"`
	UnderlyingPrice   float64    `json:"underlying_price"`
}

// MissingFields 返回计算 Greeks 前缺失的字段
func (q OptionQuote) MissingFields() []string {
	missing := make([]string, 0, 5)
	if !q.Type.Valid() {
		missing = append(missing, "type")
	}
	if q.ImpliedVolatility <= 0 {
		missing = append(missing, "implied_volatility")
	}
	if q.Strike <= 0 {
		missing = append(missing, "strike")
	}
	if q.Expiry.IsZero() {
		missing = append(missing, "expiry")
	}
	if q.UnderlyingPrice <= 0 {
		missing = append(missing, "underlying_price")
	}
	return missing
}

// Validate 完整性校验
func (q OptionQuote) Validate() error {
	missing := q.MissingFields()
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("option quote %s incomplete: missing %s", q.Symbol, strings.Join(missing, ", "))
}

// PricingFieldsMissing 除隐含波动率外的必需字段缺失（IV 可由历史波动率回退）
func (q OptionQuote) PricingFieldsMissing() []string {
	out := make([]string, 0, 4)
	for _, f := range q.MissingFields() {
		if f != "implied_volatility" {
			out = append(out, f)
		}
	}
	return out
}

// Complete 所有字段齐全
func (q OptionQuote) Complete() bool {
	return len(q.MissingFields()) == 0
}
