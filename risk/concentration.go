package risk

import (
	"math"
	"sort"
)

// Concentration 持仓集中度
type Concentration struct {
	LargestSymbol string  `json:"largest_symbol"`
	LargestPct    float64 `json:"largest_pct"`
	Top3Pct       float64 `json:"top3_pct"`
	HHI           float64 `json:"hhi"` // 份额平方和，取值 (0,1]
	Positions     int     `json:"positions"`
}

// CalculateConcentration 按持仓市值绝对值计算集中度
func CalculateConcentration(values map[string]float64) Concentration {
	type share struct {
		symbol string
		value  float64
	}
	shares := make([]share, 0, len(values))
	total := 0.0
	for sym, v := range values {
		v = math.Abs(v)
		if v == 0 {
			continue
		}
		shares = append(shares, share{sym, v})
		total += v
	}
	result := Concentration{Positions: len(shares)}
	if total == 0 {
		return result
	}

	sort.Slice(shares, func(i, j int) bool {
		if shares[i].value != shares[j].value {
			return shares[i].value > shares[j].value
		}
		return shares[i].symbol < shares[j].symbol
	})

	result.LargestSymbol = shares[0].symbol
	result.LargestPct = shares[0].value / total * 100
	for i, s := range shares {
		w := s.value / total
		if i < 3 {
			result.Top3Pct += w * 100
		}
		result.HHI += w * w
	}
	return result
}
