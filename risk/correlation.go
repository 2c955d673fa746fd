package risk

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"quantrisk/cache"
	"quantrisk/indicators"
)

// CorrelatedPair 高相关资产对
type CorrelatedPair struct {
	SymbolA     string  `json:"symbol_a"`
	SymbolB     string  `json:"symbol_b"`
	Correlation float64 `json:"correlation"`
}

// CorrelationResult 相关性矩阵
type CorrelationResult struct {
	Symbols      []string         `json:"symbols"`
	Matrix       [][]float64      `json:"matrix"`
	HighPairs    []CorrelatedPair `json:"high_pairs"`
	Observations int              `json:"observations"`
	Warning      string           `json:"warning,omitempty"`
}

// Get 按代码读取相关系数
func (r CorrelationResult) Get(a, b string) (float64, bool) {
	i, j := -1, -1
	for k, s := range r.Symbols {
		if s == a {
			i = k
		}
		if s == b {
			j = k
		}
	}
	if i < 0 || j < 0 {
		return 0, false
	}
	return r.Matrix[i][j], true
}

// CorrelationCalculator Pearson 相关性计算器，结果按输入签名短期缓存
type CorrelationCalculator struct {
	window    int
	threshold float64
	ttl       time.Duration

	mu      sync.Mutex
	entries map[string]*cache.Entry[CorrelationResult]
	now     func() time.Time
}

// NewCorrelationCalculator 创建相关性计算器
func NewCorrelationCalculator(window int, threshold float64, ttl time.Duration) *CorrelationCalculator {
	return &CorrelationCalculator{
		window:    window,
		threshold: threshold,
		ttl:       ttl,
		entries:   make(map[string]*cache.Entry[CorrelationResult]),
		now:       time.Now,
	}
}

// Matrix 计算收盘价序列之间的收益率相关性
//
// 各序列按尾部对齐，取最近 window 个收益率。|ρ| >= threshold 的资产对按 |ρ| 降序返回。
// 零方差资产与其他资产相关性记为 0。
func (c *CorrelationCalculator) Matrix(closes map[string][]float64) CorrelationResult {
	symbols := make([]string, 0, len(closes))
	for sym := range closes {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	key := c.signature(symbols, closes)
	now := c.now()
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !e.IsStale(now) {
		c.mu.Unlock()
		return e.Value
	}
	c.mu.Unlock()

	result := c.compute(symbols, closes)

	c.mu.Lock()
	for k, e := range c.entries {
		if e.IsStale(now) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = &cache.Entry[CorrelationResult]{Value: result, StoredAt: now, TTL: c.ttl}
	c.mu.Unlock()
	return result
}

// signature 缓存键：窗口长度、资产代码、序列长度以及参与计算的尾部收盘价的哈希
func (c *CorrelationCalculator) signature(symbols []string, closes map[string][]float64) string {
	d := xxhash.New()
	var buf [8]byte
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}

	writeUint(uint64(c.window))
	for _, sym := range symbols {
		_, _ = d.WriteString(sym)
		series := closes[sym]
		writeUint(uint64(len(series)))
		tail := series
		if len(tail) > c.window+1 {
			tail = tail[len(tail)-c.window-1:]
		}
		for _, v := range tail {
			writeUint(math.Float64bits(v))
		}
	}
	return fmt.Sprintf("%d:%016x", len(symbols), d.Sum64())
}

func (c *CorrelationCalculator) compute(symbols []string, closes map[string][]float64) CorrelationResult {
	n := len(symbols)
	result := CorrelationResult{Symbols: symbols, Matrix: make([][]float64, n)}
	for i := range result.Matrix {
		result.Matrix[i] = make([]float64, n)
	}
	if n == 0 {
		result.Warning = "no price history"
		return result
	}

	length := c.window
	returns := make([][]float64, n)
	for i, sym := range symbols {
		returns[i] = indicators.Returns(closes[sym])
		if len(returns[i]) < length {
			length = len(returns[i])
		}
	}
	if length < 2 {
		result.Warning = fmt.Sprintf("insufficient history: %d aligned returns", length)
		return result
	}
	if length < c.window {
		result.Warning = fmt.Sprintf("correlation window shortened to %d (configured %d)", length, c.window)
	}
	result.Observations = length
	for i := range returns {
		returns[i] = returns[i][len(returns[i])-length:]
	}

	for i := 0; i < n; i++ {
		if indicators.PopulationStdDev(returns[i]) > 0 {
			result.Matrix[i][i] = 1
		}
		for j := i + 1; j < n; j++ {
			rho := Pearson(returns[i], returns[j])
			result.Matrix[i][j] = rho
			result.Matrix[j][i] = rho
			if math.Abs(rho) >= c.threshold {
				result.HighPairs = append(result.HighPairs, CorrelatedPair{SymbolA: symbols[i], SymbolB: symbols[j], Correlation: rho})
			}
		}
	}
	sort.SliceStable(result.HighPairs, func(a, b int) bool {
		return math.Abs(result.HighPairs[a].Correlation) > math.Abs(result.HighPairs[b].Correlation)
	})
	return result
}

// Pearson 皮尔逊相关系数，结果截断到 [-1,1]，任一序列零方差时为 0
func Pearson(x, y []float64) float64 {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	if n < 2 {
		return 0
	}
	x, y = x[len(x)-n:], y[len(y)-n:]
	mx, my := indicators.Mean(x), indicators.Mean(y)

	var cov, vx, vy float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	rho := cov / math.Sqrt(vx*vy)
	return math.Max(-1, math.Min(1, rho))
}
