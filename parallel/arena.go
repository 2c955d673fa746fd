// Package parallel 多标的并行回测：共享只读行情块、按内存压力伸缩的工作池
package parallel

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"quantrisk/logger"
	"quantrisk/market"
)

var (
	// ErrBlocksInUse 仍有视图挂载时释放
	ErrBlocksInUse = errors.New("arena blocks still attached")
	// ErrArenaReleased 已释放的 arena
	ErrArenaReleased = errors.New("arena already released")
	// ErrUnknownSymbol 未发布的标的
	ErrUnknownSymbol = errors.New("symbol not published in arena")
)

// Shape 数据块形状元信息
type Shape struct {
	Symbol  string `json:"symbol"`
	Rows    int    `json:"rows"`
	Columns int    `json:"columns"`
}

// block 单个标的的列式行情块，发布后不再修改
type block struct {
	shape      Shape
	timestamps []time.Time
	open       []float64
	high       []float64
	low        []float64
	close      []float64
	volume     []float64
	views      int
}

// Arena 行情块所有者
//
// 只有所有者能发布和释放数据块；工作协程只能通过 Attach 得到只读视图。
// 释放前必须所有视图都已 Detach。
type Arena struct {
	mu       sync.Mutex
	blocks   map[string]*block
	released bool
}

// NewArena 创建 arena
func NewArena() *Arena {
	return &Arena{blocks: make(map[string]*block)}
}

// Put 以列式布局发布标的行情，同名标的已发布且有视图挂载时失败
func (a *Arena) Put(symbol string, bars market.BarSeries) error {
	if err := market.ValidateSeries(bars); err != nil {
		return fmt.Errorf("%s: %w", symbol, err)
	}
	n := bars.Len()
	b := &block{
		shape:      Shape{Symbol: symbol, Rows: n, Columns: 6},
		timestamps: make([]time.Time, n),
		open:       make([]float64, n),
		high:       make([]float64, n),
		low:        make([]float64, n),
		close:      make([]float64, n),
		volume:     make([]float64, n),
	}
	for i := 0; i < n; i++ {
		bar := bars.At(i)
		b.timestamps[i] = bar.Timestamp
		b.open[i] = bar.Open
		b.high[i] = bar.High
		b.low[i] = bar.Low
		b.close[i] = bar.Close
		b.volume[i] = bar.Volume
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return ErrArenaReleased
	}
	if old, ok := a.blocks[symbol]; ok && old.views > 0 {
		return fmt.Errorf("%s: %w (%d views)", symbol, ErrBlocksInUse, old.views)
	}
	a.blocks[symbol] = b
	return nil
}

// Attach 挂载只读视图
func (a *Arena) Attach(symbol string) (*View, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil, ErrArenaReleased
	}
	b, ok := a.blocks[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	b.views++
	return &View{arena: a, block: b}, nil
}

// Shape 读取块形状
func (a *Arena) Shape(symbol string) (Shape, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blocks[symbol]
	if !ok {
		return Shape{}, false
	}
	return b.shape, true
}

// Symbols 已发布的标的
func (a *Arena) Symbols() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.blocks))
	for sym := range a.blocks {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// AttachedViews 当前挂载的视图数
func (a *Arena) AttachedViews() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, b := range a.blocks {
		total += b.views
	}
	return total
}

// Release 释放全部数据块，仍有视图时返回 ErrBlocksInUse
func (a *Arena) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil
	}
	for sym, b := range a.blocks {
		if b.views > 0 {
			return fmt.Errorf("%s: %w (%d views)", sym, ErrBlocksInUse, b.views)
		}
	}
	a.blocks = nil
	a.released = true
	logger.Debug("🧹 行情 arena 已释放")
	return nil
}

func (a *Arena) detach(b *block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b.views > 0 {
		b.views--
	}
}

// View 行情块只读视图，实现 market.BarSeries，不复制数据
type View struct {
	arena    *Arena
	block    *block
	detached atomic.Bool
}

// Symbol 标的代码
func (v *View) Symbol() string { return v.block.shape.Symbol }

// Shape 块形状
func (v *View) Shape() Shape { return v.block.shape }

// Len 行数
func (v *View) Len() int { return v.block.shape.Rows }

// At 第 i 根K线
func (v *View) At(i int) market.Bar {
	b := v.block
	return market.Bar{
		Timestamp: b.timestamps[i],
		Open:      b.open[i],
		High:      b.high[i],
		Low:       b.low[i],
		Close:     b.close[i],
		Volume:    b.volume[i],
	}
}

// Closes 收盘价列（只读，调用方不得修改）
func (v *View) Closes() []float64 { return v.block.close }

// Detach 卸载视图，可重复调用
func (v *View) Detach() {
	if v.detached.CompareAndSwap(false, true) {
		v.arena.detach(v.block)
	}
}
