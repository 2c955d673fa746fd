// Package market 行情数据结构
// 由外部行情服务提供按时间排序的K线，本包只负责结构与校验
package market

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnorderedSeries 时间序列未按时间严格递增
var ErrUnorderedSeries = errors.New("price series is not strictly time-ordered")

// ErrInvalidBar K线价格非法
var ErrInvalidBar = errors.New("invalid price bar")

// Bar K线数据
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// BarSeries 只读K线序列
// 既可以是内存切片，也可以是共享内存块上的零拷贝视图
type BarSeries interface {
	Len() int
	At(i int) Bar
}

// Bars K线切片
type Bars []Bar

// Len 序列长度
func (b Bars) Len() int { return len(b) }

// At 第 i 根K线
func (b Bars) At(i int) Bar { return b[i] }

// window 序列前缀视图 [start, end)
type window struct {
	src        BarSeries
	start, end int
}

func (w window) Len() int { return w.end - w.start }

func (w window) At(i int) Bar { return w.src.At(w.start + i) }

// Slice 返回 [start, end) 区间的视图，不复制数据
func Slice(s BarSeries, start, end int) BarSeries {
	if start < 0 {
		start = 0
	}
	if end > s.Len() {
		end = s.Len()
	}
	if start > end {
		start = end
	}
	if b, ok := s.(Bars); ok {
		return b[start:end]
	}
	if w, ok := s.(window); ok {
		return window{src: w.src, start: w.start + start, end: w.start + end}
	}
	return window{src: s, start: start, end: end}
}

// Closes 返回最近 lookback 根K线的收盘价（lookback<=0 返回全部）
func Closes(s BarSeries, lookback int) []float64 {
	n := s.Len()
	start := 0
	if lookback > 0 && lookback < n {
		start = n - lookback
	}
	closes := make([]float64, 0, n-start)
	for i := start; i < n; i++ {
		closes = append(closes, s.At(i).Close)
	}
	return closes
}

// Last 最后一根K线
func Last(s BarSeries) (Bar, bool) {
	if s.Len() == 0 {
		return Bar{}, false
	}
	return s.At(s.Len() - 1), true
}

// Validate 校验单根K线
func (b Bar) Validate() error {
	if b.Close <= 0 || b.Open < 0 || b.High < 0 || b.Low < 0 {
		return fmt.Errorf("%w: %s close=%.6f open=%.6f high=%.6f low=%.6f",
			ErrInvalidBar, b.Timestamp.Format(time.RFC3339), b.Close, b.Open, b.High, b.Low)
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: %s volume=%.6f", ErrInvalidBar, b.Timestamp.Format(time.RFC3339), b.Volume)
	}
	return nil
}

// ValidateSeries 校验序列：价格为正、时间严格递增
func ValidateSeries(s BarSeries) error {
	for i := 0; i < s.Len(); i++ {
		bar := s.At(i)
		if err := bar.Validate(); err != nil {
			return fmt.Errorf("bar #%d: %w", i, err)
		}
		if i > 0 {
			prev := s.At(i - 1)
			if !bar.Timestamp.After(prev.Timestamp) {
				return fmt.Errorf("%w: bar #%d at %s not after %s", ErrUnorderedSeries, i,
					bar.Timestamp.Format(time.RFC3339), prev.Timestamp.Format(time.RFC3339))
			}
		}
	}
	return nil
}
