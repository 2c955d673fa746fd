// Package walkforward 前推验证：滚动划分训练/测试窗口并检测过拟合
package walkforward

import (
	"errors"
	"fmt"
)

// ErrInsufficientData 数据不足以划分一个训练+测试窗口
var ErrInsufficientData = errors.New("insufficient data for walk-forward split")

// Split 一个训练/测试窗口，区间均为 [start, end)
type Split struct {
	Index      int `json:"index"`
	TrainStart int `json:"train_start"`
	TrainEnd   int `json:"train_end"`
	TestStart  int `json:"test_start"`
	TestEnd    int `json:"test_end"`
}

// GenerateSplits 生成滚动窗口，每次前移 test 个观测
func GenerateSplits(n, train, test int) ([]Split, error) {
	if train <= 0 || test <= 0 {
		return nil, fmt.Errorf("%w: train=%d test=%d must be > 0", ErrInsufficientData, train, test)
	}
	if n < train+test {
		return nil, fmt.Errorf("%w: %d observations < train %d + test %d", ErrInsufficientData, n, train, test)
	}

	splits := make([]Split, 0, (n-train)/test)
	for start := 0; start+train+test <= n; start += test {
		splits = append(splits, Split{
			Index:      len(splits),
			TrainStart: start,
			TrainEnd:   start + train,
			TestStart:  start + train,
			TestEnd:    start + train + test,
		})
	}
	return splits, nil
}
