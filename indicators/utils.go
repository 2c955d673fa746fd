// Package indicators 技术指标与统计工具
// 所有函数都是输入切片上的纯函数，数据不足时返回 nil 或 0
package indicators

import (
	"math"
	"sort"
)

// ========== 基础计算工具 ==========

// SMA 简单移动平均
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values)-period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	result[0] = sum / float64(period)

	// 滑动窗口
	for i := period; i < len(values); i++ {
		sum = sum - values[i-period] + values[i]
		result[i-period+1] = sum / float64(period)
	}

	return result
}

// EMA 指数移动平均，首值取 SMA
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values))
	multiplier := 2.0 / (float64(period) + 1.0)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	result[period-1] = sum / float64(period)

	for i := period; i < len(values); i++ {
		result[i] = (values[i] * multiplier) + (result[i-1] * (1 - multiplier))
	}

	return result[period-1:]
}

// StdDev 滚动总体标准差
func StdDev(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values)-period+1)
	for i := period - 1; i < len(values); i++ {
		result[i-period+1] = PopulationStdDev(values[i-period+1 : i+1])
	}
	return result
}

// PopulationStdDev 总体标准差（除以 n）
func PopulationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(values)))
}

// SampleStdDev 样本标准差（除以 n-1）
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

// Mean 平均值
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Sum(values) / float64(len(values))
}

// Sum 求和
func Sum(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}

// Max 最大值
func Max(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// Min 最小值
func Min(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

// Median 中位数
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// Percentile 百分位数（线性插值），p 取 0~100
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 || p < 0 || p > 100 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	rank := (p / 100) * float64(n-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))

	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// CrossOver 判断是否金叉（line1 上穿 line2）
func CrossOver(line1, line2 []float64) bool {
	if len(line1) < 2 || len(line2) < 2 {
		return false
	}
	a, b := len(line1), len(line2)
	return line1[a-2] <= line2[b-2] && line1[a-1] > line2[b-1]
}

// CrossUnder 判断是否死叉（line1 下穿 line2）
func CrossUnder(line1, line2 []float64) bool {
	if len(line1) < 2 || len(line2) < 2 {
		return false
	}
	a, b := len(line1), len(line2)
	return line1[a-2] >= line2[b-2] && line1[a-1] < line2[b-1]
}

// Diff 差分
func Diff(values []float64, period int) []float64 {
	if period <= 0 || len(values) <= period {
		return nil
	}

	result := make([]float64, len(values)-period)
	for i := period; i < len(values); i++ {
		result[i-period] = values[i] - values[i-period]
	}
	return result
}

// Returns 简单收益率序列，前值为 0 的位置记 0
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	result := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			result[i-1] = (values[i] - values[i-1]) / values[i-1]
		}
	}
	return result
}

// LogReturns 对数收益率序列，非正价格的位置记 0
func LogReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	result := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 && values[i] > 0 {
			result[i-1] = math.Log(values[i] / values[i-1])
		}
	}
	return result
}
