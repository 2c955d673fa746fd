package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMAAndEMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, []float64{2, 3, 4}, SMA(values, 3))
	assert.Nil(t, SMA(values, 6))

	ema := EMA(values, 3)
	require.Len(t, ema, 3)
	assert.InDelta(t, 2.0, ema[0], 1e-12)
	// 乘数 0.5: 4*0.5+2*0.5=3, 5*0.5+3*0.5=4
	assert.InDelta(t, 4.0, ema[2], 1e-12)
}

func TestPercentileInterpolates(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}
	assert.Equal(t, 1.0, Percentile(values, 0))
	assert.Equal(t, 5.0, Percentile(values, 100))
	assert.Equal(t, 3.0, Percentile(values, 50))
	assert.InDelta(t, 1.2, Percentile(values, 5), 1e-12)
	assert.Equal(t, 0.0, Percentile(nil, 5))
}

func TestRSIBounds(t *testing.T) {
	up := make([]float64, 30)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	v, ok := LastRSI(up, 14)
	require.True(t, ok)
	assert.Equal(t, 100.0, v)

	_, ok = LastRSI(up[:10], 14)
	assert.False(t, ok)
}

func TestBollingerBands(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 12}
	b := BollingerBands(closes, 5, 2)
	require.NotNil(t, b)
	upper, middle, lower := b.Last()
	assert.InDelta(t, 10.4, middle, 1e-12)
	assert.InDelta(t, middle+2*0.8, upper, 1e-12)
	assert.InDelta(t, middle-2*0.8, lower, 1e-12)
}

func TestHistoricalVolatility(t *testing.T) {
	flat := []float64{10, 10, 10, 10, 10}
	_, ok := HistoricalVolatility(flat, 3)
	assert.False(t, ok, "零波动视为不可用")

	closes := []float64{100, 101, 99, 102, 100, 103}
	vol, ok := HistoricalVolatility(closes, 5)
	require.True(t, ok)
	expected := SampleStdDev(LogReturns(closes)) * math.Sqrt(252)
	assert.InDelta(t, expected, vol, 1e-12)
}
