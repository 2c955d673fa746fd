package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorMemoryPressureTransitions(t *testing.T) {
	usage := 60.0
	smc := NewSystemMetricsCollector(time.Second, 75)
	smc.probe = func() (float64, error) { return usage, nil }

	smc.collect()
	high, last := smc.UnderPressure()
	assert.False(t, high)
	assert.Equal(t, 60.0, last)
	assert.Equal(t, 60.0, testutil.ToFloat64(systemMemoryPercent))
	assert.Equal(t, 0.0, testutil.ToFloat64(memoryPressure))

	usage = 88
	smc.collect()
	high, _ = smc.UnderPressure()
	assert.True(t, high)
	assert.Equal(t, 1.0, testutil.ToFloat64(memoryPressure))

	usage = 70
	smc.collect()
	high, _ = smc.UnderPressure()
	assert.False(t, high)
	assert.Equal(t, 0.0, testutil.ToFloat64(memoryPressure))
	t.Log("✅ 内存压力状态切换正确")
}

func TestCollectorProbeErrorKeepsState(t *testing.T) {
	smc := NewSystemMetricsCollector(time.Second, 50)
	smc.probe = func() (float64, error) { return 90, nil }
	smc.collect()

	smc.probe = func() (float64, error) { return 0, errors.New("no procfs") }
	smc.collect()
	high, last := smc.UnderPressure()
	assert.True(t, high)
	assert.Equal(t, 90.0, last)
}

func TestCollectorStartStop(t *testing.T) {
	smc := NewSystemMetricsCollector(10*time.Millisecond, 0)
	smc.probe = func() (float64, error) { return 99, nil }
	smc.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	smc.Stop()
	smc.Stop()

	// 阈值为 0 时不判定压力
	high, last := smc.UnderPressure()
	assert.False(t, high)
	assert.Equal(t, 99.0, last)
}
