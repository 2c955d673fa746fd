// Package monitor 系统资源探测
package monitor

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMetrics 系统监控指标
type SystemMetrics struct {
	Timestamp           time.Time `json:"timestamp"`
	CPUPercent          float64   `json:"cpu_percent"`
	MemoryMB            float64   `json:"memory_mb"`
	ProcessMemoryPct    float64   `json:"process_memory_percent"` // 本进程 RSS 占系统内存百分比
	SystemMemoryPercent float64   `json:"system_memory_percent"`  // 系统内存整体占用百分比
	Goroutines          int       `json:"goroutines"`
	ProcessID           int       `json:"process_id"`
}

// MemoryProbe 内存占用探针，返回系统内存占用百分比（0-100）
type MemoryProbe func() (float64, error)

// MemoryUsagePercent 系统内存占用百分比
func MemoryUsagePercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("获取系统内存失败: %w", err)
	}
	return vm.UsedPercent, nil
}

// CollectSystemMetrics 采集系统资源指标
func CollectSystemMetrics() (*SystemMetrics, error) {
	pid := os.Getpid()
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("获取进程失败: %w", err)
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		// 进程级获取失败时退回系统 CPU 使用率
		cpuPercent, err = getSystemCPUPercent()
		if err != nil {
			return nil, fmt.Errorf("获取CPU占用率失败: %w", err)
		}
	}

	// RSS - 实际物理内存
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("获取内存信息失败: %w", err)
	}

	metrics := &SystemMetrics{
		Timestamp:  time.Now(),
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
		ProcessID:  pid,
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		metrics.ProcessMemoryPct = float64(memInfo.RSS) / float64(vm.Total) * 100
		metrics.SystemMemoryPercent = vm.UsedPercent
	}
	return metrics, nil
}

func getSystemCPUPercent() (float64, error) {
	percentages, err := cpu.Percent(time.Second, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, fmt.Errorf("无法获取CPU使用率")
	}
	return percentages[0], nil
}
