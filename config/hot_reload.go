package config

import (
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"quantrisk/logger"
)

// HotReloader 配置热更新器
// 需要重启的变更不会进入当前配置，只在差异中提示
type HotReloader struct {
	mu              sync.RWMutex
	currentConfig   *Config
	updateCallbacks []ConfigUpdateCallback
}

// ConfigUpdateCallback 配置更新回调函数类型
type ConfigUpdateCallback func(oldConfig, newConfig *Config, changes []ConfigChange) error

// NewHotReloader 创建热更新器
func NewHotReloader(initialConfig *Config) *HotReloader {
	return &HotReloader{
		currentConfig:   initialConfig,
		updateCallbacks: []ConfigUpdateCallback{},
	}
}

// RegisterCallback 注册配置更新回调
func (hr *HotReloader) RegisterCallback(callback ConfigUpdateCallback) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.updateCallbacks = append(hr.updateCallbacks, callback)
}

// UpdateConfig 更新配置（热更新）
func (hr *HotReloader) UpdateConfig(newConfig *Config) (*ConfigDiff, error) {
	if err := newConfig.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	hr.mu.Lock()
	defer hr.mu.Unlock()

	diff := DiffConfig(hr.currentConfig, newConfig)
	if len(diff.Changes) == 0 {
		return diff, nil
	}

	hotReloadable := make([]ConfigChange, 0, len(diff.Changes))
	for _, change := range diff.Changes {
		if change.RequiresRestart {
			logger.Warn("⚠️ 配置项 %s 变更需要重启后生效", change.Path)
			continue
		}
		hotReloadable = append(hotReloadable, change)
	}

	next := newConfig
	if diff.RequiresRestart {
		partial, err := applyHotReloadableChanges(hr.currentConfig, newConfig, hotReloadable)
		if err != nil {
			return nil, err
		}
		next = partial
	}
	if len(hotReloadable) == 0 {
		return diff, nil
	}

	for _, callback := range hr.updateCallbacks {
		if err := callback(hr.currentConfig, next, hotReloadable); err != nil {
			return nil, fmt.Errorf("配置更新回调执行失败: %w", err)
		}
	}

	hr.currentConfig = next
	logger.Info("🔄 配置已热更新: %s", diff.Summary())
	return diff, nil
}

// applyHotReloadableChanges 在旧配置的副本上应用可热更新的变更
func applyHotReloadableChanges(oldConfig, newConfig *Config, changes []ConfigChange) (*Config, error) {
	result, err := cloneConfig(oldConfig)
	if err != nil {
		return nil, err
	}
	for _, change := range changes {
		copyConfigField(result, newConfig, change.Path)
	}
	return result, nil
}

// copyConfigField 按配置段复制
func copyConfigField(dest, src *Config, path string) {
	section := strings.SplitN(path, ".", 2)[0]
	switch section {
	case "backtest":
		dest.Backtest = src.Backtest
	case "margin":
		dest.Margin = src.Margin
	case "greeks":
		dest.Greeks = src.Greeks
	case "risk":
		cacheTTL, interval := dest.Risk.CacheTTL, dest.Risk.RefreshInterval
		dest.Risk = src.Risk
		dest.Risk.CacheTTL, dest.Risk.RefreshInterval = cacheTTL, interval
	case "events":
		dest.Events.MarginUsagePct = src.Events.MarginUsagePct
		dest.Events.VaRLimitPct = src.Events.VaRLimitPct
	case "walk_forward":
		dest.WalkForward = src.WalkForward
	case "parallel":
		dest.Parallel.MemoryWarningPct = src.Parallel.MemoryWarningPct
	case "system":
		if path == "system.log_level" {
			dest.System.LogLevel = src.System.LogLevel
		}
	}
}

// GetCurrentConfig 获取当前配置
func (hr *HotReloader) GetCurrentConfig() *Config {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return hr.currentConfig
}

// cloneConfig 通过 YAML 序列化深度复制配置
func cloneConfig(cfg *Config) (*Config, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("复制配置失败: %w", err)
	}
	var clone Config
	if err := yaml.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("复制配置失败: %w", err)
	}
	return &clone, nil
}
