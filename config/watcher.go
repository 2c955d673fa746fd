package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"quantrisk/logger"
)

// 写入完成前的等待时间
const settleDelay = 100 * time.Millisecond

// ConfigWatcher 配置文件监控器
// fsnotify 事件为主，修改时间轮询兜底
type ConfigWatcher struct {
	configPath   string
	watcher      *fsnotify.Watcher
	hotReloader  *HotReloader
	pollInterval time.Duration
	mu           sync.Mutex
	isWatching   bool
	lastModTime  time.Time
	updateChan   chan *ConfigDiff
	errorChan    chan error
}

// NewConfigWatcher 创建配置监控器
func NewConfigWatcher(configPath string, hotReloader *HotReloader) (*ConfigWatcher, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	var lastModTime time.Time
	if info, err := os.Stat(absPath); err == nil {
		lastModTime = info.ModTime()
	}

	return &ConfigWatcher{
		configPath:   absPath,
		watcher:      watcher,
		hotReloader:  hotReloader,
		pollInterval: time.Second,
		lastModTime:  lastModTime,
		updateChan:   make(chan *ConfigDiff, 4),
		errorChan:    make(chan error, 10),
	}, nil
}

// Start 开始监控配置文件
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.isWatching {
		return fmt.Errorf("配置监控器已经在运行")
	}

	// 监控目录以覆盖编辑器的改名替换写法
	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}

	cw.isWatching = true
	go cw.watchLoop(ctx)
	logger.Info("👀 开始监控配置文件: %s", cw.configPath)
	return nil
}

// Stop 停止监控
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.isWatching {
		return nil
	}
	cw.isWatching = false
	return cw.watcher.Close()
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(cw.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = cw.Stop()
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.configPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				time.Sleep(settleDelay)
				cw.handleConfigChange()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.reportError(err)

		case <-ticker.C:
			cw.handleConfigChange()
		}
	}
}

// handleConfigChange 文件修改时间前进时重新加载
func (cw *ConfigWatcher) handleConfigChange() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	info, err := os.Stat(cw.configPath)
	if err != nil {
		cw.reportError(fmt.Errorf("获取文件信息失败: %w", err))
		return
	}
	if !info.ModTime().After(cw.lastModTime) {
		return
	}
	cw.lastModTime = info.ModTime()

	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.reportError(fmt.Errorf("重新加载配置失败: %w", err))
		return
	}

	diff, err := cw.hotReloader.UpdateConfig(newConfig)
	if err != nil {
		cw.reportError(fmt.Errorf("配置热更新失败: %w", err))
		return
	}
	if len(diff.Changes) == 0 {
		return
	}

	select {
	case cw.updateChan <- diff:
	default:
		logger.Warn("⚠️ 配置变更通知队列已满，丢弃: %s", diff.Summary())
	}
}

func (cw *ConfigWatcher) reportError(err error) {
	logger.Error("❌ %v", err)
	select {
	case cw.errorChan <- err:
	default:
	}
}

// GetUpdateChan 已应用的配置变更
func (cw *ConfigWatcher) GetUpdateChan() <-chan *ConfigDiff {
	return cw.updateChan
}

// GetErrorChan 获取错误通道
func (cw *ConfigWatcher) GetErrorChan() <-chan error {
	return cw.errorChan
}
