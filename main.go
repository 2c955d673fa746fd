package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quantrisk/cache"
	"quantrisk/config"
	"quantrisk/database"
	"quantrisk/event"
	"quantrisk/logger"
	"quantrisk/metrics"
	"quantrisk/notify"
	"quantrisk/parallel"
	"quantrisk/risk"
	"quantrisk/storage"
	"quantrisk/web"
)

// Version 版本号
var Version = "0.1.0"

// 风险快照保留天数
const snapshotRetentionDays = 30

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	portfolioPath := flag.String("portfolio", "", "初始组合状态 JSON 文件（可选）")
	debugMode := flag.Bool("debug", false, "启用 DEBUG 日志与全量请求日志")
	showVersion := flag.Bool("version", false, "显示版本号")
	flag.Parse()

	if *showVersion {
		fmt.Printf("QuantRisk\nVersion: %s\n", Version)
		os.Exit(0)
	}

	cfg, err := loadOrCreateConfig(*configPath)
	if err != nil {
		logger.Fatal("❌ 加载配置失败: %v", err)
	}
	if *debugMode {
		cfg.System.LogLevel = "DEBUG"
	}

	logger.SetLogDir(cfg.System.LogDir)
	logLevel := logger.ParseLogLevel(cfg.System.LogLevel)
	logger.SetLevel(logLevel)
	defer logger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 日志落库（可选）
	var logQuerier web.LogQuerier
	if cfg.System.LogDB != "" {
		logStorage, err := storage.NewLogStorage(cfg.System.LogDB, logger.ParseLogLevel(cfg.System.LogDBLevel))
		if err != nil {
			logger.Warn("⚠️ 初始化日志存储失败: %v，将继续运行但不保存日志到数据库", err)
		} else {
			defer logStorage.Close()
			logger.InitLogStorage(logStorage.WriteLog)
			logQuerier = logStorage
			logger.Info("✅ 日志存储已初始化: %s (级别 ≥ %s)", cfg.System.LogDB, cfg.System.LogDBLevel)
			retention := cfg.System.LogRetention
			go runDaily(ctx, "日志", func() (int64, error) { return logStorage.CleanOldLogs(retention) })
		}
	}

	logger.Info("🚀 QuantRisk 风险引擎启动...")
	logger.Info("📦 版本号: %s, 日志级别: %s", Version, logLevel.String())

	// 系统指标采集
	collector := metrics.NewSystemMetricsCollector(time.Duration(cfg.System.MetricsInterval)*time.Second, cfg.Parallel.MemoryWarningPct)
	collector.Start(ctx)
	defer collector.Stop()

	// 持久化（可选）
	var recorder *database.Recorder
	var eventStore event.Store
	if cfg.Database.Enabled {
		db, err := database.NewDatabase(cfg.DatabaseConfig())
		if err != nil {
			logger.Fatal("❌ 初始化数据库失败: %v", err)
		}
		defer db.Close()
		recorder = database.NewRecorder(db)
		eventStore = db
		logger.Info("✅ 数据库已连接 (%s)", cfg.Database.Type)
		go runDaily(ctx, "风险快照", func() (int64, error) {
			return db.CleanupRiskSnapshots(ctx, snapshotRetentionDays)
		})
	}

	// 快照镜像（可选）
	mirror, err := cache.NewMirror(cfg.MirrorConfig())
	if err != nil {
		logger.Fatal("❌ 初始化快照镜像失败: %v", err)
	}
	defer mirror.Close()

	// 风险服务
	inputs, err := loadInputs(*portfolioPath)
	if err != nil {
		logger.Fatal("❌ 加载组合状态失败: %v", err)
	}
	store := risk.NewInputStore(inputs)
	engine, err := risk.NewEngine(cfg.RiskConfig())
	if err != nil {
		logger.Fatal("❌ 初始化风险引擎失败: %v", err)
	}
	riskService := risk.NewService(engine, store.Provider(), mirror)
	if recorder != nil {
		riskService.OnRefresh(recorder.RecordSnapshot)
	}

	// 风险事件与通知
	notifier := notify.NewNotificationService(cfg)
	eventCenter := event.NewEventCenter(eventStore, event.NewEventBus(cfg.Events.BufferSize), notifier, cfg.EventCenterConfig())
	if err := eventCenter.Start(); err != nil {
		logger.Fatal("❌ 启动事件中心失败: %v", err)
	}
	riskMonitor := event.NewRiskMonitor(eventCenter, cfg.MonitorConfig())
	riskService.OnRefresh(riskMonitor.Observe)

	// 配置热更新
	hotReloader := config.NewHotReloader(cfg)
	hotReloader.RegisterCallback(func(oldConfig, newConfig *config.Config, changes []config.ConfigChange) error {
		if oldConfig.System.LogLevel != newConfig.System.LogLevel {
			logger.SetLevel(logger.ParseLogLevel(newConfig.System.LogLevel))
		}
		if err := riskService.Reconfigure(newConfig.RiskConfig()); err != nil {
			return err
		}
		riskMonitor.SetConfig(newConfig.MonitorConfig())
		paths := make([]string, 0, len(changes))
		for _, change := range changes {
			paths = append(paths, change.Path)
		}
		eventCenter.PublishEvent(event.EventTypeConfigReloaded, map[string]interface{}{
			"changes": paths,
			"message": fmt.Sprintf("%d 项配置已热更新", len(paths)),
		})
		return nil
	})
	if watcher, err := config.NewConfigWatcher(*configPath, hotReloader); err != nil {
		logger.Warn("⚠️ 配置监控不可用: %v", err)
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("⚠️ 启动配置监控失败: %v", err)
	} else {
		go logConfigUpdates(ctx, watcher)
	}

	webServer := web.NewWebServer(cfg, web.Deps{
		Settings: hotReloader.GetCurrentConfig,
		Risk:     riskService,
		Inputs:   store,
		Scaler:   parallel.NewScaler(cfg.Parallel.MemoryWarningPct),
		Recorder: recorder,
		Events:   eventCenter,
		Logs:     logQuerier,
	})

	riskService.Start(ctx)
	if webServer == nil {
		logger.Info("ℹ️ Web 服务未启用，仅运行风险快照服务")
	} else if err := webServer.Start(ctx); err != nil {
		logger.Fatal("❌ 启动 Web 服务失败: %v", err)
	}

	eventCenter.PublishEvent(event.EventTypeSystemStart, map[string]interface{}{
		"message": fmt.Sprintf("QuantRisk %s 已启动", Version),
	})
	logger.Info("✅ 系统初始化完成，程序正在运行中...")
	logger.Info("💡 按 Ctrl+C 退出程序")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("🛑 收到退出信号，开始优雅关闭...")
	eventCenter.PublishEvent(event.EventTypeSystemStop, map[string]interface{}{"message": "收到退出信号"})
	cancel()
	webServer.Stop()
	time.Sleep(200 * time.Millisecond)
	eventCenter.Stop()
	notifier.Wait()
	logger.Info("✅ 程序已退出")
}

// loadOrCreateConfig 配置文件不存在时写入默认配置
func loadOrCreateConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.Default()
		cfg.Web.Enabled = true
		cfg.Events.Enabled = true
		if err := config.SaveConfig(cfg, path); err != nil {
			logger.Warn("⚠️ 保存默认配置失败: %v，将继续运行", err)
		} else {
			logger.Info("ℹ️ 配置文件不存在，已创建默认配置: %s", path)
		}
		return cfg, nil
	}
	return config.LoadConfig(path)
}

// loadInputs 读取初始组合状态
func loadInputs(path string) (risk.Inputs, error) {
	var in risk.Inputs
	if path == "" {
		return in, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return in, fmt.Errorf("读取组合文件失败: %w", err)
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("解析组合文件失败: %w", err)
	}
	logger.Info("📂 已加载组合状态: 现金 %.2f, 持仓 %d 个", in.Cash, len(in.Positions))
	return in, nil
}

func logConfigUpdates(ctx context.Context, watcher *config.ConfigWatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case diff := <-watcher.GetUpdateChan():
			if diff.RequiresRestart {
				logger.Warn("⚠️ 部分配置变更需要重启后生效: %s", diff.Summary())
			}
		case err := <-watcher.GetErrorChan():
			logger.Warn("⚠️ 配置监控错误: %v", err)
		}
	}
}

// runDaily 每天执行一次过期数据清理
func runDaily(ctx context.Context, name string, cleanup func() (int64, error)) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := cleanup()
			if err != nil {
				logger.Warn("⚠️ 清理过期%s失败: %v", name, err)
				continue
			}
			logger.Info("🧹 已清理 %d 条过期%s", n, name)
		}
	}
}
