// Package config YAML 配置加载、校验、差异比较与热更新
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"quantrisk/backtest"
	"quantrisk/cache"
	"quantrisk/database"
	"quantrisk/event"
	"quantrisk/greeks"
	"quantrisk/logger"
	"quantrisk/margin"
	"quantrisk/portfolio"
	"quantrisk/risk"
	"quantrisk/walkforward"
)

// Config 系统配置
type Config struct {
	System struct {
		LogLevel        string `yaml:"log_level"`        // 日志级别: DEBUG, INFO, WARN, ERROR，默认 INFO
		LogDir          string `yaml:"log_dir"`          // 日志文件目录，默认 logs
		MetricsInterval int    `yaml:"metrics_interval"` // 系统指标采集间隔（秒），默认15
		LogDB           string `yaml:"log_db"`           // 日志数据库路径，为空时不落库
		LogDBLevel      string `yaml:"log_db_level"`     // 落库最低级别，默认 WARN
		LogRetention    int    `yaml:"log_retention"`    // 日志保留天数，默认7
	} `yaml:"system"`

	// 回测配置
	Backtest struct {
		InitialCapital        float64                `yaml:"initial_capital"`          // 初始资金，默认100000
		CommissionRate        float64                `yaml:"commission_rate"`          // 手续费率，默认0.001
		SlippageRate          float64                `yaml:"slippage_rate"`            // 滑点率，默认0.0005
		DefaultPositionPct    float64                `yaml:"default_position_pct"`     // 信号未指定仓位时使用，默认95
		MaxSinglePositionPct  float64                `yaml:"max_single_position_pct"`  // 单笔最大仓位，默认95
		MaxTotalAllocationPct float64                `yaml:"max_total_allocation_pct"` // 总仓位上限，默认100
		KeepOpenOnFinish      bool                   `yaml:"keep_open_on_finish"`      // 回测结束时保留持仓，默认false（平仓）
		Strategy              string                 `yaml:"strategy"`                 // 默认策略，默认 ma_crossover
		StrategyParams        map[string]interface{} `yaml:"strategy_params"`          // 策略参数
	} `yaml:"backtest"`

	// 保证金配置
	Margin struct {
		MarginRate     float64 `yaml:"margin_rate"`      // 默认保证金率，默认0.15
		ForceCloseRate float64 `yaml:"force_close_rate"` // 强平保证金率，默认0.10
		HedgeReduction float64 `yaml:"hedge_reduction"`  // 对冲减免比例，默认0.30
	} `yaml:"margin"`

	// 期权 Greeks 配置
	Greeks struct {
		RiskFreeRate         float64 `yaml:"risk_free_rate"`        // 无风险利率，默认0.03
		DefaultVolatility    float64 `yaml:"default_volatility"`    // 兜底波动率，默认0.25
		HistoricalWindow     int     `yaml:"historical_window"`     // 历史波动率窗口，默认30
		UnderlyingMultiplier float64 `yaml:"underlying_multiplier"` // 对冲标的乘数，默认1
	} `yaml:"greeks"`

	// 风险引擎配置
	Risk struct {
		VaRHorizon           int     `yaml:"var_horizon"`           // VaR 持有期（天），默认1
		CorrelationWindow    int     `yaml:"correlation_window"`    // 相关性窗口，默认60
		CorrelationThreshold float64 `yaml:"correlation_threshold"` // 高相关阈值，默认0.7
		CorrelationTTL       int     `yaml:"correlation_ttl"`       // 相关性缓存（秒），默认60
		CriticalPct          float64 `yaml:"critical_pct"`          // 强平距离危险阈值（%），默认3
		WarningPct           float64 `yaml:"warning_pct"`           // 强平距离预警阈值（%），默认5
		CacheTTL             int     `yaml:"cache_ttl"`             // 快照缓存（秒），默认5
		RefreshInterval      int     `yaml:"refresh_interval"`      // 后台刷新间隔（秒），默认5
		RefreshPerSec        float64 `yaml:"refresh_per_sec"`       // 强制刷新限速（次/秒），默认1
		RefreshBurst         int     `yaml:"refresh_burst"`         // 强制刷新突发数，默认1
	} `yaml:"risk"`

	// 并行回测配置
	Parallel struct {
		Workers          int     `yaml:"workers"`            // 工作协程数，默认 CPU 核数
		MemoryWarningPct float64 `yaml:"memory_warning_pct"` // 内存占用预警阈值（%），默认75
	} `yaml:"parallel"`

	// 前推验证配置
	WalkForward struct {
		TrainSize int     `yaml:"train_size"` // 训练窗口（观测数），默认730
		TestSize  int     `yaml:"test_size"`  // 测试窗口（观测数），默认365
		Threshold float64 `yaml:"threshold"`  // 过拟合阈值，默认0.5
	} `yaml:"walk_forward"`

	// 数据库配置（支持 SQLite、PostgreSQL、MySQL）
	Database struct {
		Enabled         bool   `yaml:"enabled"`           // 是否持久化回测与风险记录，默认false
		Type            string `yaml:"type"`              // 数据库类型: sqlite, postgres, mysql，默认 sqlite
		DSN             string `yaml:"dsn"`               // 数据源名称，默认 ./data/quantrisk.db
		MaxOpenConns    int    `yaml:"max_open_conns"`    // 最大打开连接数，默认100
		MaxIdleConns    int    `yaml:"max_idle_conns"`    // 最大空闲连接数，默认10
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 连接最大生命周期（秒），默认3600
		LogLevel        string `yaml:"log_level"`         // 日志级别: silent, error, warn, info，默认 error
	} `yaml:"database"`

	// Redis 快照镜像（多进程共享最新风险快照）
	Redis struct {
		Enabled  bool   `yaml:"enabled"`   // 默认false
		Addr     string `yaml:"addr"`      // 默认 localhost:6379
		Password string `yaml:"password"`  // 默认为空
		DB       int    `yaml:"db"`        // 默认0
		PoolSize int    `yaml:"pool_size"` // 默认10
		Prefix   string `yaml:"prefix"`    // 默认 "quantrisk:"
	} `yaml:"redis"`

	// 风险事件配置
	Events struct {
		Enabled         bool    `yaml:"enabled"`          // 是否启用事件中心，默认false
		BufferSize      int     `yaml:"buffer_size"`      // 事件队列长度，默认1000
		MarginUsagePct  float64 `yaml:"margin_usage_pct"` // 保证金占用告警阈值（%），默认80，负数关闭
		VaRLimitPct     float64 `yaml:"var_limit_pct"`    // VaR95 损失占权益告警阈值（%），默认5，负数关闭
		CleanupInterval int     `yaml:"cleanup_interval"` // 事件清理间隔（小时），默认24
		Retention       struct {
			CriticalDays     int `yaml:"critical_days"`      // 默认365
			WarningDays      int `yaml:"warning_days"`       // 默认90
			InfoDays         int `yaml:"info_days"`          // 默认30
			CriticalMaxCount int `yaml:"critical_max_count"` // 默认100000
			WarningMaxCount  int `yaml:"warning_max_count"`  // 默认50000
			InfoMaxCount     int `yaml:"info_max_count"`     // 默认20000
		} `yaml:"retention"`
	} `yaml:"events"`

	// 外部通知配置
	Notifications struct {
		Enabled     bool   `yaml:"enabled"`
		MinSeverity string `yaml:"min_severity"` // 最低通知级别: critical, warning, info，默认 warning

		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
			Timeout int    `yaml:"timeout"` // 秒，默认3
		} `yaml:"webhook"`

		Slack struct {
			Enabled bool   `yaml:"enabled"`
			Webhook string `yaml:"webhook"`
		} `yaml:"slack"`

		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`
	} `yaml:"notifications"`

	// Web 服务配置
	Web struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"` // 监听地址（默认 0.0.0.0）
		Port    int    `yaml:"port"` // 监听端口（默认 8080）
	} `yaml:"web"`
}

// LoadConfig 从文件加载配置
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 从字节数组加载配置
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	return nil
}

// Default 全部取默认值的配置
func Default() *Config {
	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		// 默认值必然合法
		panic(err)
	}
	return cfg
}

// Validate 设置默认值并验证配置
func (c *Config) Validate() error {
	// 系统配置
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.LogDir == "" {
		c.System.LogDir = "logs"
	}
	if c.System.MetricsInterval <= 0 {
		c.System.MetricsInterval = 15
	}
	if c.System.LogDBLevel == "" {
		c.System.LogDBLevel = "WARN"
	}
	c.System.LogDBLevel = logger.ParseLogLevel(c.System.LogDBLevel).String()
	if c.System.LogRetention <= 0 {
		c.System.LogRetention = 7
	}
	switch strings.ToUpper(c.System.LogLevel) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL":
		c.System.LogLevel = logger.ParseLogLevel(c.System.LogLevel).String()
	default:
		return fmt.Errorf("未知日志级别: %s", c.System.LogLevel)
	}

	// 回测配置
	if c.Backtest.InitialCapital == 0 {
		c.Backtest.InitialCapital = 100000
	}
	if c.Backtest.CommissionRate == 0 {
		c.Backtest.CommissionRate = 0.001
	}
	if c.Backtest.SlippageRate == 0 {
		c.Backtest.SlippageRate = 0.0005
	}
	if c.Backtest.DefaultPositionPct == 0 {
		c.Backtest.DefaultPositionPct = 95
	}
	if c.Backtest.MaxSinglePositionPct == 0 {
		c.Backtest.MaxSinglePositionPct = 95
	}
	if c.Backtest.MaxTotalAllocationPct == 0 {
		c.Backtest.MaxTotalAllocationPct = 100
	}
	if c.Backtest.Strategy == "" {
		c.Backtest.Strategy = "ma_crossover"
	}
	if err := c.BacktestConfig().Ledger.Validate(); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	if c.Backtest.DefaultPositionPct < 0 || c.Backtest.DefaultPositionPct > 100 {
		return fmt.Errorf("backtest.default_position_pct 必须在 (0,100] 之间: %.2f", c.Backtest.DefaultPositionPct)
	}
	if c.Backtest.MaxSinglePositionPct < 0 || c.Backtest.MaxSinglePositionPct > 100 ||
		c.Backtest.MaxTotalAllocationPct < 0 || c.Backtest.MaxTotalAllocationPct > 100 {
		return fmt.Errorf("backtest 仓位上限必须在 (0,100] 之间")
	}
	if _, err := backtest.NewStrategyFactory(c.Backtest.Strategy, c.Backtest.StrategyParams); err != nil {
		return fmt.Errorf("backtest.strategy: %w", err)
	}

	// 保证金配置
	if c.Margin.MarginRate == 0 {
		c.Margin.MarginRate = margin.DefaultMarginRate
	}
	if c.Margin.ForceCloseRate == 0 {
		c.Margin.ForceCloseRate = margin.DefaultForceCloseRate
	}
	if c.Margin.HedgeReduction == 0 {
		c.Margin.HedgeReduction = margin.DefaultHedgeReduction
	}

	// Greeks 配置
	if c.Greeks.RiskFreeRate == 0 {
		c.Greeks.RiskFreeRate = 0.03
	}
	if c.Greeks.DefaultVolatility == 0 {
		c.Greeks.DefaultVolatility = 0.25
	}
	if c.Greeks.HistoricalWindow == 0 {
		c.Greeks.HistoricalWindow = 30
	}
	if c.Greeks.UnderlyingMultiplier == 0 {
		c.Greeks.UnderlyingMultiplier = 1
	}

	// 风险配置
	if c.Risk.VaRHorizon == 0 {
		c.Risk.VaRHorizon = 1
	}
	if c.Risk.CorrelationWindow == 0 {
		c.Risk.CorrelationWindow = 60
	}
	if c.Risk.CorrelationThreshold == 0 {
		c.Risk.CorrelationThreshold = 0.7
	}
	if c.Risk.CorrelationTTL == 0 {
		c.Risk.CorrelationTTL = 60
	}
	if c.Risk.CriticalPct == 0 {
		c.Risk.CriticalPct = 3
	}
	if c.Risk.WarningPct == 0 {
		c.Risk.WarningPct = 5
	}
	if c.Risk.CacheTTL == 0 {
		c.Risk.CacheTTL = 5
	}
	if c.Risk.RefreshInterval == 0 {
		c.Risk.RefreshInterval = 5
	}
	if c.Risk.RefreshPerSec == 0 {
		c.Risk.RefreshPerSec = 1
	}
	if c.Risk.RefreshBurst == 0 {
		c.Risk.RefreshBurst = 1
	}
	// 包含 margin 与 greeks 的校验
	if err := c.RiskConfig().Validate(); err != nil {
		return err
	}

	// 并行配置
	if c.Parallel.Workers < 0 {
		return fmt.Errorf("parallel.workers 不能为负数: %d", c.Parallel.Workers)
	}
	if c.Parallel.MemoryWarningPct == 0 {
		c.Parallel.MemoryWarningPct = 75
	}
	if c.Parallel.MemoryWarningPct < 0 || c.Parallel.MemoryWarningPct > 100 {
		return fmt.Errorf("parallel.memory_warning_pct 必须在 (0,100] 之间: %.2f", c.Parallel.MemoryWarningPct)
	}

	// 前推验证配置
	wf := walkforward.DefaultConfig()
	if c.WalkForward.TrainSize == 0 {
		c.WalkForward.TrainSize = wf.TrainSize
	}
	if c.WalkForward.TestSize == 0 {
		c.WalkForward.TestSize = wf.TestSize
	}
	if c.WalkForward.Threshold == 0 {
		c.WalkForward.Threshold = wf.Threshold
	}
	if c.WalkForward.TrainSize < 0 || c.WalkForward.TestSize < 0 || c.WalkForward.Threshold < 0 {
		return fmt.Errorf("walk_forward 参数不能为负数")
	}

	// 数据库配置
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Type == "sqlite" {
		c.Database.DSN = "./data/quantrisk.db"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 3600
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "error"
	}
	switch c.Database.Type {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("不支持的数据库类型: %s", c.Database.Type)
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn 不能为空")
	}

	// Redis 配置
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "quantrisk:"
	}

	// 事件配置
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 1000
	}
	if c.Events.MarginUsagePct == 0 {
		c.Events.MarginUsagePct = 80
	}
	if c.Events.VaRLimitPct == 0 {
		c.Events.VaRLimitPct = 5
	}
	if c.Events.CleanupInterval <= 0 {
		c.Events.CleanupInterval = 24
	}
	ret := &c.Events.Retention
	if ret.CriticalDays <= 0 {
		ret.CriticalDays = 365
	}
	if ret.WarningDays <= 0 {
		ret.WarningDays = 90
	}
	if ret.InfoDays <= 0 {
		ret.InfoDays = 30
	}
	if ret.CriticalMaxCount <= 0 {
		ret.CriticalMaxCount = 100000
	}
	if ret.WarningMaxCount <= 0 {
		ret.WarningMaxCount = 50000
	}
	if ret.InfoMaxCount <= 0 {
		ret.InfoMaxCount = 20000
	}

	// 通知配置
	if c.Notifications.MinSeverity == "" {
		c.Notifications.MinSeverity = "warning"
	}
	c.Notifications.MinSeverity = strings.ToLower(c.Notifications.MinSeverity)
	switch c.Notifications.MinSeverity {
	case "critical", "warning", "info":
	default:
		return fmt.Errorf("notifications.min_severity 无效: %s", c.Notifications.MinSeverity)
	}
	if c.Notifications.Webhook.Timeout <= 0 {
		c.Notifications.Webhook.Timeout = 3
	}

	// Web 配置
	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port 超出范围: %d", c.Web.Port)
	}

	return nil
}

// LedgerConfig 账本配置
func (c *Config) LedgerConfig() portfolio.Config {
	return portfolio.Config{
		InitialCapital: c.Backtest.InitialCapital,
		CommissionRate: c.Backtest.CommissionRate,
		SlippageRate:   c.Backtest.SlippageRate,
		Source:         "backtest",
	}
}

// BacktestConfig 回测配置
func (c *Config) BacktestConfig() backtest.Config {
	cfg := backtest.DefaultConfig()
	cfg.Ledger = c.LedgerConfig()
	cfg.DefaultPositionPct = c.Backtest.DefaultPositionPct
	cfg.Limits = backtest.SignalLimits{
		MaxSinglePositionPct:  c.Backtest.MaxSinglePositionPct,
		MaxTotalAllocationPct: c.Backtest.MaxTotalAllocationPct,
	}
	cfg.CloseOnFinish = !c.Backtest.KeepOpenOnFinish
	return cfg
}

// MarginConfig 保证金配置
func (c *Config) MarginConfig() margin.Config {
	return margin.Config{
		MarginRate:     c.Margin.MarginRate,
		ForceCloseRate: c.Margin.ForceCloseRate,
		HedgeReduction: c.Margin.HedgeReduction,
	}
}

// GreeksConfig Greeks 配置
func (c *Config) GreeksConfig() greeks.Config {
	return greeks.Config{
		RiskFreeRate:         c.Greeks.RiskFreeRate,
		DefaultVolatility:    c.Greeks.DefaultVolatility,
		HistoricalWindow:     c.Greeks.HistoricalWindow,
		UnderlyingMultiplier: c.Greeks.UnderlyingMultiplier,
	}
}

// RiskConfig 风险引擎配置
func (c *Config) RiskConfig() risk.Config {
	return risk.Config{
		VaRHorizon:           c.Risk.VaRHorizon,
		CorrelationWindow:    c.Risk.CorrelationWindow,
		CorrelationThreshold: c.Risk.CorrelationThreshold,
		CorrelationTTL:       time.Duration(c.Risk.CorrelationTTL) * time.Second,
		Liquidation: risk.LiquidationThresholds{
			CriticalPct: c.Risk.CriticalPct,
			WarningPct:  c.Risk.WarningPct,
		},
		Margin:          c.MarginConfig(),
		Greeks:          c.GreeksConfig(),
		CacheTTL:        time.Duration(c.Risk.CacheTTL) * time.Second,
		RefreshInterval: time.Duration(c.Risk.RefreshInterval) * time.Second,
		RefreshPerSec:   c.Risk.RefreshPerSec,
		RefreshBurst:    c.Risk.RefreshBurst,
	}
}

// WalkForwardConfig 前推验证配置
func (c *Config) WalkForwardConfig() walkforward.Config {
	return walkforward.Config{
		TrainSize: c.WalkForward.TrainSize,
		TestSize:  c.WalkForward.TestSize,
		Threshold: c.WalkForward.Threshold,
	}
}

// MirrorConfig Redis 镜像配置
func (c *Config) MirrorConfig() cache.MirrorConfig {
	return cache.MirrorConfig{
		Enabled:  c.Redis.Enabled,
		Type:     "redis",
		Prefix:   c.Redis.Prefix,
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		PoolSize: c.Redis.PoolSize,
	}
}

// EventCenterConfig 事件中心配置
func (c *Config) EventCenterConfig() *event.EventCenterConfig {
	ret := c.Events.Retention
	return &event.EventCenterConfig{
		Enabled:           c.Events.Enabled,
		NotifyMinSeverity: event.ParseSeverity(c.Notifications.MinSeverity),
		CleanupInterval:   c.Events.CleanupInterval,
		Retention: event.RetentionConfig{
			CriticalDays:     ret.CriticalDays,
			WarningDays:      ret.WarningDays,
			InfoDays:         ret.InfoDays,
			CriticalMaxCount: ret.CriticalMaxCount,
			WarningMaxCount:  ret.WarningMaxCount,
			InfoMaxCount:     ret.InfoMaxCount,
		},
	}
}

// MonitorConfig 快照告警阈值，负数视为关闭
func (c *Config) MonitorConfig() event.MonitorConfig {
	cfg := event.MonitorConfig{
		MarginUsagePct: c.Events.MarginUsagePct,
		VaRLimitPct:    c.Events.VaRLimitPct,
	}
	if cfg.MarginUsagePct < 0 {
		cfg.MarginUsagePct = 0
	}
	if cfg.VaRLimitPct < 0 {
		cfg.VaRLimitPct = 0
	}
	return cfg
}

// DatabaseConfig 数据库配置
func (c *Config) DatabaseConfig() *database.DBConfig {
	return &database.DBConfig{
		Type:            c.Database.Type,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(c.Database.ConnMaxLifetime) * time.Second,
		LogLevel:        c.Database.LogLevel,
	}
}
