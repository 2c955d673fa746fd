package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormDatabase GORM 数据库实现
type GormDatabase struct {
	db *gorm.DB
}

// DBConfig 数据库配置
type DBConfig struct {
	Type            string        // sqlite, postgres, mysql
	DSN             string        // 数据源名称
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	LogLevel        string        // 日志级别: silent, error, warn, info
}

func dialector(config *DBConfig) (gorm.Dialector, error) {
	switch config.Type {
	case "sqlite":
		return sqlite.Open(config.DSN), nil
	case "postgres", "postgresql":
		return postgres.Open(config.DSN), nil
	case "mysql":
		return mysql.Open(config.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}
}

// NewGormDatabase 创建 GORM 数据库实例
func NewGormDatabase(config *DBConfig) (*GormDatabase, error) {
	d, err := dialector(config)
	if err != nil {
		return nil, err
	}

	logLevel := gormlogger.Silent
	switch config.LogLevel {
	case "error":
		logLevel = gormlogger.Error
	case "warn":
		logLevel = gormlogger.Warn
	case "info":
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(d, &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(
		&BacktestRun{},
		&Trade{},
		&RiskSnapshot{},
		&ValidationRun{},
		&EventRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &GormDatabase{db: db}, nil
}

// SaveBacktestRun 保存回测运行及其成交
func (g *GormDatabase) SaveBacktestRun(ctx context.Context, run *BacktestRun, trades []*Trade) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		if len(trades) == 0 {
			return nil
		}
		for _, t := range trades {
			t.RunID = run.RunID
		}
		return tx.CreateInBatches(trades, 100).Error
	})
}

// GetBacktestRun 按运行 ID 查询
func (g *GormDatabase) GetBacktestRun(ctx context.Context, runID string) (*BacktestRun, error) {
	var run BacktestRun
	err := g.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("backtest run %s: %w", runID, ErrRecordNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func applyRunFilter(query *gorm.DB, filter *RunFilter) *gorm.DB {
	if filter == nil {
		return query
	}
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Strategy != "" {
		query = query.Where("strategy = ?", filter.Strategy)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	return query
}

// GetBacktestRuns 查询回测运行，按创建时间倒序
func (g *GormDatabase) GetBacktestRuns(ctx context.Context, filter *RunFilter) ([]*BacktestRun, error) {
	query := g.db.WithContext(ctx).Model(&BacktestRun{}).Order("created_at DESC, id DESC")
	var runs []*BacktestRun
	if err := applyRunFilter(query, filter).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// GetTrades 获取成交记录，按序号升序
func (g *GormDatabase) GetTrades(ctx context.Context, filter *TradeFilter) ([]*Trade, error) {
	query := g.db.WithContext(ctx).Model(&Trade{})

	if filter != nil {
		if filter.RunID != "" {
			query = query.Where("run_id = ?", filter.RunID)
		}
		if filter.Symbol != "" {
			query = query.Where("symbol = ?", filter.Symbol)
		}
		if filter.StartTime != nil {
			query = query.Where("executed_at >= ?", filter.StartTime)
		}
		if filter.EndTime != nil {
			query = query.Where("executed_at <= ?", filter.EndTime)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
	}

	var trades []*Trade
	if err := query.Order("run_id, seq").Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// SaveRiskSnapshot 保存风险快照
func (g *GormDatabase) SaveRiskSnapshot(ctx context.Context, snapshot *RiskSnapshot) error {
	return g.db.WithContext(ctx).Create(snapshot).Error
}

// GetRiskSnapshots 查询风险快照，按时间倒序
func (g *GormDatabase) GetRiskSnapshots(ctx context.Context, filter *SnapshotFilter) ([]*RiskSnapshot, error) {
	query := g.db.WithContext(ctx).Model(&RiskSnapshot{})
	if filter != nil {
		if filter.StartTime != nil {
			query = query.Where("taken_at >= ?", filter.StartTime)
		}
		if filter.EndTime != nil {
			query = query.Where("taken_at <= ?", filter.EndTime)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
	}

	var snapshots []*RiskSnapshot
	if err := query.Order("taken_at DESC").Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}

// CleanupRiskSnapshots 删除 keepDays 天之前的快照，返回删除条数
func (g *GormDatabase) CleanupRiskSnapshots(ctx context.Context, keepDays int) (int64, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -keepDays)
	res := g.db.WithContext(ctx).Where("taken_at < ?", cutoff).Delete(&RiskSnapshot{})
	return res.RowsAffected, res.Error
}

// SaveEvent 保存事件记录
func (g *GormDatabase) SaveEvent(ctx context.Context, event *EventRecord) error {
	return g.db.WithContext(ctx).Create(event).Error
}

// GetEvents 获取事件记录，按创建时间倒序
func (g *GormDatabase) GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error) {
	query := g.db.WithContext(ctx).Model(&EventRecord{})
	if filter == nil {
		filter = &EventFilter{}
	}

	if filter.Type != "" {
		query = query.Where("event_type = ?", filter.Type)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", filter.EndTime)
	}

	query = query.Order("created_at DESC, id DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var events []*EventRecord
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CleanupOldEvents 清理旧事件：先按天数删除，再按数量保留最新的 keepCount 条
func (g *GormDatabase) CleanupOldEvents(ctx context.Context, severity string, keepCount int, keepDays int) error {
	if keepDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -keepDays)
		if err := g.db.WithContext(ctx).
			Where("severity = ? AND created_at < ?", severity, cutoff).
			Delete(&EventRecord{}).Error; err != nil {
			return err
		}
	}
	if keepCount <= 0 {
		return nil
	}

	var keepIDs []int64
	if err := g.db.WithContext(ctx).Model(&EventRecord{}).
		Where("severity = ?", severity).
		Order("created_at DESC, id DESC").
		Limit(keepCount).
		Pluck("id", &keepIDs).Error; err != nil {
		return err
	}
	if len(keepIDs) < keepCount {
		return nil
	}
	return g.db.WithContext(ctx).
		Where("severity = ? AND id NOT IN ?", severity, keepIDs).
		Delete(&EventRecord{}).Error
}

// SaveValidationRun 保存前推验证记录
func (g *GormDatabase) SaveValidationRun(ctx context.Context, run *ValidationRun) error {
	return g.db.WithContext(ctx).Create(run).Error
}

// GetValidationRuns 查询前推验证记录，按创建时间倒序
func (g *GormDatabase) GetValidationRuns(ctx context.Context, filter *RunFilter) ([]*ValidationRun, error) {
	query := g.db.WithContext(ctx).Model(&ValidationRun{}).Order("created_at DESC, id DESC")
	var runs []*ValidationRun
	if err := applyRunFilter(query, filter).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// Ping 健康检查
func (g *GormDatabase) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (g *GormDatabase) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
