// Package database 回测、风险快照与前推验证记录的持久化
package database

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound 记录不存在
var ErrRecordNotFound = errors.New("record not found")

// Database 数据库接口
type Database interface {
	// 回测记录，运行与成交在同一事务内写入
	SaveBacktestRun(ctx context.Context, run *BacktestRun, trades []*Trade) error
	GetBacktestRun(ctx context.Context, runID string) (*BacktestRun, error)
	GetBacktestRuns(ctx context.Context, filter *RunFilter) ([]*BacktestRun, error)
	GetTrades(ctx context.Context, filter *TradeFilter) ([]*Trade, error)

	// 风险快照
	SaveRiskSnapshot(ctx context.Context, snapshot *RiskSnapshot) error
	GetRiskSnapshots(ctx context.Context, filter *SnapshotFilter) ([]*RiskSnapshot, error)
	CleanupRiskSnapshots(ctx context.Context, keepDays int) (int64, error)

	// 前推验证
	SaveValidationRun(ctx context.Context, run *ValidationRun) error
	GetValidationRuns(ctx context.Context, filter *RunFilter) ([]*ValidationRun, error)

	// 风险事件
	SaveEvent(ctx context.Context, event *EventRecord) error
	GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error)
	CleanupOldEvents(ctx context.Context, severity string, keepCount int, keepDays int) error

	// 健康检查
	Ping(ctx context.Context) error

	// 关闭连接
	Close() error
}

// 数据模型

// BacktestRun 回测运行摘要
type BacktestRun struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID            string    `gorm:"uniqueIndex;size:64" json:"run_id"`
	Symbol           string    `gorm:"index:idx_symbol_strategy;size:50" json:"symbol"`
	Strategy         string    `gorm:"index:idx_symbol_strategy;size:50" json:"strategy"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	InitialCapital   float64   `json:"initial_capital"`
	FinalCapital     float64   `json:"final_capital"`
	TotalReturn      float64   `json:"total_return"` // %
	AnnualizedReturn float64   `json:"annualized_return"`
	MaxDrawdown      float64   `json:"max_drawdown"`
	SharpeRatio      float64   `json:"sharpe_ratio"`
	SortinoRatio     float64   `json:"sortino_ratio"`
	WinRate          float64   `json:"win_rate"`
	TotalTrades      int       `json:"total_trades"`
	Rejections       int       `json:"rejections"`
	InvalidSignals   int       `json:"invalid_signals"`
	Metrics          string    `gorm:"type:text" json:"metrics"` // 完整指标 JSON
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

// Trade 回测成交记录
type Trade struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID         string    `gorm:"index:idx_run_seq;size:64" json:"run_id"`
	Seq           int64     `gorm:"index:idx_run_seq" json:"seq"`
	Symbol        string    `gorm:"index;size:50" json:"symbol"`
	Side          string    `gorm:"size:10" json:"side"` // BUY, SELL
	Kind          string    `gorm:"size:20" json:"kind"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	Multiplier    float64   `json:"multiplier"`
	Commission    float64   `json:"commission"`
	Slippage      float64   `json:"slippage"`
	NetCashEffect float64   `json:"net_cash_effect"`
	Source        string    `gorm:"size:50" json:"source"`
	ExecutedAt    time.Time `gorm:"index" json:"executed_at"`
}

// RiskSnapshot 风险快照摘要
type RiskSnapshot struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SnapshotID       string    `gorm:"uniqueIndex;size:64" json:"snapshot_id"`
	Timestamp        time.Time `gorm:"column:taken_at;index" json:"timestamp"`
	Equity           float64   `json:"equity"`
	PositionsValue   float64   `json:"positions_value"`
	VaR95            float64   `json:"var_95"`
	CVaR95           float64   `json:"cvar_95"`
	VaR99            float64   `json:"var_99"`
	CVaR99           float64   `json:"cvar_99"`
	TotalMargin      float64   `json:"total_margin"`
	MarginUsage      float64   `json:"margin_usage"`
	CriticalWarnings int       `json:"critical_warnings"`
	WarningCount     int       `json:"warning_count"`
	DollarDelta      float64   `json:"dollar_delta"`
	Payload          string    `gorm:"type:text" json:"payload"` // 完整快照 JSON
}

// ValidationRun 前推验证记录
type ValidationRun struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReportID       string    `gorm:"uniqueIndex;size:64" json:"report_id"`
	Symbol         string    `gorm:"index:idx_validation_symbol_strategy;size:50" json:"symbol"`
	Strategy       string    `gorm:"index:idx_validation_symbol_strategy;size:50" json:"strategy"`
	Splits         int       `json:"splits"`
	AvgTrainSharpe float64   `json:"avg_train_sharpe"`
	AvgTestSharpe  float64   `json:"avg_test_sharpe"`
	Score          float64   `json:"score"`
	Overfitted     bool      `gorm:"index" json:"overfitted"`
	Severity       string    `gorm:"size:10" json:"severity"`
	Payload        string    `gorm:"type:text" json:"payload"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// EventRecord 风险事件记录
type EventRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Type      string    `gorm:"column:event_type;index;size:50" json:"type"`
	Severity  string    `gorm:"index;size:10" json:"severity"` // critical, warning, info
	Source    string    `gorm:"size:20" json:"source"`
	Symbol    string    `gorm:"index;size:50" json:"symbol"`
	Title     string    `gorm:"size:100" json:"title"`
	Message   string    `gorm:"type:text" json:"message"`
	Details   string    `gorm:"type:text" json:"details"` // 事件数据 JSON
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// 查询过滤器

// RunFilter 回测/验证记录过滤器
type RunFilter struct {
	Symbol   string
	Strategy string
	Limit    int
	Offset   int
}

// TradeFilter 成交过滤器
type TradeFilter struct {
	RunID     string
	Symbol    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// SnapshotFilter 风险快照过滤器
type SnapshotFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

// EventFilter 事件过滤器
type EventFilter struct {
	Type      string
	Severity  string
	Symbol    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}
