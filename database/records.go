package database

import (
	"context"
	"encoding/json"
	"time"

	"quantrisk/backtest"
	"quantrisk/logger"
	"quantrisk/risk"
	"quantrisk/walkforward"
)

// 单次写入超时
const writeTimeout = 5 * time.Second

func marshalPayload(kind string, v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn("⚠️ 序列化%s失败: %v", kind, err)
		return ""
	}
	return string(data)
}

// NewBacktestRecords 回测结果转换为运行记录与成交记录
func NewBacktestRecords(result *backtest.Result) (*BacktestRun, []*Trade) {
	m := result.Metrics
	run := &BacktestRun{
		RunID:            result.RunID,
		Symbol:           result.Symbol,
		Strategy:         result.Strategy,
		StartTime:        result.StartTime,
		EndTime:          result.EndTime,
		InitialCapital:   result.InitialCapital,
		FinalCapital:     result.FinalCapital,
		TotalReturn:      m.TotalReturn,
		AnnualizedReturn: m.AnnualizedReturn,
		MaxDrawdown:      m.MaxDrawdown,
		SharpeRatio:      m.SharpeRatio,
		SortinoRatio:     m.SortinoRatio,
		WinRate:          m.WinRate,
		TotalTrades:      m.TotalTrades,
		Rejections:       result.Rejections,
		InvalidSignals:   result.InvalidSignals,
		Metrics:          marshalPayload("回测指标", m),
		CreatedAt:        time.Now(),
	}

	trades := make([]*Trade, 0, len(result.Trades))
	for _, t := range result.Trades {
		trades = append(trades, &Trade{
			RunID:         result.RunID,
			Seq:           t.Seq,
			Symbol:        t.Symbol,
			Side:          string(t.Side),
			Kind:          string(t.Kind),
			Price:         t.Price,
			Quantity:      t.Quantity,
			Multiplier:    t.Multiplier,
			Commission:    t.Commission,
			Slippage:      t.Slippage,
			NetCashEffect: t.NetCashEffect,
			Source:        t.Source,
			ExecutedAt:    t.Timestamp,
		})
	}
	return run, trades
}

// NewRiskSnapshotRecord 风险快照转换为记录
func NewRiskSnapshotRecord(snap *risk.Snapshot) *RiskSnapshot {
	rec := &RiskSnapshot{
		SnapshotID:     snap.ID,
		Timestamp:      snap.Timestamp,
		Equity:         snap.Equity,
		PositionsValue: snap.PositionsValue,
		VaR95:          snap.VaR95.VaR,
		CVaR95:         snap.VaR95.CVaR,
		VaR99:          snap.VaR99.VaR,
		CVaR99:         snap.VaR99.CVaR,
		TotalMargin:    snap.TotalMargin,
		MarginUsage:    snap.MarginUsage,
		DollarDelta:    snap.Greeks.DollarDelta,
		Payload:        marshalPayload("风险快照", snap),
	}
	for _, w := range snap.LiquidationWarnings {
		if w.Level == risk.LevelCritical {
			rec.CriticalWarnings++
		} else {
			rec.WarningCount++
		}
	}
	return rec
}

// NewValidationRecord 前推验证报告转换为记录
func NewValidationRecord(report *walkforward.Report) *ValidationRun {
	return &ValidationRun{
		ReportID:       report.ID,
		Symbol:         report.Symbol,
		Strategy:       report.Strategy,
		Splits:         len(report.Splits),
		AvgTrainSharpe: report.AvgTrainSharpe,
		AvgTestSharpe:  report.AvgTestSharpe,
		Score:          report.Assessment.Score,
		Overfitted:     report.Assessment.Overfitted,
		Severity:       string(report.Assessment.Severity),
		Payload:        marshalPayload("验证报告", report),
		CreatedAt:      report.CreatedAt,
	}
}

// Recorder 将领域结果写入数据库，写入失败只记录日志
// nil Recorder 的所有方法均为空操作
type Recorder struct {
	db Database
}

// NewRecorder 创建记录器
func NewRecorder(db Database) *Recorder {
	if db == nil {
		return nil
	}
	return &Recorder{db: db}
}

// Database 底层数据库
func (r *Recorder) Database() Database {
	if r == nil {
		return nil
	}
	return r.db
}

// RecordBacktest 保存回测结果
func (r *Recorder) RecordBacktest(result *backtest.Result) {
	if r == nil || result == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	run, trades := NewBacktestRecords(result)
	if err := r.db.SaveBacktestRun(ctx, run, trades); err != nil {
		logger.Error("❌ 保存回测记录 %s 失败: %v", result.RunID, err)
		return
	}
	logger.Debug("💾 已保存回测 %s（%d 笔成交）", result.RunID, len(trades))
}

// RecordSnapshot 保存风险快照，可直接注册为 risk.Service 的刷新回调
func (r *Recorder) RecordSnapshot(snap *risk.Snapshot) {
	if r == nil || snap == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.db.SaveRiskSnapshot(ctx, NewRiskSnapshotRecord(snap)); err != nil {
		logger.Error("❌ 保存风险快照 %s 失败: %v", snap.ID, err)
	}
}

// RecordValidation 保存前推验证报告
func (r *Recorder) RecordValidation(report *walkforward.Report) {
	if r == nil || report == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.db.SaveValidationRun(ctx, NewValidationRecord(report)); err != nil {
		logger.Error("❌ 保存验证报告 %s 失败: %v", report.ID, err)
	}
}
