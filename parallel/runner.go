package parallel

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"quantrisk/backtest"
	"quantrisk/logger"
	"quantrisk/market"
	"quantrisk/metrics"
)

// Job 单个回测任务
type Job struct {
	Symbol   string
	Strategy backtest.Factory
}

// JobResult 任务结果，Err 非空时 Result 为 nil
type JobResult struct {
	Symbol   string           `json:"symbol"`
	Strategy string           `json:"strategy"`
	Result   *backtest.Result `json:"result,omitempty"`
	Err      error            `json:"-"`
	Error    string           `json:"error,omitempty"`
	Duration time.Duration    `json:"duration"`
}

// SweepReport 一次并行扫描的汇总
type SweepReport struct {
	Workers   int           `json:"workers"`
	Results   []JobResult   `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Runner 并行回测执行器
type Runner struct {
	cfg     backtest.Config
	workers int
	scaler  *Scaler
}

// NewRunner 创建执行器，workers<=0 时使用 CPU 核数
func NewRunner(cfg backtest.Config, workers int, scaler *Scaler) *Runner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Runner{cfg: cfg, workers: workers, scaler: scaler}
}

// Sweep 发布行情、并行执行全部任务、最后释放 arena
// 单个任务失败只记录在结果中，不影响其他任务
func (r *Runner) Sweep(ctx context.Context, data map[string]market.BarSeries, jobs []Job) (*SweepReport, error) {
	arena := NewArena()
	symbols := make([]string, 0, len(data))
	for sym := range data {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		if err := arena.Put(sym, data[sym]); err != nil {
			_ = arena.Release()
			return nil, fmt.Errorf("publish market data: %w", err)
		}
	}

	report := r.Run(ctx, arena, jobs)

	if err := arena.Release(); err != nil {
		return report, fmt.Errorf("release arena: %w", err)
	}
	return report, nil
}

// Run 在已发布的 arena 上并行执行任务，返回时所有任务均已结束
func (r *Runner) Run(ctx context.Context, arena *Arena, jobs []Job) *SweepReport {
	workers := r.workers
	if r.scaler != nil {
		workers = r.scaler.Workers(workers)
	}
	if workers > len(jobs) && len(jobs) > 0 {
		workers = len(jobs)
	}
	pm := metrics.GetPrometheusMetrics()
	pm.SetWorkers(workers)

	start := time.Now()
	logger.Info("🚀 并行回测开始: %d 个任务, %d 个工作协程", len(jobs), workers)

	results := make([]JobResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = r.runJob(gctx, arena, job)
			return nil
		})
	}
	_ = g.Wait()

	report := &SweepReport{Workers: workers, Results: results, Elapsed: time.Since(start)}
	for i := range results {
		if results[i].Err != nil {
			results[i].Error = results[i].Err.Error()
			report.Failed++
			pm.RecordJob("failed")
			logger.Warn("⚠️ 任务失败 %s: %v", results[i].Symbol, results[i].Err)
			continue
		}
		report.Succeeded++
		pm.RecordJob("success")
	}
	logger.Info("✅ 并行回测完成: 成功 %d, 失败 %d, 耗时 %v", report.Succeeded, report.Failed, report.Elapsed)
	return report
}

func (r *Runner) runJob(ctx context.Context, arena *Arena, job Job) (res JobResult) {
	start := time.Now()
	res = JobResult{Symbol: job.Symbol}
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("panic: %v", p)
		}
		res.Duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	if job.Strategy == nil {
		res.Err = fmt.Errorf("%s: strategy factory is nil", job.Symbol)
		return res
	}

	view, err := arena.Attach(job.Symbol)
	if err != nil {
		res.Err = err
		return res
	}
	defer view.Detach()

	strategy := job.Strategy()
	res.Strategy = strategy.Name()
	bt, err := backtest.NewBacktester(job.Symbol, view, strategy, r.cfg)
	if err != nil {
		res.Err = err
		return res
	}
	result, err := bt.Run()
	if err != nil {
		res.Err = err
		return res
	}
	res.Result = result
	return res
}
