package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"quantrisk/backtest"
	"quantrisk/database"
	"quantrisk/logger"
	"quantrisk/market"
	"quantrisk/parallel"
	"quantrisk/walkforward"
)

// StrategySpec 策略名称与参数，名称为空时使用配置中的默认策略
type StrategySpec struct {
	Strategy string                 `json:"strategy"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

func (a *API) factory(spec StrategySpec) (backtest.Factory, string, error) {
	name, params := spec.Strategy, spec.Params
	if name == "" {
		cfg := a.deps.Settings()
		name, params = cfg.Backtest.Strategy, cfg.Backtest.StrategyParams
	}
	f, err := backtest.NewStrategyFactory(name, params)
	return f, name, err
}

// BacktestRequest 回测请求，行情由调用方提供
type BacktestRequest struct {
	StrategySpec
	Symbol         string       `json:"symbol" binding:"required"`
	Bars           []market.Bar `json:"bars" binding:"required"`
	InitialCapital float64      `json:"initial_capital,omitempty"` // 为空时使用配置值
}

// listStrategies 可用策略
func (a *API) listStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": backtest.DefaultRegistry.List()})
}

// runBacktest 运行单次回测
func (a *API) runBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	factory, name, err := a.factory(req.StrategySpec)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := a.deps.Settings().BacktestConfig()
	if req.InitialCapital > 0 {
		cfg.Ledger.InitialCapital = req.InitialCapital
	}

	logger.Info("📊 开始回测: 策略=%s, 标的=%s, K线=%d", name, req.Symbol, len(req.Bars))
	bt, err := backtest.NewBacktester(req.Symbol, market.Bars(req.Bars), factory(), cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := bt.Run()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	a.deps.Recorder.RecordBacktest(result)
	a.publishBacktest(result)
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// SweepRequest 并行回测请求
type SweepRequest struct {
	Data    map[string][]market.Bar `json:"data" binding:"required"` // 标的 → K线
	Jobs    []SweepJob              `json:"jobs" binding:"required"`
	Workers int                     `json:"workers,omitempty"` // 为空时使用配置值
}

// SweepJob 扫描中的单个任务
type SweepJob struct {
	StrategySpec
	Symbol string `json:"symbol" binding:"required"`
}

// runSweep 多标的/多策略并行回测
func (a *API) runSweep(c *gin.Context) {
	var req SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	if len(req.Jobs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "jobs 不能为空"})
		return
	}

	jobs := make([]parallel.Job, 0, len(req.Jobs))
	for i, j := range req.Jobs {
		factory, _, err := a.factory(j.StrategySpec)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("job #%d: %v", i, err)})
			return
		}
		jobs = append(jobs, parallel.Job{Symbol: j.Symbol, Strategy: factory})
	}
	data := make(map[string]market.BarSeries, len(req.Data))
	for sym, bars := range req.Data {
		data[sym] = market.Bars(bars)
	}

	cfg := a.deps.Settings()
	workers := req.Workers
	if workers <= 0 {
		workers = cfg.Parallel.Workers
	}
	runner := parallel.NewRunner(cfg.BacktestConfig(), workers, a.deps.Scaler)
	report, err := runner.Sweep(c.Request.Context(), data, jobs)
	if err != nil && report == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, r := range report.Results {
		a.deps.Recorder.RecordBacktest(r.Result)
		a.publishBacktest(r.Result)
	}
	if err != nil {
		logger.Error("❌ 并行回测收尾失败: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// listBacktestRuns 回测历史
func (a *API) listBacktestRuns(c *gin.Context) {
	db := a.recordsDB(c)
	if db == nil {
		return
	}
	runs, err := db.GetBacktestRuns(c.Request.Context(), &database.RunFilter{
		Symbol:   c.Query("symbol"),
		Strategy: c.Query("strategy"),
		Limit:    queryLimit(c, 50),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// getBacktestRun 单次回测摘要
func (a *API) getBacktestRun(c *gin.Context) {
	db := a.recordsDB(c)
	if db == nil {
		return
	}
	run, err := db.GetBacktestRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

// getBacktestTrades 单次回测的成交日志
func (a *API) getBacktestTrades(c *gin.Context) {
	db := a.recordsDB(c)
	if db == nil {
		return
	}
	trades, err := db.GetTrades(c.Request.Context(), &database.TradeFilter{
		RunID: c.Param("id"),
		Limit: queryLimit(c, 1000),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// WalkForwardRequest 前推验证请求
type WalkForwardRequest struct {
	StrategySpec
	Symbol    string       `json:"symbol" binding:"required"`
	Bars      []market.Bar `json:"bars" binding:"required"`
	TrainSize int          `json:"train_size,omitempty"`
	TestSize  int          `json:"test_size,omitempty"`
	Threshold float64      `json:"threshold,omitempty"`
}

// runWalkForward 前推验证与过拟合评估
func (a *API) runWalkForward(c *gin.Context) {
	var req WalkForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	factory, _, err := a.factory(req.StrategySpec)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings := a.deps.Settings()
	wfCfg := settings.WalkForwardConfig()
	if req.TrainSize > 0 {
		wfCfg.TrainSize = req.TrainSize
	}
	if req.TestSize > 0 {
		wfCfg.TestSize = req.TestSize
	}
	if req.Threshold > 0 {
		wfCfg.Threshold = req.Threshold
	}

	validator, err := walkforward.NewValidator(wfCfg, settings.BacktestConfig(), factory)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := validator.Run(req.Symbol, market.Bars(req.Bars))
	if errors.Is(err, walkforward.ErrInsufficientData) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a.deps.Recorder.RecordValidation(report)
	a.publishValidation(report)
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// listValidationRuns 前推验证历史
func (a *API) listValidationRuns(c *gin.Context) {
	db := a.recordsDB(c)
	if db == nil {
		return
	}
	runs, err := db.GetValidationRuns(c.Request.Context(), &database.RunFilter{
		Symbol:   c.Query("symbol"),
		Strategy: c.Query("strategy"),
		Limit:    queryLimit(c, 50),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
