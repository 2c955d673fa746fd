// Package web 通过 JSON API 与 WebSocket 对外暴露回测、风险与验证结果
package web

import (
	"net/http"
	"net/http/pprof"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quantrisk/config"
	"quantrisk/database"
	"quantrisk/event"
	"quantrisk/parallel"
	"quantrisk/risk"
)

// Deps Web 层依赖
type Deps struct {
	Settings func() *config.Config // 当前生效的配置（支持热更新）
	Risk     *risk.Service
	Inputs   *risk.InputStore
	Scaler   *parallel.Scaler
	Recorder *database.Recorder // 可为 nil，此时历史查询返回 503
	Events   event.Publisher    // 可为 nil
	Logs     LogQuerier         // 可为 nil，此时日志查询返回 503
}

// API 路由处理器
type API struct {
	deps Deps
	hub  *WebSocketHub
}

// NewAPI 创建处理器
func NewAPI(deps Deps, hub *WebSocketHub) *API {
	if deps.Settings == nil {
		cfg := config.Default()
		deps.Settings = func() *config.Config { return cfg }
	}
	return &API{deps: deps, hub: hub}
}

// SetupRoutes 设置路由
func SetupRoutes(r *gin.Engine, a *API) {
	// Prometheus metrics 端点
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// pprof 性能分析端点
	pprofGroup := r.Group("/debug/pprof")
	{
		pprofGroup.GET("/", gin.WrapF(pprof.Index))
		pprofGroup.GET("/profile", gin.WrapF(pprof.Profile))
		pprofGroup.GET("/heap", gin.WrapH(pprof.Handler("heap")))
		pprofGroup.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
	}

	// WebSocket 推送风险快照
	r.GET("/ws", a.handleWebSocket)

	api := r.Group("/api")
	{
		api.GET("/health", a.getHealth)
		api.GET("/system", a.getSystemMetrics)
		api.GET("/logs", a.getLogs)

		riskGroup := api.Group("/risk")
		{
			riskGroup.GET("/snapshot", a.getRiskSnapshot)
			riskGroup.POST("/refresh", a.refreshRiskSnapshot)
			riskGroup.GET("/inputs", a.getRiskInputs)
			riskGroup.PUT("/inputs", a.replaceRiskInputs)
			riskGroup.POST("/prices", a.updatePrice)
			riskGroup.GET("/history", a.getRiskHistory)
		}

		api.POST("/margin/position", a.evaluatePositionMargin)
		api.POST("/margin/combination", a.calculateCombinationMargin)
		api.POST("/greeks/option", a.calculateOptionGreeks)

		api.GET("/events", a.getEvents)

		api.GET("/strategies", a.listStrategies)
		bt := api.Group("/backtest")
		{
			bt.POST("", a.runBacktest)
			bt.POST("/sweep", a.runSweep)
			bt.GET("/runs", a.listBacktestRuns)
			bt.GET("/runs/:id", a.getBacktestRun)
			bt.GET("/runs/:id/trades", a.getBacktestTrades)
		}

		wf := api.Group("/walkforward")
		{
			wf.POST("", a.runWalkForward)
			wf.GET("/runs", a.listValidationRuns)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}

// NewRouter 创建 gin 引擎并注册路由
func NewRouter(a *API, logAll bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), GinLoggerMiddleware(logAll))
	SetupRoutes(r, a)
	return r
}
