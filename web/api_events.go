package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quantrisk/backtest"
	"quantrisk/database"
	"quantrisk/event"
	"quantrisk/walkforward"
)

func (a *API) publish(t event.EventType, data map[string]interface{}) {
	if a.deps.Events == nil {
		return
	}
	a.deps.Events.Publish(&event.Event{Type: t, Data: data})
}

func (a *API) publishBacktest(result *backtest.Result) {
	if result == nil {
		return
	}
	a.publish(event.EventTypeBacktestCompleted, map[string]interface{}{
		"run_id":       result.RunID,
		"symbol":       result.Symbol,
		"strategy":     result.Strategy,
		"total_return": result.Metrics.TotalReturn,
		"sharpe_ratio": result.Metrics.SharpeRatio,
		"total_trades": len(result.Trades),
	})
}

// publishValidation 只有判定为过拟合的报告才发布事件
func (a *API) publishValidation(report *walkforward.Report) {
	if report == nil || !report.Assessment.Overfitted {
		return
	}
	a.publish(event.EventTypeOverfitDetected, map[string]interface{}{
		"report_id":      report.ID,
		"symbol":         report.Symbol,
		"strategy":       report.Strategy,
		"score":          report.Assessment.Score,
		"severity":       string(report.Assessment.Severity),
		"recommendation": report.Assessment.Recommendation,
	})
}

// getEvents 风险事件历史
func (a *API) getEvents(c *gin.Context) {
	db := a.recordsDB(c)
	if db == nil {
		return
	}
	filter := &database.EventFilter{
		Type:     c.Query("type"),
		Severity: c.Query("severity"),
		Symbol:   c.Query("symbol"),
		Limit:    queryLimit(c, 100),
	}
	events, err := db.GetEvents(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
