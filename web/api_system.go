package web

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"quantrisk/monitor"
	"quantrisk/storage"
)

var startedAt = time.Now()

// getHealth 健康检查
func (a *API) getHealth(c *gin.Context) {
	status := gin.H{
		"status":     "ok",
		"uptime":     time.Since(startedAt).String(),
		"goroutines": runtime.NumGoroutine(),
		"ws_clients": a.hub.ClientCount(),
	}
	if a.deps.Risk != nil {
		if snap := a.deps.Risk.Cached(); snap != nil {
			status["last_snapshot"] = snap.Timestamp
		}
	}
	if db := a.deps.Recorder.Database(); db != nil {
		if err := db.Ping(c.Request.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
		}
	}
	c.JSON(http.StatusOK, status)
}

// getSystemMetrics 进程与系统资源
func (a *API) getSystemMetrics(c *gin.Context) {
	m, err := monitor.CollectSystemMetrics()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": m})
}

// LogQuerier 日志查询接口，由 storage.LogStorage 实现
type LogQuerier interface {
	GetLogs(params storage.LogQueryParams) ([]*storage.LogRecord, int, error)
}

// getLogs 查询落库日志
func (a *API) getLogs(c *gin.Context) {
	if a.deps.Logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "日志存储未启用"})
		return
	}

	params := storage.LogQueryParams{
		Level:   c.Query("level"),
		Keyword: c.Query("keyword"),
		Limit:   queryLimit(c, 100),
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil && offset > 0 {
		params.Offset = offset
	}
	for key, dst := range map[string]*time.Time{"start": &params.StartTime, "end": &params.EndTime} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": key + " 需为 RFC3339 时间"})
			return
		}
		*dst = ts
	}

	logs, total, err := a.deps.Logs.GetLogs(params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "total": total})
}
