package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quantrisk/database"
	"quantrisk/logger"
	"quantrisk/risk"
)

func (a *API) riskAvailable(c *gin.Context) bool {
	if a.deps.Risk == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "风险服务未启用"})
		return false
	}
	return true
}

// getRiskSnapshot 获取最新风险快照
func (a *API) getRiskSnapshot(c *gin.Context) {
	if !a.riskAvailable(c) {
		return
	}
	snap, err := a.deps.Risk.Snapshot(c.Request.Context())
	if err != nil {
		// 本地计算失败时退回镜像中的最近快照
		if mirrored, merr := a.deps.Risk.Mirrored(c.Request.Context()); merr == nil {
			logger.Warn("⚠️ [风险] 本地快照不可用，返回镜像快照: %v", err)
			c.JSON(http.StatusOK, gin.H{"snapshot": mirrored, "source": "mirror", "warning": err.Error()})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": snap, "source": "local"})
}

// refreshRiskSnapshot 强制刷新，超过限速返回 429 与当前缓存
func (a *API) refreshRiskSnapshot(c *gin.Context) {
	if !a.riskAvailable(c) {
		return
	}
	snap, err := a.deps.Risk.Refresh(c.Request.Context())
	switch {
	case errors.Is(err, risk.ErrRefreshThrottled):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "snapshot": snap})
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"snapshot": snap})
	}
}

func (a *API) inputsAvailable(c *gin.Context) bool {
	if a.deps.Inputs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "组合输入未配置"})
		return false
	}
	return true
}

// getRiskInputs 当前组合状态
func (a *API) getRiskInputs(c *gin.Context) {
	if !a.inputsAvailable(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"inputs": a.deps.Inputs.Current()})
}

// replaceRiskInputs 整体替换组合状态
func (a *API) replaceRiskInputs(c *gin.Context) {
	if !a.inputsAvailable(c) {
		return
	}
	var in risk.Inputs
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	if err := a.deps.Inputs.Replace(in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "positions": len(in.Positions)})
}

// PriceUpdate 单个标的价格更新
type PriceUpdate struct {
	Symbol      string  `json:"symbol" binding:"required"`
	Price       float64 `json:"price" binding:"required"`
	AppendClose bool    `json:"append_close"` // 同时追加到收盘价历史
}

// updatePrice 更新最新价
func (a *API) updatePrice(c *gin.Context) {
	if !a.inputsAvailable(c) {
		return
	}
	var req PriceUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	if err := a.deps.Inputs.UpdatePrice(req.Symbol, req.Price, req.AppendClose); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func queryLimit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func (a *API) recordsDB(c *gin.Context) database.Database {
	db := a.deps.Recorder.Database()
	if db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "数据库未启用"})
	}
	return db
}

// getRiskHistory 历史风险快照摘要
func (a *API) getRiskHistory(c *gin.Context) {
	db := a.recordsDB(c)
	if db == nil {
		return
	}
	snaps, err := db.GetRiskSnapshots(c.Request.Context(), &database.SnapshotFilter{Limit: queryLimit(c, 100)})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}
