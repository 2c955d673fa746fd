package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"quantrisk/greeks"
	"quantrisk/margin"
	"quantrisk/market"
	"quantrisk/portfolio"
)

func (a *API) marginEngine(c *gin.Context) *margin.Engine {
	if a.deps.Risk != nil {
		return a.deps.Risk.Engine().Margin()
	}
	engine, err := margin.NewEngine(a.deps.Settings().MarginConfig())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil
	}
	return engine
}

// PositionMarginRequest 单个持仓保证金请求
type PositionMarginRequest struct {
	Position     portfolio.Position `json:"position"`
	CurrentPrice float64            `json:"current_price" binding:"required"`
}

// evaluatePositionMargin 持仓保证金、强平价与强平距离
func (a *API) evaluatePositionMargin(c *gin.Context) {
	var req PositionMarginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	engine := a.marginEngine(c)
	if engine == nil {
		return
	}
	snap, err := engine.Evaluate(req.Position, req.CurrentPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"margin": snap})
}

// calculateCombinationMargin 多腿组合保证金
func (a *API) calculateCombinationMargin(c *gin.Context) {
	var combo margin.Combination
	if err := c.ShouldBindJSON(&combo); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	engine := a.marginEngine(c)
	if engine == nil {
		return
	}
	result, err := engine.CombinationMargin(combo)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"combination": result})
}

// OptionGreeksRequest 单张期权 Greeks 请求
type OptionGreeksRequest struct {
	Quote        market.OptionQuote `json:"quote"`
	RiskFreeRate *float64           `json:"risk_free_rate,omitempty"` // 为空时使用配置值
	Closes       []float64          `json:"closes,omitempty"`         // 缺少隐含波动率时用于历史波动率
	AsOf         time.Time          `json:"as_of,omitempty"`
}

// OptionGreeksResponse 单张期权 Greeks 结果
type OptionGreeksResponse struct {
	Greeks           greeks.Set        `json:"greeks"`
	TheoreticalPrice float64           `json:"theoretical_price"`
	Volatility       greeks.Resolution `json:"volatility"`
	TimeToExpiry     float64           `json:"time_to_expiry"`
}

// calculateOptionGreeks Black-Scholes Greeks 与理论价
func (a *API) calculateOptionGreeks(c *gin.Context) {
	var req OptionGreeksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}

	q := req.Quote
	if missing := q.PricingFieldsMissing(); len(missing) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "期权行情不完整", "missing": missing})
		return
	}

	cfg := a.deps.Settings().GreeksConfig()
	rate := cfg.RiskFreeRate
	if req.RiskFreeRate != nil {
		rate = *req.RiskFreeRate
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	resolver := greeks.VolatilityResolver{Window: cfg.HistoricalWindow, Default: cfg.DefaultVolatility}
	vol := resolver.Resolve(q.Symbol, q.ImpliedVolatility, req.Closes)
	in := greeks.Inputs{
		Type:         q.Type,
		Spot:         q.UnderlyingPrice,
		Strike:       q.Strike,
		TimeToExpiry: greeks.YearsToExpiry(q.Expiry, asOf),
		RiskFreeRate: rate,
		Volatility:   vol.Volatility,
	}
	set, err := greeks.Calculate(in)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	price, _ := greeks.TheoreticalPrice(in)

	c.JSON(http.StatusOK, OptionGreeksResponse{
		Greeks:           set,
		TheoreticalPrice: price,
		Volatility:       vol,
		TimeToExpiry:     in.TimeToExpiry,
	})
}
