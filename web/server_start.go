package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"quantrisk/config"
	"quantrisk/logger"
)

// WebServer Web服务器
type WebServer struct {
	server *http.Server
	cfg    *config.Config
	hub    *WebSocketHub
}

// NewWebServer 创建Web服务器，未启用时返回 nil
func NewWebServer(cfg *config.Config, deps Deps) *WebServer {
	if !cfg.Web.Enabled {
		return nil
	}

	debug := strings.EqualFold(cfg.System.LogLevel, "debug")
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := NewWebSocketHub()
	if deps.Risk != nil {
		deps.Risk.OnRefresh(hub.BroadcastSnapshot)
	}
	r := NewRouter(NewAPI(deps, hub), debug)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // 回测与扫描请求可能较慢
		IdleTimeout:  60 * time.Second,
	}

	return &WebServer{
		server: server,
		cfg:    cfg,
		hub:    hub,
	}
}

// Start 启动Web服务器
func (ws *WebServer) Start(ctx context.Context) error {
	if ws == nil {
		return nil
	}

	go ws.hub.Run(ctx)

	go func() {
		logger.Info("🌐 Web服务器启动在 http://%s", ws.server.Addr)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("❌ Web服务器启动失败: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		ws.Stop()
	}()

	return nil
}

// Stop 停止Web服务器
func (ws *WebServer) Stop() {
	if ws == nil || ws.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(ctx); err != nil {
		logger.Error("❌ Web服务器关闭失败: %v", err)
	} else {
		logger.Info("✅ Web服务器已关闭")
	}
}
