package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"quantrisk/logger"
	"quantrisk/risk"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientQueueLen = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 展示层与服务可能不同源
	},
}

// Message 推送消息
type Message struct {
	Type string      `json:"type"` // risk_snapshot
	Data interface{} `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// WebSocketHub WebSocket 中心，每个连接独立写协程
type WebSocketHub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
}

// NewWebSocketHub 创建 WebSocket 中心
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run 运行 WebSocket 中心，ctx 取消后关闭所有连接
func (h *WebSocketHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// 慢客户端直接断开
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount 当前连接数
func (h *WebSocketHub) ClientCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast 广播消息，队列满时丢弃
func (h *WebSocketHub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Warn("⚠️ WebSocket 消息序列化失败: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logger.Warn("⚠️ WebSocket 广播队列已满，丢弃 %s 消息", msg.Type)
	}
}

// BroadcastSnapshot 广播风险快照，用作 risk.Service 的刷新回调
func (h *WebSocketHub) BroadcastSnapshot(snap *risk.Snapshot) {
	h.Broadcast(Message{Type: "risk_snapshot", Data: snap})
}

func (a *API) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("⚠️ WebSocket 升级失败: %v", err)
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, clientQueueLen)}

	// 新连接先收到当前缓存的快照
	if a.deps.Risk != nil {
		if snap := a.deps.Risk.Cached(); snap != nil {
			if data, err := json.Marshal(Message{Type: "risk_snapshot", Data: snap}); err == nil {
				cl.send <- data
			}
		}
	}

	select {
	case a.hub.register <- cl:
	case <-a.hub.done:
		conn.Close()
		return
	}
	go writePump(cl)
	readPump(a.hub, cl)
}

// readPump 只处理控制帧，连接断开后注销
func readPump(h *WebSocketHub, cl *client) {
	defer func() {
		select {
		case h.unregister <- cl:
		case <-h.done:
		}
	}()
	cl.conn.SetReadLimit(4096)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case message, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
