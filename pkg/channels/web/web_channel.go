package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"codesmith/pkg/agent"
	"codesmith/pkg/api"
	"codesmith/pkg/llm"
	"codesmith/pkg/sandbox"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

type WebConfig struct {
	Port      int    `json:"port"`       // Default: 8080
	StaticDir string `json:"static_dir"` // 前端打包產物目錄，空字串代表不提供靜態檔
}

// incomingFrame is the union of everything the browser can send us.
// 瀏覽器送來的不是只有聊天訊息，遠端沙箱的 RPC 回應也走同一條 WS
type incomingFrame struct {
	Type string `json:"type"` // "message", "rpc_response"；空值視為純文字相容模式
	Text string `json:"text"`

	// rpc_response fields
	ID     string `json:"id"`
	Status bool   `json:"status"`
	Data   string `json:"data"`
}

// rpcRequestFrame wraps a sandbox RPC request for the wire.
type rpcRequestFrame struct {
	Type string `json:"type"`
	sandbox.Request
}

// SafeConn serializes writes; gorilla/websocket 不允許並發寫入
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

type WebChannel struct {
	config      WebConfig
	server      *http.Server
	sessions    *agent.SessionManager // 用於連線時同步歷史
	rpc         *sandbox.RPC          // 遠端沙箱的 RPC 路由器
	connections map[string]*SafeConn  // Map UserID -> WS Connection
	mu          sync.RWMutex
}

func NewWebChannel(cfg WebConfig, sessions *agent.SessionManager, rpcTimeout time.Duration) *WebChannel {
	c := &WebChannel{
		config:      cfg,
		sessions:    sessions,
		connections: make(map[string]*SafeConn),
	}
	c.rpc = sandbox.NewRPC(c.sendRPCRequest, rpcTimeout)
	return c
}

func (c *WebChannel) ID() string {
	return "web"
}

// RPC exposes the request router so the session layer can build remote
// sandboxes bound to this channel's connections.
func (c *WebChannel) RPC() *sandbox.RPC {
	return c.rpc
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})
	if c.config.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(c.config.StaticDir)))
	}

	addr := fmt.Sprintf(":%d", c.config.Port)
	c.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("Web API listening", "port", c.config.Port)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Web API server error", "error", err)
		}
	}()

	return nil
}

func (c *WebChannel) Stop() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

func (c *WebChannel) conn(userID string) (*SafeConn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.connections[userID]
	return conn, ok
}

// unregister removes the connection only if it is still the registered one.
// 重連時新 socket 先註冊進來，舊 socket 收尾不能把它踢掉，
// 回傳 false 表示這條連線早被取代了
func (c *WebChannel) unregister(userID string, conn *SafeConn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connections[userID] != conn {
		return false
	}
	delete(c.connections, userID)
	return true
}

func (c *WebChannel) Send(session api.SessionContext, message string) error {
	conn, ok := c.conn(session.UserID)
	if !ok {
		return fmt.Errorf("web user %s not connected", session.UserID)
	}

	msg := map[string]string{
		"type": "text",
		"text": message,
	}
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, jsonData)
}

// SendSignal implements the gateway.SignalingChannel interface.
// 前端用這個切換 thinking 指示與 action 狀態徽章
func (c *WebChannel) SendSignal(session api.SessionContext, signal string) error {
	conn, ok := c.conn(session.UserID)
	if !ok {
		return fmt.Errorf("web user %s not connected", session.UserID)
	}

	msg := map[string]string{
		"type":  "signal",
		"value": signal,
	}
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, jsonData)
}

// Stream implements gateway.Channel.Stream
func (c *WebChannel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	conn, ok := c.conn(session.UserID)
	if !ok {
		return fmt.Errorf("web user %s not connected", session.UserID)
	}

	for block := range blocks {
		msg := map[string]any{
			"type": block.Type,
			"text": block.Text,
		}

		jsonData, err := json.Marshal(msg)
		if err != nil {
			slog.Error("Failed to marshal stream block", "error", err)
			continue
		}

		err = conn.WriteMessage(websocket.TextMessage, jsonData)
		if err != nil {
			return err
		}
	}

	// Send finish flag
	return conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"done"}`))
}

// sendRPCRequest 把沙箱操作送進瀏覽器端的容器 runtime
func (c *WebChannel) sendRPCRequest(req sandbox.Request) error {
	conn, ok := c.conn(req.UserID)
	if !ok {
		return fmt.Errorf("web user %s not connected", req.UserID)
	}

	jsonData, err := json.Marshal(rpcRequestFrame{Type: "rpc_request", Request: req})
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, jsonData)
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "error", err)
		return
	}

	// Wrap connection
	conn := &SafeConn{Conn: rawConn}

	// 前端重連時帶同一個 user 參數即可接回原本的 session
	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = r.RemoteAddr
	}
	username := r.URL.Query().Get("name")
	if username == "" {
		username = "WebUser"
	}

	session := api.SessionContext{
		ChannelID: "web",
		UserID:    userID,
		ChatID:    userID,
		Username:  username,
	}

	// Register connection
	c.mu.Lock()
	c.connections[userID] = conn
	c.mu.Unlock()

	// Send history immediately (if any)
	if sess, ok := c.sessions.Peek(session); ok {
		historyMsgs := sess.History.Visible()
		if len(historyMsgs) > 0 {
			historyData := map[string]any{
				"type": "history",
				"data": historyMsgs,
			}
			historyJSON, err := json.Marshal(historyData)
			if err != nil {
				slog.Error("Failed to marshal history", "error", err)
			} else {
				conn.WriteMessage(websocket.TextMessage, historyJSON)
			}
		}
	}

	defer func() {
		stillActive := c.unregister(userID, conn)
		conn.Close()
		// 只有還掛在表上的連線才代表使用者真的離開；被重連取代的
		// 舊 socket 不能觸發斷線清理，session 已經接回新連線了
		if stillActive {
			ctx.OnDisconnect(session)
		}
	}()

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var content string

		var frame incomingFrame
		if err := json.Unmarshal(msgBytes, &frame); err == nil {
			switch frame.Type {
			case "rpc_response":
				c.rpc.HandleResponse(sandbox.Response{
					ID:     frame.ID,
					Status: frame.Status,
					Data:   frame.Data,
				})
				continue
			case "message", "":
				content = frame.Text
			default:
				slog.Warn("Unknown frame type from web client", "type", frame.Type)
				continue
			}
		} else {
			// Fallback: treat as plain text (backward compatibility)
			content = string(msgBytes)
		}

		if content == "" {
			continue
		}

		// Send to Gateway
		unifiedMsg := &api.UnifiedMessage{
			Session: session,
			Content: content,
		}
		ctx.OnMessage(c.ID(), unifiedMsg)
	}
}
