package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"codesmith/pkg/api"
	"codesmith/pkg/config"
	"codesmith/pkg/llm"
	"codesmith/pkg/monitor"
)

// GatewayManager 負責管理所有的 Channels 並統一路由訊息
type GatewayManager struct {
	channels      map[string]Channel
	msgHandler    MessageHandler
	engine        api.AgentEngine // 用於斷線時釋放 session 資源
	monitor       monitor.Monitor // 監控器
	channelBuffer int             // 內部 Channel 緩衝大小
	mu            sync.RWMutex
}

// NewGatewayManager 建立一個新的 GatewayManager
func NewGatewayManager() *GatewayManager {
	return &GatewayManager{
		channels:      make(map[string]Channel),
		channelBuffer: 100, // 預設值
	}
}

// WithSystemConfig 套用系統層級的技術參數
func (g *GatewayManager) WithSystemConfig(cfg *config.SystemConfig) {
	if cfg == nil {
		return
	}
	g.SetChannelBuffer(cfg.InternalChannelBuffer)
}

// SetChannelBuffer 設定內部的 Channel 緩衝大小
func (g *GatewayManager) SetChannelBuffer(size int) {
	if size > 0 {
		g.channelBuffer = size
	}
}

// SetMessageHandler 設定處理訊息的核心邏輯 (通常是 LLM 處理函式)
func (g *GatewayManager) SetMessageHandler(handler MessageHandler) {
	g.msgHandler = handler
}

// SetAgentEngine 注入 Agent Engine，供斷線清理使用
func (g *GatewayManager) SetAgentEngine(engine api.AgentEngine) {
	g.engine = engine
}

// SetMonitor 設定監控器
func (g *GatewayManager) SetMonitor(m monitor.Monitor) {
	g.monitor = m
}

// Register 註冊一個 Channel
func (g *GatewayManager) Register(c Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

// GetChannel 取得特定的 Channel (通常用於主動發送訊息)
func (g *GatewayManager) GetChannel(id string) (Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// StartAll 啟動所有已註冊的 Channels
func (g *GatewayManager) StartAll() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Starting channel", "channel", id)
		// 啟動 Channel，並傳入 self 作為 Context
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
	}
	return nil
}

// StopAll 停止所有 Channels
func (g *GatewayManager) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Stopping channel", "channel", id)
		if err := c.Stop(); err != nil {
			slog.Error("Error stopping channel", "channel", id, "error", err)
		}
	}
}

// SendReply 統一的回覆介面，透過 Channel 介面送回訊息
func (g *GatewayManager) SendReply(session SessionContext, content string) error {
	slog.Info("[Gateway] -> Reply", "channel", session.ChannelID, "user", session.Username, "content", content)

	// 廣播到監控器
	if g.monitor != nil {
		g.monitor.OnMessage(monitor.MonitorMessage{
			Timestamp:   time.Now(),
			MessageType: "ASSISTANT",
			ChannelID:   session.ChannelID,
			Username:    session.Username,
			Content:     content,
		})
	}

	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Send(session, content)
}

// SendSignal 發送一個控制訊號 (如 thinking、action 狀態) 到 Channel
func (g *GatewayManager) SendSignal(session SessionContext, signal string) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}

	// 檢查 Channel 是否支援訊號介面
	if sc, ok := c.(SignalingChannel); ok {
		slog.Debug("[Gateway] -> Signal", "channel", session.ChannelID, "user", session.Username, "signal", signal)
		return sc.SendSignal(session, signal)
	}

	// 不支援的通道安靜地忽略
	return nil
}

// StreamReply 統一的串流回覆介面
func (g *GatewayManager) StreamReply(session SessionContext, blocks <-chan llm.ContentBlock) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}

	// 建立一個新的 channel 來包裝原始 blocks，以便收集完整內容廣播到監控器
	wrappedBlocks := make(chan llm.ContentBlock, g.channelBuffer)
	displayGone := make(chan struct{})
	var fullContent string

	go func() {
		defer close(wrappedBlocks)
		forward := true
		for block := range blocks {
			// 只收集 text 類型的內容用於監控
			if block.Type == "text" {
				fullContent += block.Text
			}
			if !forward {
				continue
			}
			// 顯示端掛了就停止轉送，但要繼續把 blocks 讀完：
			// 上游的生產者不能因為前端斷線而卡死
			select {
			case wrappedBlocks <- block:
			case <-displayGone:
				forward = false
			}
		}
		// 串流結束後，廣播完整訊息到監控器
		if fullContent != "" && g.monitor != nil {
			g.monitor.OnMessage(monitor.MonitorMessage{
				Timestamp:   time.Now(),
				MessageType: "ASSISTANT",
				ChannelID:   session.ChannelID,
				Username:    session.Username,
				Content:     fullContent,
			})
		}
	}()

	err := c.Stream(session, wrappedBlocks)
	close(displayGone)
	return err
}

// OnMessage 實作 ChannelContext 介面，接收來自 Channel 的訊息
func (g *GatewayManager) OnMessage(channelID string, msg *UnifiedMessage) {
	slog.Info("[Gateway] <- Received",
		"channel", channelID, "user", msg.Session.Username, "user_id", msg.Session.UserID, "content", msg.Content)

	// 廣播到監控器
	if g.monitor != nil {
		g.monitor.OnMessage(monitor.MonitorMessage{
			Timestamp:   time.Now(),
			MessageType: "USER",
			ChannelID:   channelID,
			Username:    msg.Session.Username,
			Content:     msg.Content,
		})
	}

	if g.msgHandler != nil {
		// 將訊息轉發給核心處理器 (LLM)
		g.msgHandler(msg)
	} else {
		slog.Warn("[Gateway] No message handler set")
	}
}

// OnDisconnect 實作 ChannelContext 介面，通知引擎釋放該 session 的資源
// (歷史、ledger、沙箱)。遠端沙箱的 RPC 通道跟著連線一起消失，不清會洩漏。
func (g *GatewayManager) OnDisconnect(session SessionContext) {
	slog.Info("[Gateway] <- Disconnected", "channel", session.ChannelID, "user", session.Username)
	if g.engine != nil {
		g.engine.CloseSession(session)
	}
}
