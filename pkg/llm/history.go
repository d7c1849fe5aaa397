package llm

import (
	"sync"
)

// ChatHistory 管理對話歷史
// 核心不做跨 session 持久化；歷史只活在記憶體，session 結束即釋放
type ChatHistory struct {
	messages []Message
	mu       sync.RWMutex
}

// NewChatHistory 建立一個新的歷史管理員
func NewChatHistory() *ChatHistory {
	return &ChatHistory{
		messages: make([]Message, 0),
	}
}

// Add 加入一則新訊息
func (h *ChatHistory) Add(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msg)
}

// GetMessages 取得目前的對話歷史副本（含 Hidden 訊息，送給 Gateway 用）
func (h *ChatHistory) GetMessages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// 返回副本
	cp := make([]Message, len(h.messages))
	copy(cp, h.messages)
	return cp
}

// Visible 取得排除 Hidden 之後的歷史（給前端呈現用）
func (h *ChatHistory) Visible() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var cp []Message
	for _, m := range h.messages {
		if !m.Hidden {
			cp = append(cp, m)
		}
	}
	return cp
}

// EnsureSystemMessage 確保歷史開頭有系統提示詞；已存在時更新內容
func (h *ChatHistory) EnsureSystemMessage(prompt string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.messages) > 0 && h.messages[0].Role == RoleSystem {
		h.messages[0] = NewSystemMessage(prompt)
		return
	}
	h.messages = append([]Message{NewSystemMessage(prompt)}, h.messages...)
}

// Len 回傳目前訊息數量
func (h *ChatHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}
