package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json 用於 package llm 內部的 JSON 處理，統一使用 json-iterator
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LLMUsage 定義通用的用量統計結構
type LLMUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	ThoughtsTokens   int    `json:"thoughts_tokens,omitempty"`
	CachedTokens     int    `json:"cached_tokens,omitempty"`
	StopReason       string `json:"stop_reason,omitempty"`
}

// LogUsage 印出統一格式的用量統計
func LogUsage(model string, usage *LLMUsage) {
	if usage == nil {
		return
	}
	slog.Info("Usage",
		"model", model,
		"prompt", usage.PromptTokens,
		"completion", usage.CompletionTokens,
		"total", usage.TotalTokens,
		"thoughts", usage.ThoughtsTokens,
		"stop_reason", usage.StopReason,
	)
}

// Options 是單次請求的生成參數，會覆蓋 Provider 設定檔的預設值
type Options struct {
	// Temperature 採樣多樣性；nil 表示使用 Provider 預設
	Temperature *float64 `json:"temperature,omitempty"`
	// MaxTokens 產生長度硬上限；0 表示使用 Provider 預設
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Tool 描述一個可以宣告給模型的工具（名稱、說明、JSON Schema 參數）
// 執行邏輯不在這裡；Gateway 只負責宣告與回傳 ToolCall
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	RequiredParameters() []string
}

// ToolDeclarations 把 Tool 列表轉成統一的宣告格式
// 各 Provider 再從這個中間格式轉成自己的 SDK 型別
func ToolDeclarations(tools []Tool) []map[string]any {
	var decls []map[string]any
	for _, t := range tools {
		decls = append(decls, map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters": map[string]any{
				"type":       "object",
				"properties": t.Parameters(),
				"required":   t.RequiredParameters(),
			},
		})
	}
	return decls
}

// LLMClient 通用 LLM 客戶端介面
type LLMClient interface {
	// Provider 回傳後端名稱 ("gemini", "openai", "ollama")
	Provider() string

	// StreamChat 流式對話，返回 StreamChunk channel
	// messages: 對話歷史（使用 llm.Message 結構）
	// opts: 單次請求的生成參數（可為 nil）
	// tools: 宣告給模型的工具（可為 nil）
	// 返回值: StreamChunk channel（增量式內容 + 最終用量統計）
	StreamChat(ctx context.Context, messages []Message, opts *Options, tools []Tool) (<-chan StreamChunk, error)

	// IsTransientError 判斷是否為暫時性錯誤 (如 503, Rate Limit)
	IsTransientError(err error) bool

	// SetDebug 開關原始 chunk 落盤
	SetDebug(enabled bool)
}

//----------------------------------------------------------------
// Complete - 非串流單次補全
//----------------------------------------------------------------

// CompletionResult is the non-streaming response envelope. ToolCall carries
// only the FIRST structured tool call found in the response; when the model
// emits several, the rest are logged and not surfaced — callers must treat a
// turn as having at most one actionable structured call.
type CompletionResult struct {
	Text     string
	ToolCall *ToolCall
	Usage    *LLMUsage
}

// Complete drains a single streaming call and returns the aggregate result.
// Backend failures come back as a categorized error, never a panic.
func Complete(ctx context.Context, client LLMClient, messages []Message, opts *Options, tools []Tool) (*CompletionResult, error) {
	chunkCh, err := client.StreamChat(ctx, messages, opts, tools)
	if err != nil {
		return nil, NewCategorizedError(CategoryOf(err), err)
	}

	res := &CompletionResult{}
	var sb strings.Builder
	dropped := 0

	for chunk := range chunkCh {
		if chunk.RawError != nil {
			return nil, NewCategorizedError(CategoryOf(chunk.RawError), chunk.RawError)
		}
		for _, b := range chunk.ContentBlocks {
			if b.Type == BlockTypeText {
				sb.WriteString(b.Text)
			}
		}
		for i := range chunk.ToolCalls {
			if res.ToolCall == nil {
				tc := chunk.ToolCalls[i]
				res.ToolCall = &tc
			} else {
				dropped++
			}
		}
		if chunk.Usage != nil {
			res.Usage = chunk.Usage
		}
	}

	if dropped > 0 {
		slog.Warn("Multiple tool calls in one completion, only the first is surfaced", "dropped", dropped)
	}

	res.Text = sb.String()
	if res.Text == "" && res.ToolCall == nil {
		return nil, NewCategorizedError(CategoryNoContent, fmt.Errorf("model returned no content"))
	}
	return res, nil
}

//----------------------------------------------------------------
// FallbackClient - 多個 Client 分級嘗試
//----------------------------------------------------------------

// FallbackClient 支援多個 Client 分級嘗試
type FallbackClient struct {
	Clients    []LLMClient
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) Provider() string {
	if len(f.Clients) > 0 {
		return f.Clients[0].Provider()
	}
	return "fallback"
}

func (f *FallbackClient) SetDebug(enabled bool) {
	for _, c := range f.Clients {
		c.SetDebug(enabled)
	}
}

func (f *FallbackClient) StreamChat(ctx context.Context, messages []Message, opts *Options, tools []Tool) (<-chan StreamChunk, error) {
	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			slog.Warn("Previous provider failed, trying fallback provider", "index", i+1)
		}

		// 使用配置的重試次數，若為 0 則至少執行 1 次
		maxRetries := f.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 1
		}

		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				slog.Info("Retrying provider", "index", i+1, "attempt", fmt.Sprintf("%d/%d", retry, maxRetries))
				// 稍微等待一下再重試
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}

			ch, err := client.StreamChat(ctx, messages, opts, tools)
			if err == nil {
				return ch, nil
			}

			lastErr = err

			if client.IsTransientError(err) && retry < maxRetries {
				slog.Warn("Provider failed with transient error, retrying", "index", i+1, "error", err)
				continue
			}

			// 非暫時性錯誤，或者已達最大重試次數
			slog.Error("Provider failed", "index", i+1, "error", err)
			break
		}
	}
	return nil, fmt.Errorf("all fallback providers failed. Last error: %w", lastErr)
}

// IsTransientError 實作 LLMClient 介面
// FallbackClient 是一個容器，它的錯誤通常意味著所有 Child 都失敗了
// 因此視為非暫時性 (除非我們想對整個 Fallback Group 進行外部重試)
func (f *FallbackClient) IsTransientError(err error) bool {
	return false
}
