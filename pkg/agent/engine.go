package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"codesmith/pkg/action"
	"codesmith/pkg/api"
	"codesmith/pkg/config"
	"codesmith/pkg/llm"
	"codesmith/pkg/tools"
	"codesmith/pkg/utils"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AgentEngine manages the core reasoning loop: streaming the model's reply,
// extracting and dispatching embedded actions, and deciding when the model
// re-enters the conversation with action results.
// It implements api.AgentEngine.
type AgentEngine struct {
	client       llm.LLMClient
	responder    api.MessageResponder
	sysCfg       *config.SystemConfig
	appCfg       *config.Config
	toolRegistry api.ToolRegistry
	sessions     *SessionManager
	prompts      *llm.PromptCache
}

// NewAgentEngine initializes a new AgentEngine with config managers.
func NewAgentEngine(
	client llm.LLMClient,
	appCfg *config.Config,
	sysCfg *config.SystemConfig,
	sessions *SessionManager,
) *AgentEngine {
	return &AgentEngine{
		client:   client,
		appCfg:   appCfg,
		sysCfg:   sysCfg,
		sessions: sessions,
		prompts:  llm.NewPromptCache(),
	}
}

// SetResponder sets the messaging interface used by the engine to send replies.
func (e *AgentEngine) SetResponder(responder api.MessageResponder) {
	e.responder = responder
}

// SetToolRegistry sets the tool registry used by the engine for native tool execution.
func (e *AgentEngine) SetToolRegistry(tr api.ToolRegistry) {
	e.toolRegistry = tr
}

// RegisterTool adds one or more tools to the engine's registry.
// It automatically initializes the registry if it's currently nil.
func (e *AgentEngine) RegisterTool(tl ...api.Tool) {
	if e.toolRegistry == nil {
		e.toolRegistry = tools.NewToolRegistry()
	}
	for _, t := range tl {
		e.toolRegistry.Register(t)
	}
}

// CloseSession releases the session's sandbox and forgets its state.
func (e *AgentEngine) CloseSession(session api.SessionContext) {
	e.sessions.Close(session)
}

// HandleMessage is the primary entry point for processing a user message.
// Turns are serialized per conversation: a message arriving while a turn
// (or its re-entries) is running waits for it to finish.
func (e *AgentEngine) HandleMessage(ctx context.Context, msg *api.UnifiedMessage) {
	sess, err := e.sessions.Get(msg.Session)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to initialize session", "error", err)
		e.responder.SendReply(msg.Session, "❌ Failed to set up your workspace. Please reconnect and try again.")
		return
	}

	sess.Lock()
	defer sess.Unlock()

	// 把這一回合掛在 session 上：斷線關 session 時可以立刻取消
	// 還在跑的串流，不用等它自己逾時
	ctx, cancelTurn := context.WithCancel(ctx)
	sess.BindTurn(cancelTurn)
	defer func() {
		cancelTurn()
		sess.BindTurn(nil)
	}()

	// 時間戳前綴讓 debug 目錄可以按建立時間過期清除
	if msg.DebugID == "" {
		msg.DebugID = utils.GenerateTimestampPrefix() + utils.GenerateID()[:8]
	}
	ctx = context.WithValue(ctx, llm.DebugDirContextKey, msg.DebugID)

	e.ensureSystemPrompt(sess)

	if msg.Content == "" {
		return
	}

	userMsg := llm.Message{
		ID:        utils.GenerateID(),
		Role:      llm.RoleUser,
		Content:   []llm.ContentBlock{llm.NewTextBlock(msg.Content)},
		Timestamp: time.Now().Unix(),
	}
	sess.History.Add(userMsg)

	e.runTurn(ctx, msg, sess, 0)
}

// ensureSystemPrompt installs the composed system prompt (configured persona
// plus the action protocol description) at the head of the history. The
// composition is cached per base prompt so config hot reloads stay cheap.
func (e *AgentEngine) ensureSystemPrompt(sess *Session) {
	base := e.appCfg.SystemPrompt

	prompt, ok := e.prompts.Lookup(base)
	if !ok {
		prompt = ComposeSystemPrompt(base)
		e.prompts.Put(base, prompt)
	}

	sess.History.EnsureSystemMessage(prompt)
}

// runTurn executes one model turn at the given re-entry depth: stream the
// reply, dispatch any actions it carried, and re-enter when the policy says
// the model needs to see the results.
func (e *AgentEngine) runTurn(ctx context.Context, msg *api.UnifiedMessage, sess *Session, depth int) {
	sysCfg := e.sysCfg
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(sysCfg.LLMTimeoutMs)*time.Millisecond)
	defer cancel()

	// Native tools only when the backend mode asks for them.
	// Session 範圍的工具（workspace）優先於全域註冊的工具
	var availableTools []llm.Tool
	if sysCfg.EnableNativeTools && !msg.NoTools {
		if sess.Tools != nil {
			for _, t := range sess.Tools.GetAll() {
				availableTools = append(availableTools, t)
			}
		}
		if e.toolRegistry != nil {
			for _, t := range e.toolRegistry.GetAll() {
				availableTools = append(availableTools, t)
			}
		}
	}

	chunkCh, err := e.client.StreamChat(runCtx, sess.History.GetMessages(), nil, availableTools)
	if err != nil {
		cat := llm.CategoryOf(err)
		slog.ErrorContext(runCtx, "LLM stream init failed", "category", cat, "error", err)
		if e.attemptRetry(ctx, msg, string(cat), err) {
			e.runTurn(ctx, msg, sess, depth)
			return
		}
		e.responder.SendReply(msg.Session, llm.CannedReply(cat))
		return
	}

	blockCh := make(chan llm.ContentBlock, sysCfg.InternalChannelBuffer)
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := e.responder.StreamReply(msg.Session, blockCh); err != nil {
			slog.ErrorContext(runCtx, "Failed to stream reply", "error", err)
		}
	}()

	closed := false
	safeClose := func() {
		if !closed {
			close(blockCh)
			<-streamDone
			closed = true
		}
	}
	defer safeClose()

	// sendBlock 把區塊送往顯示端。顯示端收工（斷線、串流錯誤）或回合被
	// 取消時直接丟棄：收集迴圈不能被一個不再讀取的前端卡死
	sendBlock := func(b llm.ContentBlock) {
		select {
		case blockCh <- b:
		case <-streamDone:
		case <-runCtx.Done():
		}
	}

	acc := action.NewAccumulator()
	assistantMsg := llm.Message{
		ID:        utils.GenerateID(),
		Role:      llm.RoleAssistant,
		Content:   []llm.ContentBlock{},
		Timestamp: time.Now().Unix(),
	}
	var pending []api.Action
	var streamErr error

	initDelay := time.Duration(sysCfg.ThinkingInitDelayMs) * time.Millisecond
	stallDelay := time.Duration(sysCfg.ThinkingTokenDelayMs) * time.Millisecond
	thinkingTimer := time.NewTimer(initDelay)
	defer thinkingTimer.Stop()

	// resetStall 在每個 chunk 後重新武裝計時器：
	// 串流中間停頓超過 stallDelay 也要亮 thinking
	resetStall := func() {
		if !thinkingTimer.Stop() {
			select {
			case <-thinkingTimer.C:
			default:
			}
		}
		if stallDelay > 0 {
			thinkingTimer.Reset(stallDelay)
		}
	}

collect:
	for {
		select {
		case chunk, ok := <-chunkCh:
			if !ok {
				break collect
			}
			if chunk.RawError != nil {
				streamErr = chunk.RawError
				break collect
			}

			resetStall()

			if chunk.Error != "" {
				errBlock := llm.NewErrorBlock("\n❌ " + chunk.Error)
				assistantMsg.AddContentBlock(errBlock)
				sendBlock(errBlock)
			}

			for _, b := range chunk.ContentBlocks {
				switch b.Type {
				case llm.BlockTypeText:
					// 文字先過 accumulator：乾淨的部分推給前端，動作區塊截下來
					display, acts := acc.Feed(b.Text)
					if display != "" {
						sendBlock(llm.NewTextBlock(display))
					}
					for _, a := range acts {
						e.responder.SendSignal(msg.Session, "action:"+a.ID+":pending")
						pending = append(pending, a)
					}
				case llm.BlockTypeThinking:
					assistantMsg.AddContentBlock(b)
					if sysCfg.ShowThinking {
						sendBlock(b)
					}
				}
			}

			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, chunk.ToolCalls...)
			if chunk.Usage != nil {
				assistantMsg.Usage = chunk.Usage
			}
			if chunk.IsFinal {
				break collect
			}

		case <-thinkingTimer.C:
			e.responder.SendSignal(msg.Session, "thinking")
		}
	}

	if acc.Flush() {
		sendBlock(llm.NewErrorBlock("\n⚠️ The reply ended inside an action block; that part was discarded."))
	}
	// 歷史保存原始文字（含標記），模型在 re-entry 時要看得到自己輸出過的區塊
	if raw := acc.Raw(); raw != "" {
		assistantMsg.AddContentBlock(llm.NewTextBlock(raw))
	}
	safeClose()

	// 外層 context 被取消代表 session 已經在拆（斷線）。半成品不進歷史，
	// 也不再打後端
	if ctx.Err() != nil {
		slog.WarnContext(ctx, "Turn cancelled before completion, discarding partial reply", "session", sess.Key)
		return
	}

	if streamErr != nil {
		if e.attemptRetry(ctx, msg, "stream_error", streamErr) {
			e.runTurn(ctx, msg, sess, depth)
			return
		}
		e.responder.SendReply(msg.Session, llm.CannedReply(llm.CategoryOf(streamErr)))
		return
	}

	hasContent := acc.Raw() != "" || len(assistantMsg.ToolCalls) > 0 || assistantMsg.GetThinkingContent() != ""
	if !hasContent {
		if e.attemptRetry(ctx, msg, "no_content", nil) {
			e.runTurn(ctx, msg, sess, depth)
			return
		}
		e.responder.SendReply(msg.Session, llm.CannedReply(llm.CategoryNoContent))
		return
	}

	sess.History.Add(assistantMsg)

	// 同一回合同時出現原生 tool call 和文字動作區塊時，以結構化的為準
	if len(assistantMsg.ToolCalls) > 0 {
		if len(pending) > 0 {
			slog.Warn("Structured tool calls take precedence, ignoring textual action blocks", "ignored", len(pending))
		}
		for _, tc := range assistantMsg.ToolCalls {
			e.resolveAndCommitToolCall(ctx, tc, msg, sess)
		}
		if depth >= sysCfg.MaxReentries {
			slog.Warn("Re-entry limit reached", "session", sess.Key, "depth", depth)
			e.responder.SendReply(msg.Session, "⚠️ Too many automatic follow-ups in one turn, pausing for your input.")
			return
		}
		e.runTurn(ctx, msg, sess, depth+1)
		return
	}

	// 依出現順序派發文字動作區塊
	var done []action.Executed
	for _, act := range pending {
		e.responder.SendSignal(msg.Session, "action:"+act.ID+":in_progress")
		res, executed := sess.Dispatcher.Dispatch(ctx, act)

		state := "success"
		if !res.Success {
			state = "error"
		}
		e.responder.SendSignal(msg.Session, "action:"+act.ID+":"+state)

		if !executed {
			continue
		}
		done = append(done, action.Executed{Action: act, Result: res})

		// 每個執行過的動作都以隱藏訊息附到歷史，模型下次看得到結果
		payload, err := json.MarshalToString(res)
		if err != nil {
			payload = fmt.Sprintf(`{"success":false,"message":"failed to serialize result: %v"}`, err)
		}
		sess.History.Add(llm.NewHiddenToolMessage(act.ID, string(act.Kind), payload))
	}

	if action.DecideReentry(done) {
		if depth >= sysCfg.MaxReentries {
			slog.Warn("Re-entry limit reached", "session", sess.Key, "depth", depth)
			e.responder.SendReply(msg.Session, "⚠️ Too many automatic follow-ups in one turn, pausing for your input.")
			return
		}
		e.responder.SendSignal(msg.Session, "thinking")
		e.runTurn(ctx, msg, sess, depth+1)
	}
}

// resolveAndCommitToolCall is a resilience wrapper that ensures every native
// tool call results in a tool message being added to the history, even if
// the tool panics.
func (e *AgentEngine) resolveAndCommitToolCall(ctx context.Context, tc llm.ToolCall, msg *api.UnifiedMessage, sess *Session) {
	var resultText string

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Tool execution panicked", "tool", tc.Name, "error", r)
			resultText = "Error: Internal processing panic"
		}
		sess.History.Add(llm.NewHiddenToolMessage(tc.ID, tc.Name, resultText))
	}()

	resultText = e.executeToolCall(ctx, tc, sess)
}

// executeToolCall resolves, parses, and executes an individual native tool call.
func (e *AgentEngine) executeToolCall(ctx context.Context, tc llm.ToolCall, sess *Session) string {
	tool, ok := e.lookupTool(tc.Name, sess)
	if !ok {
		slog.ErrorContext(ctx, "Unknown tool call", "name", tc.Name)
		return fmt.Sprintf("Error: Unknown tool '%s'", tc.Name)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		slog.ErrorContext(ctx, "Failed to parse tool args", "error", err)
		return fmt.Sprintf("Error: Failed to parse tool arguments: %v", err)
	}

	slog.InfoContext(ctx, "Executing tool", "name", tc.Name, "args", args)
	res, err := tool.Execute(ctx, args)
	if err != nil {
		slog.ErrorContext(ctx, "Tool execution error", "name", tc.Name, "error", err)
		return fmt.Sprintf("Error: Tool execution failed: %v", err)
	}

	var text string
	for _, b := range res.Content {
		text += b.Text
	}
	if text == "" {
		text = "(No output)"
	}
	return text
}

// lookupTool resolves a tool name, preferring the session's own tools.
func (e *AgentEngine) lookupTool(name string, sess *Session) (api.Tool, bool) {
	if sess.Tools != nil {
		if t, ok := sess.Tools.Get(name); ok {
			return t, true
		}
	}
	if e.toolRegistry != nil {
		return e.toolRegistry.Get(name)
	}
	return nil, false
}

// attemptRetry checks if a retry is allowed and, if so, increments the counter.
func (e *AgentEngine) attemptRetry(ctx context.Context, msg *api.UnifiedMessage, reason string, streamErr error) bool {
	if streamErr != nil && !e.client.IsTransientError(streamErr) {
		slog.ErrorContext(ctx, "Non-transient error, skipping retry", "error", streamErr)
		return false
	}

	sysCfg := e.sysCfg
	maxRetries := sysCfg.MaxRetries
	if msg.RetryCount >= maxRetries {
		slog.ErrorContext(ctx, "Max retries reached", "max", maxRetries, "reason", reason, "error", streamErr)
		return false
	}

	msg.RetryCount++
	slog.WarnContext(ctx, "Abnormal response, retrying",
		"reason", reason,
		"error", streamErr,
		"retry", fmt.Sprintf("%d/%d", msg.RetryCount, maxRetries),
	)

	e.responder.SendSignal(msg.Session, "thinking")
	time.Sleep(time.Duration(sysCfg.RetryDelayMs) * time.Millisecond)
	return true
}
