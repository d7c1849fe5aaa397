package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"codesmith/pkg/action"
	"codesmith/pkg/api"
	"codesmith/pkg/config"
	"codesmith/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingResponder captures everything the engine sends outward.
type recordingResponder struct {
	mu      sync.Mutex
	replies []string
	signals []string
	streamed strings.Builder
}

func (r *recordingResponder) SendReply(session api.SessionContext, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, content)
	return nil
}

func (r *recordingResponder) StreamReply(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	for b := range blocks {
		if b.Type == llm.BlockTypeText {
			r.mu.Lock()
			r.streamed.WriteString(b.Text)
			r.mu.Unlock()
		}
	}
	return nil
}

func (r *recordingResponder) SendSignal(session api.SessionContext, signal string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signal)
	return nil
}

func (r *recordingResponder) displayed() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamed.String()
}

// memSandbox is an in-memory workspace for engine tests.
type memSandbox struct {
	mu       sync.Mutex
	files    map[string]string
	commands []string
	runOut   string
	runCode  int
}

func newMemSandbox() *memSandbox { return &memSandbox{files: map[string]string{}} }

func (s *memSandbox) WriteFile(ctx context.Context, path, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = content
	return nil
}

func (s *memSandbox) ReadFile(ctx context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.files[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return c, nil
}

func (s *memSandbox) Mkdir(ctx context.Context, path string, recursive bool) error { return nil }

func (s *memSandbox) ReadDir(ctx context.Context, path string) ([]string, error) { return nil, nil }

func (s *memSandbox) Run(ctx context.Context, command string) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
	return s.runOut, s.runCode, nil
}

func (s *memSandbox) Close() error { return nil }

func testSystemConfig() *config.SystemConfig {
	cfg := config.DefaultSystemConfig()
	cfg.RetryDelayMs = 1
	cfg.ThinkingInitDelayMs = 1000
	return cfg
}

func newTestEngine(t *testing.T, script llm.ScriptFunc, sb api.Sandbox) (*AgentEngine, *recordingResponder, *SessionManager) {
	t.Helper()

	sessions := NewSessionManager(func(sc api.SessionContext) (api.Sandbox, error) {
		return sb, nil
	})
	engine := NewAgentEngine(
		llm.NewScriptedClient(script),
		&config.Config{SystemPrompt: "You build web apps."},
		testSystemConfig(),
		sessions,
	)
	responder := &recordingResponder{}
	engine.SetResponder(responder)
	return engine, responder, sessions
}

func testMessage(content string) *api.UnifiedMessage {
	return &api.UnifiedMessage{
		Session: api.SessionContext{ChannelID: "web", UserID: "u1", ChatID: "u1"},
		Content: content,
	}
}

func encodeBlock(t *testing.T, act api.Action) string {
	t.Helper()
	s, err := action.Encode(act)
	require.NoError(t, err)
	return s
}

func TestEngineDispatchesActionsAndHidesBlocks(t *testing.T) {
	sb := newMemSandbox()
	block := api.Action{ID: "a1", Kind: api.KindCreateFile, FilePath: "index.html", Content: "<html></html>"}

	engine, responder, sessions := newTestEngine(t, func(call int, _ []llm.Message) ([]llm.StreamChunk, error) {
		require.Equal(t, 1, call)
		return []llm.StreamChunk{
			llm.NewTextChunk("Creating your page. "),
			llm.NewTextChunk(encodeBlock(t, block)),
			llm.NewTextChunk(" All done!"),
			llm.NewFinalChunk(llm.StopReasonStop, &llm.LLMUsage{TotalTokens: 10, StopReason: llm.StopReasonStop}),
		}, nil
	}, sb)

	engine.HandleMessage(context.Background(), testMessage("make me a page"))

	assert.Equal(t, "<html></html>", sb.files["index.html"])
	assert.Equal(t, "Creating your page.  All done!", responder.displayed(), "markers never reach the display")

	sess, ok := sessions.Peek(api.SessionContext{ChannelID: "web", ChatID: "u1"})
	require.True(t, ok)

	// 原始文字（含標記）進歷史；動作結果以隱藏訊息存在
	msgs := sess.History.GetMessages()
	var hidden int
	var rawAssistant string
	for _, m := range msgs {
		if m.Hidden {
			hidden++
		}
		if m.Role == llm.RoleAssistant {
			rawAssistant = m.GetTextContent()
		}
	}
	assert.Equal(t, 1, hidden)
	assert.Contains(t, rawAssistant, action.OpenMarker)
	assert.Less(t, len(sess.History.Visible()), len(msgs))

	st, ok := sess.Ledger.State("a1")
	require.True(t, ok)
	assert.Equal(t, action.StateSuccess, st)
}

func TestEngineImmediateTriggersOneReentry(t *testing.T) {
	sb := newMemSandbox()
	client := llm.NewScriptedClient(nil)

	b1 := api.Action{ID: "a1", Kind: api.KindCreateDirectory, Directory: "src"}
	b2 := api.Action{ID: "a2", Kind: api.KindReadFileAndForward, FilePath: "notes.txt", Immediate: true}
	sb.files = map[string]string{"notes.txt": "plan"}

	client.Script = func(call int, messages []llm.Message) ([]llm.StreamChunk, error) {
		switch call {
		case 1:
			return []llm.StreamChunk{
				llm.NewTextChunk("Let me check. " + encodeBlock(t, b1) + encodeBlock(t, b2)),
				llm.NewFinalChunk(llm.StopReasonStop, nil),
			}, nil
		case 2:
			// Re-entry context must contain the forwarded result
			var sawResult bool
			for _, m := range messages {
				if m.Hidden && strings.Contains(m.GetTextContent(), "plan") {
					sawResult = true
				}
			}
			require.True(t, sawResult, "re-entry must see the action result")
			return []llm.StreamChunk{
				llm.NewTextChunk("Your notes say: plan."),
				llm.NewFinalChunk(llm.StopReasonStop, nil),
			}, nil
		}
		t.Fatalf("unexpected call %d", call)
		return nil, nil
	}

	sessions := NewSessionManager(func(sc api.SessionContext) (api.Sandbox, error) { return sb, nil })
	engine := NewAgentEngine(client, &config.Config{}, testSystemConfig(), sessions)
	responder := &recordingResponder{}
	engine.SetResponder(responder)

	engine.HandleMessage(context.Background(), testMessage("what do my notes say?"))

	assert.Equal(t, 2, client.Calls(), "exactly one re-entry")
	assert.Contains(t, responder.displayed(), "Your notes say: plan.")
}

func TestEngineCommandOutputTriggersReentry(t *testing.T) {
	sb := newMemSandbox()
	sb.runOut = "2 passing\n"

	engine, _, _ := newTestEngine(t, func(call int, _ []llm.Message) ([]llm.StreamChunk, error) {
		if call == 1 {
			return []llm.StreamChunk{
				llm.NewTextChunk(encodeBlock(t, api.Action{ID: "a1", Kind: api.KindRunCommand, Command: "npm test"})),
				llm.NewFinalChunk(llm.StopReasonStop, nil),
			}, nil
		}
		return []llm.StreamChunk{
			llm.NewTextChunk("Tests pass."),
			llm.NewFinalChunk(llm.StopReasonStop, nil),
		}, nil
	}, sb)

	engine.HandleMessage(context.Background(), testMessage("run the tests"))

	require.Len(t, sb.commands, 1)
	assert.Equal(t, "npm test", sb.commands[0])
}

func TestEngineReplayedActionIsNoop(t *testing.T) {
	sb := newMemSandbox()

	first := api.Action{ID: "a1", Kind: api.KindWriteFile, FilePath: "a.txt", Content: "v1", Immediate: true}
	replay := api.Action{ID: "a1", Kind: api.KindWriteFile, FilePath: "a.txt", Content: "v2"}

	client := llm.NewScriptedClient(func(call int, _ []llm.Message) ([]llm.StreamChunk, error) {
		switch call {
		case 1:
			return []llm.StreamChunk{
				llm.NewTextChunk(encodeBlock(t, first)),
				llm.NewFinalChunk(llm.StopReasonStop, nil),
			}, nil
		default:
			// 模型在 re-entry 時把同一個區塊又吐了一次
			return []llm.StreamChunk{
				llm.NewTextChunk("Done. " + encodeBlock(t, replay)),
				llm.NewFinalChunk(llm.StopReasonStop, nil),
			}, nil
		}
	})

	sessions := NewSessionManager(func(sc api.SessionContext) (api.Sandbox, error) { return sb, nil })
	engine := NewAgentEngine(client, &config.Config{}, testSystemConfig(), sessions)
	engine.SetResponder(&recordingResponder{})

	engine.HandleMessage(context.Background(), testMessage("write the file"))

	assert.Equal(t, "v1", sb.files["a.txt"], "replay must not overwrite")
	assert.Equal(t, 2, client.Calls(), "a replayed action must not trigger another re-entry")
}

func TestEngineEmptyResponseGetsCannedReply(t *testing.T) {
	sb := newMemSandbox()
	engine, responder, _ := newTestEngine(t, func(call int, _ []llm.Message) ([]llm.StreamChunk, error) {
		return []llm.StreamChunk{llm.NewFinalChunk(llm.StopReasonStop, nil)}, nil
	}, sb)

	engine.HandleMessage(context.Background(), testMessage("hello?"))

	require.NotEmpty(t, responder.replies)
	assert.Equal(t, llm.CannedReply(llm.CategoryNoContent), responder.replies[len(responder.replies)-1])
}

func TestEngineMarkerSplitAcrossChunksStaysHidden(t *testing.T) {
	sb := newMemSandbox()
	block := encodeBlock(t, api.Action{ID: "a1", Kind: api.KindCreateFile, FilePath: "x.js", Content: "1"})

	engine, responder, _ := newTestEngine(t, func(call int, _ []llm.Message) ([]llm.StreamChunk, error) {
		if call > 1 {
			return []llm.StreamChunk{llm.NewTextChunk("ok"), llm.NewFinalChunk(llm.StopReasonStop, nil)}, nil
		}
		var chunks []llm.StreamChunk
		// 每三個字元切一刀，把標記硬生生切開
		text := "Sure thing. " + block + " Finished."
		for i := 0; i < len(text); i += 3 {
			end := i + 3
			if end > len(text) {
				end = len(text)
			}
			chunks = append(chunks, llm.NewTextChunk(text[i:end]))
		}
		return append(chunks, llm.NewFinalChunk(llm.StopReasonStop, nil)), nil
	}, sb)

	engine.HandleMessage(context.Background(), testMessage("go"))

	assert.Equal(t, "Sure thing.  Finished.", responder.displayed())
	assert.Equal(t, "1", sb.files["x.js"])
}

// stalledResponder 模擬前端斷線：StreamReply 一個區塊都不讀就返回
type stalledResponder struct {
	recordingResponder
}

func (r *stalledResponder) StreamReply(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	return nil
}

func TestEngineSurvivesStalledDisplay(t *testing.T) {
	sb := newMemSandbox()

	sessions := NewSessionManager(func(sc api.SessionContext) (api.Sandbox, error) { return sb, nil })
	cfg := testSystemConfig()
	cfg.InternalChannelBuffer = 1

	engine := NewAgentEngine(
		llm.NewScriptedClient(func(call int, _ []llm.Message) ([]llm.StreamChunk, error) {
			var chunks []llm.StreamChunk
			for i := 0; i < 32; i++ {
				chunks = append(chunks, llm.NewTextChunk("chunk "))
			}
			return append(chunks, llm.NewFinalChunk(llm.StopReasonStop, nil)), nil
		}),
		&config.Config{},
		cfg,
		sessions,
	)
	responder := &stalledResponder{}
	engine.SetResponder(responder)

	done := make(chan struct{})
	go func() {
		engine.HandleMessage(context.Background(), testMessage("hello"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("turn never finished after the display side stopped reading")
	}
}

// slowClient 在兩個 chunk 之間停頓，模擬模型卡住
type slowClient struct {
	pause time.Duration
}

func (s *slowClient) Provider() string               { return "slow" }
func (s *slowClient) IsTransientError(err error) bool { return false }
func (s *slowClient) SetDebug(enabled bool)           {}

func (s *slowClient) StreamChat(ctx context.Context, messages []llm.Message, opts *llm.Options, tools []llm.Tool) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		ch <- llm.NewTextChunk("Working on it")
		time.Sleep(s.pause)
		ch <- llm.NewTextChunk(", done.")
		ch <- llm.NewFinalChunk(llm.StopReasonStop, nil)
	}()
	return ch, nil
}

func TestEngineSignalsThinkingOnMidStreamStall(t *testing.T) {
	sb := newMemSandbox()

	sessions := NewSessionManager(func(sc api.SessionContext) (api.Sandbox, error) { return sb, nil })
	cfg := testSystemConfig()
	cfg.ThinkingTokenDelayMs = 20

	engine := NewAgentEngine(&slowClient{pause: 150 * time.Millisecond}, &config.Config{}, cfg, sessions)
	responder := &recordingResponder{}
	engine.SetResponder(responder)

	engine.HandleMessage(context.Background(), testMessage("build it"))

	assert.Equal(t, "Working on it, done.", responder.displayed())

	responder.mu.Lock()
	defer responder.mu.Unlock()
	assert.Contains(t, responder.signals, "thinking", "a mid-stream stall must light the thinking indicator")
}
