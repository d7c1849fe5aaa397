package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"codesmith/pkg/action"
	"codesmith/pkg/api"
	"codesmith/pkg/dispatch"
	"codesmith/pkg/llm"
	"codesmith/pkg/tools"
)

// SandboxFactory creates the workspace executor for a new session. The
// gateway decides whether a session gets a local or a remote sandbox.
type SandboxFactory func(session api.SessionContext) (api.Sandbox, error)

// Session bundles everything one conversation owns: its history, its action
// ledger, its sandbox and the dispatcher bound to both. turnMu serializes
// turns so re-entry and a fresh user message never interleave.
type Session struct {
	Key        string
	Context    api.SessionContext
	History    *llm.ChatHistory
	Ledger     *action.Ledger
	Sandbox    api.Sandbox
	Dispatcher *dispatch.Dispatcher

	// Tools holds the session-scoped native tools. The workspace tool is
	// bound to this session's dispatcher, so it cannot live in a global
	// registry shared across conversations.
	Tools api.ToolRegistry

	turnMu sync.Mutex

	cancelMu   sync.Mutex
	turnCancel context.CancelFunc
}

// Lock acquires the session's turn lock. A second message for the same
// conversation queues behind the running turn instead of interleaving.
func (s *Session) Lock()   { s.turnMu.Lock() }
func (s *Session) Unlock() { s.turnMu.Unlock() }

// BindTurn records the cancel func of the running turn. Pass nil when the
// turn finishes.
func (s *Session) BindTurn(cancel context.CancelFunc) {
	s.cancelMu.Lock()
	s.turnCancel = cancel
	s.cancelMu.Unlock()
}

// CancelTurn aborts the running turn, if any. 關 session 時呼叫：
// 不取消的話串流回合會抱著 turn lock 等到 LLM 逾時
func (s *Session) CancelTurn() {
	s.cancelMu.Lock()
	cancel := s.turnCancel
	s.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SessionManager creates sessions on demand and tears them down on
// disconnect. State never outlives the manager; there is no persistence.
type SessionManager struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	newSandbox SandboxFactory
}

func NewSessionManager(factory SandboxFactory) *SessionManager {
	return &SessionManager{
		sessions:   make(map[string]*Session),
		newSandbox: factory,
	}
}

// Get returns the session for sc, creating it (and its sandbox) on first use.
func (m *SessionManager) Get(sc api.SessionContext) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sc.SessionKey()
	if s, ok := m.sessions[key]; ok {
		return s, nil
	}

	sb, err := m.newSandbox(sc)
	if err != nil {
		return nil, fmt.Errorf("create sandbox for session %s: %w", key, err)
	}

	ledger := action.NewLedger()
	dispatcher := dispatch.New(sb, ledger)
	sessionTools := tools.NewToolRegistry()
	sessionTools.Register(tools.NewWorkspaceTool(dispatcher))

	s := &Session{
		Key:        key,
		Context:    sc,
		History:    llm.NewChatHistory(),
		Ledger:     ledger,
		Sandbox:    sb,
		Dispatcher: dispatcher,
		Tools:      sessionTools,
	}
	m.sessions[key] = s

	slog.Info("🆕 Session created", "session", key, "user", sc.UserID)
	return s, nil
}

// Peek returns an existing session without creating one.
func (m *SessionManager) Peek(sc api.SessionContext) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sc.SessionKey()]
	return s, ok
}

// Close releases one session's resources. Safe to call for unknown sessions.
func (m *SessionManager) Close(sc api.SessionContext) {
	m.mu.Lock()
	key := sc.SessionKey()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.CancelTurn()
	if err := s.Sandbox.Close(); err != nil {
		slog.Warn("Failed to close session sandbox", "session", key, "error", err)
	}
	slog.Info("🧹 Session closed", "session", key)
}

// CloseAll tears down every live session, used during shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for key, s := range sessions {
		s.CancelTurn()
		if err := s.Sandbox.Close(); err != nil {
			slog.Warn("Failed to close session sandbox", "session", key, "error", err)
		}
	}
}

// Len reports the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
