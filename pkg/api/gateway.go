package api

import (
	"codesmith/pkg/llm"
)

// Channel defines the standardized lifecycle interface for presentation
// surfaces (currently the browser web app).
type Channel interface {
	ID() string
	Start(ctx ChannelContext) error
	Stop() error
	Send(session SessionContext, message string) error
	Stream(session SessionContext, blocks <-chan llm.ContentBlock) error
}

// SignalingChannel is an optional extension of the Channel interface for
// surfaces that support control signals (e.g., thinking indicator, action
// status badges).
type SignalingChannel interface {
	Channel
	// SendSignal transmits a control signal (e.g., "thinking",
	// "action:<id>:<state>") to the target session to change UI state.
	SendSignal(session SessionContext, signal string) error
}

// ChannelContext provides the interface for a Channel implementation to
// communicate back with the Gateway core.
type ChannelContext interface {
	MessageResponder
	OnMessage(channelID string, msg *UnifiedMessage)
	OnDisconnect(session SessionContext)
}

// MessageResponder defines the capabilities for sending responses back to a channel.
type MessageResponder interface {
	SendReply(session SessionContext, content string) error
	StreamReply(session SessionContext, blocks <-chan llm.ContentBlock) error
	SendSignal(session SessionContext, signal string) error
}

// UnifiedMessage defines the standardized internal data structure for all
// incoming messages, regardless of which channel produced them.
type UnifiedMessage struct {
	Session    SessionContext // Contextual information about the source (User, Chat)
	Content    string         // Standardized text content of the message
	Raw        any            // Optional storage for the original platform-specific payload
	RetryCount int            // Counter for automatic recovery attempts during stream failures
	NoTools    bool           // Virtual flag to disable native tool calling for specific requests
	DebugID    string         // Unique identifier for grouping one turn's logs
}

// SessionContext encapsulates identity and routing information for a specific
// conversation on a specific channel.
type SessionContext struct {
	ChannelID string // Identifier of the channel that originated the session (e.g., "web")
	UserID    string // Platform-specific unique identifier for the user
	ChatID    string // Identifier for the conversation (may match UserID)
	Username  string // Display name as provided by the platform
}

// SessionKey returns the stable identifier used to isolate per-session state.
func (s SessionContext) SessionKey() string {
	return s.ChannelID + "_" + s.ChatID
}

// MessageHandler defines the function signature for processing incoming messages.
type MessageHandler func(*UnifiedMessage)

// OnMessage allows MessageHandler to satisfy the MessageProcessor interface.
func (h MessageHandler) OnMessage(msg *UnifiedMessage) {
	h(msg)
}

// MessageProcessor defines the interface for components that can process
// incoming messages.
type MessageProcessor interface {
	OnMessage(msg *UnifiedMessage)
}

// ResponderAware defines an interface for components that require a
// MessageResponder to be injected.
type ResponderAware interface {
	SetResponder(responder MessageResponder)
}
