package api

import (
	"context"
)

// AgentEngine defines the interface for the core reasoning engine.
type AgentEngine interface {
	HandleMessage(ctx context.Context, msg *UnifiedMessage)
	SetResponder(responder MessageResponder)
	RegisterTool(tools ...Tool)
	CloseSession(session SessionContext)
}
