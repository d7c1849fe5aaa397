package api

import (
	"context"

	"codesmith/pkg/llm"
)

// Tool defines the structural interface for any capability surfaced to the
// model through native function calling. It includes metadata for the tool
// declaration (JSON Schema) and the execution logic itself.
type Tool interface {
	llm.Tool
	// Execute performs the actual tool logic using the provided argument map.
	Execute(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// ToolResult encapsulates the outcome of a tool execution.
type ToolResult struct {
	Content []ContentBlock `json:"content"`           // Ordered blocks of result data
	Details map[string]any `json:"details,omitempty"` // Arbitrary technical metadata
}

// ContentBlock is an atomic data unit within a ToolResult. It is converted
// into llm.ContentBlocks by the engine before entering the history.
type ContentBlock struct {
	Type string `json:"type"` // Data format, currently always "text"
	Text string `json:"text,omitempty"`
}

// ToolRegistry defines the interface for managing and accessing tools.
type ToolRegistry interface {
	Register(tool Tool)
	Unregister(name string)
	Get(name string) (Tool, bool)
	GetAll() []Tool
}
