package tools

import (
	"context"
	"fmt"

	"codesmith/pkg/api"
	"codesmith/pkg/dispatch"

	"github.com/google/uuid"
)

// WorkspaceTool surfaces the action dispatcher as a single native
// function-calling tool. Used when the backend supports structured tool
// calls; the textual action protocol stays the default for backends that
// stream plain text only.
type WorkspaceTool struct {
	dispatcher *dispatch.Dispatcher
}

// NewWorkspaceTool 建立包裝 dispatcher 的工具
func NewWorkspaceTool(d *dispatch.Dispatcher) *WorkspaceTool {
	return &WorkspaceTool{dispatcher: d}
}

func (t *WorkspaceTool) Name() string {
	return "workspace_control"
}

func (t *WorkspaceTool) Description() string {
	return "操作使用者的專案工作區：建立/讀寫檔案、列出目錄、執行指令。" +
		" Supported actions: create_file, write_file, read_file, list_files, run_command, create_directory"
}

func (t *WorkspaceTool) Parameters() map[string]any {
	return map[string]any{
		"action": map[string]any{
			"type":        "string",
			"description": "要執行的動作名稱，例如 'create_file' 或 'run_command'",
		},
		"file_path": map[string]any{
			"type":        "string",
			"description": "檔案的相對路徑 (create_file/write_file/read_file 用)",
		},
		"content": map[string]any{
			"type":        "string",
			"description": "要寫入的完整檔案內容",
		},
		"command": map[string]any{
			"type":        "string",
			"description": "要執行的 shell 指令 (run_command 用)",
		},
		"directory": map[string]any{
			"type":        "string",
			"description": "目錄的相對路徑 (list_files/create_directory 用)",
		},
	}
}

func (t *WorkspaceTool) RequiredParameters() []string {
	return []string{"action"}
}

func (t *WorkspaceTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	actionName, ok := args["action"].(string)
	if !ok {
		return nil, fmt.Errorf("missing string parameter 'action'")
	}

	str := func(key string) string {
		v, _ := args[key].(string)
		return v
	}

	// 原生 tool call 沒有模型提供的 id，由這裡補上
	act := api.Action{
		ID:        uuid.New().String(),
		Kind:      api.ActionKind(actionName),
		FilePath:  str("file_path"),
		Content:   str("content"),
		Command:   str("command"),
		Directory: str("directory"),
	}

	res, _ := t.dispatcher.Dispatch(ctx, act)

	text := res.Message
	if s, ok := res.Data.(string); ok && s != "" {
		text += "\n" + s
	}
	if !res.Success {
		text = "Error: " + text
	}

	return &api.ToolResult{
		Content: []api.ContentBlock{{Type: "text", Text: text}},
		Details: map[string]any{
			"action":            actionName,
			"success":           res.Success,
			"is_command_output": res.IsCommandOutput,
		},
	}, nil
}
