package api

import "fmt"

// ActionKind names one of the effect operations the model may request
// against the workspace sandbox.
type ActionKind string

const (
	KindCreateFile         ActionKind = "create_file"
	KindWriteFile          ActionKind = "write_file"
	KindReadFile           ActionKind = "read_file"
	KindListFiles          ActionKind = "list_files"
	KindRunCommand         ActionKind = "run_command"
	KindCreateDirectory    ActionKind = "create_directory"
	KindReadFileAndForward ActionKind = "read_file_and_forward"
)

// Action 代表模型請求的一個離散副作用（建檔、寫檔、執行指令等）
// ID 由模型提供，用於去重；同一個 ID 只會被執行一次
type Action struct {
	ID        string     `json:"id"`
	Kind      ActionKind `json:"action"`
	FilePath  string     `json:"file_path,omitempty"`
	Content   string     `json:"content,omitempty"`
	Command   string     `json:"command,omitempty"`
	Directory string     `json:"directory,omitempty"`

	// Immediate signals that after this action resolves, the engine should
	// re-enter the model with the result instead of waiting for user input.
	// The model is instructed to set this on at most one action per turn.
	Immediate bool `json:"immediate,omitempty"`
}

// ActionResult is the normalized outcome envelope produced by the dispatcher.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`

	// IsCommandOutput marks terminal command output. Such results always
	// trigger conversational re-entry regardless of the Immediate flag.
	IsCommandOutput bool `json:"is_command_output,omitempty"`
}

// Validate checks that all fields required for the action's kind are present.
func (a Action) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("action missing required field 'id'")
	}
	switch a.Kind {
	case KindCreateFile, KindReadFile, KindReadFileAndForward:
		if a.FilePath == "" {
			return fmt.Errorf("action %q requires field 'file_path'", a.Kind)
		}
	case KindWriteFile:
		if a.FilePath == "" {
			return fmt.Errorf("action %q requires field 'file_path'", a.Kind)
		}
		if a.Content == "" {
			return fmt.Errorf("action %q requires field 'content'", a.Kind)
		}
	case KindListFiles, KindCreateDirectory:
		if a.Directory == "" {
			return fmt.Errorf("action %q requires field 'directory'", a.Kind)
		}
	case KindRunCommand:
		if a.Command == "" {
			return fmt.Errorf("action %q requires field 'command'", a.Kind)
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// ForcesReentry reports whether this action's kind inherently requires the
// model to see the result (read_file_and_forward exists solely to feed file
// content back into the conversation).
func (a Action) ForcesReentry() bool {
	return a.Kind == KindReadFileAndForward
}
