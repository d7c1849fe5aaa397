package agent

import (
	"fmt"
	"strings"

	"codesmith/pkg/action"
)

// actionInstructions describes the in-band action protocol to the model.
// The grammar markers here must match the ones the accumulator scans for.
func actionInstructions() string {
	var b strings.Builder

	b.WriteString("## Workspace actions\n\n")
	b.WriteString("You can modify the user's project workspace by embedding action blocks in your reply. ")
	b.WriteString(fmt.Sprintf("Each block is a single JSON object wrapped in %s and %s markers:\n\n", action.OpenMarker, action.CloseMarker))
	b.WriteString(action.OpenMarker + "\n")
	b.WriteString(`{"id": "a1", "action": "create_file", "file_path": "src/index.js", "content": "..."}` + "\n")
	b.WriteString(action.CloseMarker + "\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Supported actions: create_file, write_file, read_file, list_files, run_command, create_directory, read_file_and_forward.\n")
	b.WriteString("- Give every block a unique short id (a1, a2, ...). An id is executed at most once; re-using one is a no-op.\n")
	b.WriteString("- Paths are relative to the project root. Never touch .git, node_modules, dist, .next or .cache.\n")
	b.WriteString("- Blocks execute in the order they appear. A later block may use files created by an earlier one.\n")
	b.WriteString(`- Set "immediate": true on at most ONE block per reply when you need its result before continuing. `)
	b.WriteString("Command output and read_file_and_forward results always come back to you automatically.\n")
	b.WriteString("- Text outside the markers is shown to the user; the blocks themselves are hidden from them.\n")

	return b.String()
}

// ComposeSystemPrompt joins the configured persona with the action protocol
// description. Exported for tests.
func ComposeSystemPrompt(base string) string {
	if base == "" {
		return actionInstructions()
	}
	return base + "\n\n" + actionInstructions()
}
