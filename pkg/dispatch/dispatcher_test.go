package dispatch

import (
	"context"
	"fmt"
	"testing"

	"codesmith/pkg/action"
	"codesmith/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSandbox records every effect so tests can assert on at-most-once
// semantics without touching the filesystem.
type fakeSandbox struct {
	files    map[string]string
	dirs     []string
	commands []string
	runOut   string
	runCode  int
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{files: map[string]string{}}
}

func (f *fakeSandbox) WriteFile(ctx context.Context, path, content string) error {
	f.files[path] = content
	return nil
}

func (f *fakeSandbox) ReadFile(ctx context.Context, path string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}

func (f *fakeSandbox) Mkdir(ctx context.Context, path string, recursive bool) error {
	f.dirs = append(f.dirs, path)
	return nil
}

func (f *fakeSandbox) ReadDir(ctx context.Context, path string) ([]string, error) {
	var names []string
	for p := range f.files {
		names = append(names, p)
	}
	return names, nil
}

func (f *fakeSandbox) Run(ctx context.Context, command string) (string, int, error) {
	f.commands = append(f.commands, command)
	return f.runOut, f.runCode, nil
}

func (f *fakeSandbox) Close() error { return nil }

func TestDispatchWriteFile(t *testing.T) {
	sb := newFakeSandbox()
	d := New(sb, action.NewLedger())

	res, executed := d.Dispatch(context.Background(), api.Action{
		ID: "a1", Kind: api.KindCreateFile, FilePath: "src/index.js", Content: "let x = 1",
	})
	require.True(t, executed)
	assert.True(t, res.Success)
	assert.Equal(t, "let x = 1", sb.files["src/index.js"])
}

func TestDispatchAtMostOnce(t *testing.T) {
	sb := newFakeSandbox()
	ledger := action.NewLedger()
	d := New(sb, ledger)

	act := api.Action{ID: "a1", Kind: api.KindWriteFile, FilePath: "a.txt", Content: "v1"}
	_, executed := d.Dispatch(context.Background(), act)
	require.True(t, executed)

	// 模型在 re-entry 後重複輸出同一個區塊
	act.Content = "v2"
	res, executed := d.Dispatch(context.Background(), act)
	assert.False(t, executed)
	assert.True(t, res.Success, "replay returns the recorded result")
	assert.Equal(t, "v1", sb.files["a.txt"], "replay causes no side effect")
}

func TestDispatchRunCommandMarksOutput(t *testing.T) {
	sb := newFakeSandbox()
	sb.runOut = "3 passing\n"
	d := New(sb, action.NewLedger())

	res, executed := d.Dispatch(context.Background(), api.Action{ID: "a1", Kind: api.KindRunCommand, Command: "npm test"})
	require.True(t, executed)
	assert.True(t, res.Success)
	assert.True(t, res.IsCommandOutput)
	assert.Equal(t, "3 passing\n", res.Data)
}

func TestDispatchRunCommandNonZeroExit(t *testing.T) {
	sb := newFakeSandbox()
	sb.runOut = "1 failing\n"
	sb.runCode = 1
	d := New(sb, action.NewLedger())

	res, executed := d.Dispatch(context.Background(), api.Action{ID: "a1", Kind: api.KindRunCommand, Command: "npm test"})
	require.True(t, executed)
	assert.False(t, res.Success)
	assert.True(t, res.IsCommandOutput, "failing output still goes back to the model")
	assert.Equal(t, "1 failing\n", res.Data)
}

func TestDispatchRejectsEscapeBeforeSandbox(t *testing.T) {
	sb := newFakeSandbox()
	ledger := action.NewLedger()
	d := New(sb, ledger)

	res, executed := d.Dispatch(context.Background(), api.Action{
		ID: "a1", Kind: api.KindReadFile, FilePath: "../../etc/passwd",
	})
	assert.True(t, executed)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "access denied")
	assert.Empty(t, sb.commands)

	// 驗證失敗也要記進帳本，同一個 ID 不會再試一次
	st, ok := ledger.State("a1")
	require.True(t, ok)
	assert.Equal(t, action.StateError, st)
}

func TestDispatchRejectsReservedDirWrite(t *testing.T) {
	sb := newFakeSandbox()
	d := New(sb, action.NewLedger())

	res, _ := d.Dispatch(context.Background(), api.Action{
		ID: "a1", Kind: api.KindWriteFile, FilePath: "node_modules/evil.js", Content: "x",
	})
	assert.False(t, res.Success)
	assert.Empty(t, sb.files)
}

func TestDispatchRejectsBlockedCommand(t *testing.T) {
	sb := newFakeSandbox()
	d := New(sb, action.NewLedger())

	res, _ := d.Dispatch(context.Background(), api.Action{ID: "a1", Kind: api.KindRunCommand, Command: "rm -rf /"})
	assert.False(t, res.Success)
	assert.Empty(t, sb.commands)
}

func TestDispatchForwardedRead(t *testing.T) {
	sb := newFakeSandbox()
	sb.files["readme.md"] = "# hello"
	d := New(sb, action.NewLedger())

	res, _ := d.Dispatch(context.Background(), api.Action{ID: "a1", Kind: api.KindReadFileAndForward, FilePath: "readme.md"})
	assert.True(t, res.Success)
	assert.Equal(t, "# hello", res.Data)
}
