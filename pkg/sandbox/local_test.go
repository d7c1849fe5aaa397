package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileLifecycle(t *testing.T) {
	sb, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// 寫入時父目錄自動建立
	require.NoError(t, sb.WriteFile(ctx, "src/app/main.js", "console.log('hi')"))

	got, err := sb.ReadFile(ctx, "src/app/main.js")
	require.NoError(t, err)
	assert.Equal(t, "console.log('hi')", got)

	names, err := sb.ReadDir(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, []string{"app/"}, names)

	_, err = sb.ReadFile(ctx, "missing.js")
	assert.Error(t, err)
}

func TestLocalMkdir(t *testing.T) {
	sb, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sb.Mkdir(ctx, "a/b/c", true))
	assert.Error(t, sb.Mkdir(ctx, "x/y/z", false), "non-recursive mkdir needs an existing parent")
}

func TestLocalRejectsEscape(t *testing.T) {
	sb, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, sb.WriteFile(ctx, "../../etc/passwd", "x"), ErrAccessDenied)
	_, err = sb.ReadFile(ctx, "/etc/passwd")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestLocalRunExitCode(t *testing.T) {
	sb, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	out, code, err := sb.Run(ctx, "echo hello")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hello\n", out)

	// 非零結束碼不是錯誤，輸出照樣回傳
	out, code, err = sb.Run(ctx, "echo oops >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "oops\n", out)
}

func TestLocalRunInWorkspaceDir(t *testing.T) {
	sb, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sb.WriteFile(ctx, "marker.txt", "x"))
	out, code, err := sb.Run(ctx, "ls")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "marker.txt")
}
