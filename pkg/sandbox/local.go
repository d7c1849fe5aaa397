package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Local executes workspace operations directly on the host filesystem,
// scoped to a root directory. Every path goes through ResolvePath so the
// model cannot reach outside the workspace.
type Local struct {
	root string
}

// NewLocal creates a local sandbox rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	return &Local{root: abs}, nil
}

func (l *Local) Root() string { return l.root }

func (l *Local) WriteFile(ctx context.Context, path, content string) error {
	abs, err := ResolvePath(l.root, path)
	if err != nil {
		return err
	}
	// 父目錄不存在時自動補上，模型常常忘記先建目錄
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

func (l *Local) ReadFile(ctx context.Context, path string) (string, error) {
	abs, err := ResolvePath(l.root, path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (l *Local) Mkdir(ctx context.Context, path string, recursive bool) error {
	abs, err := ResolvePath(l.root, path)
	if err != nil {
		return err
	}
	if recursive {
		return os.MkdirAll(abs, 0o755)
	}
	return os.Mkdir(abs, 0o755)
}

func (l *Local) ReadDir(ctx context.Context, path string) ([]string, error) {
	abs, err := ResolvePath(l.root, path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return names, nil
}

// Run executes command through /bin/sh -c with the workspace as working
// directory. A non-zero exit code is not an error, the combined output and
// code go back to the model as-is.
func (l *Local) Run(ctx context.Context, command string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = l.root

	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitErr.ExitCode(), nil
		}
		return string(out), -1, err
	}
	return string(out), 0, nil
}

func (l *Local) Close() error { return nil }
