// Package sandbox provides the workspace executors behind action dispatch:
// a local executor rooted in a directory on disk and a remote executor that
// forwards operations over an RPC channel to a browser-side runtime. Both
// enforce the same path containment and command deny rules.
package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrAccessDenied marks a path or command rejected before it ever reaches
// an executor. 錯誤訊息會原封不動回給模型，讓它自行修正
var ErrAccessDenied = errors.New("access denied")

// reservedDirs are workspace directories the model must never touch.
// 這些目錄由工具鏈管理，模型寫進去只會造成災難
var reservedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	".next":        true,
	".cache":       true,
}

// ResolvePath joins a model-supplied relative path onto root and verifies
// the result stays inside root. Absolute paths and ".." escapes are
// rejected.
func ResolvePath(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrAccessDenied)
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute path %q", ErrAccessDenied, rel)
	}

	abs := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if abs != cleanRoot && !strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path %q escapes workspace", ErrAccessDenied, rel)
	}
	return abs, nil
}

// CheckRelPath validates a model-supplied path without resolving it against
// a root: it must be relative and must not climb out of the workspace. Used
// by the dispatcher so remote sandboxes get the same protection as local
// ones.
func CheckRelPath(rel string) error {
	if rel == "" {
		return fmt.Errorf("%w: empty path", ErrAccessDenied)
	}
	if filepath.IsAbs(rel) {
		return fmt.Errorf("%w: absolute path %q", ErrAccessDenied, rel)
	}
	clean := filepath.ToSlash(filepath.Clean(rel))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: path %q escapes workspace", ErrAccessDenied, rel)
	}
	return nil
}

// CheckWritePath rejects writes targeting a reserved directory anywhere in
// the relative path.
func CheckWritePath(rel string) error {
	for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(rel)), "/") {
		if reservedDirs[part] {
			return fmt.Errorf("%w: %q is a reserved directory", ErrAccessDenied, part)
		}
	}
	return nil
}

// denyPatterns match shell commands that must never run, each targeting a
// class of destructive operation. Compiled once at package init.
var denyPatterns = []*regexp.Regexp{
	// rm -rf / 與各種旗標順序變體
	regexp.MustCompile(`\brm\s+(-[^\s]*)?-r[^\s]*f[^\s]*\s+/\s*$`),
	regexp.MustCompile(`\brm\s+(-[^\s]*)?-f[^\s]*r[^\s]*\s+/\s*$`),
	regexp.MustCompile(`\brm\s+-rf\s+/\b`),
	regexp.MustCompile(`\brm\s+-fr\s+/\b`),
	regexp.MustCompile(`\brm\s+-rf\s+\*`),

	// dd 可以覆寫任何東西
	regexp.MustCompile(`\bdd\s+if=`),

	// fork bomb
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`),

	// 電源控制
	regexp.MustCompile(`\b(shutdown|reboot|poweroff|halt|init\s+[06])\b`),

	// 格式化檔案系統
	regexp.MustCompile(`\b(mkfs|mkfs\.\w+)\b`),

	// 直接寫入區塊裝置
	regexp.MustCompile(`>\s*/dev/(sd|nvme|vd|hd|mmcblk)`),

	// 對根目錄遞迴改權限
	regexp.MustCompile(`\bchmod\s+-R\s+\d+\s+/\s*$`),
	regexp.MustCompile(`\bchown\s+-R\s+\S+\s+/\s*$`),
}

// CheckCommand rejects commands matching the deny list.
func CheckCommand(cmd string) error {
	for _, p := range denyPatterns {
		if p.MatchString(cmd) {
			return fmt.Errorf("%w: command matches blocked pattern", ErrAccessDenied)
		}
	}
	return nil
}
