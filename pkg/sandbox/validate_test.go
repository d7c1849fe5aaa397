package sandbox

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePathContainment(t *testing.T) {
	root := "/srv/workspace"

	abs, err := ResolvePath(root, "src/index.js")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src/index.js"), abs)

	_, err = ResolvePath(root, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = ResolvePath(root, "/etc/passwd")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = ResolvePath(root, "src/../../outside")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = ResolvePath(root, "")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestResolvePathDotInside(t *testing.T) {
	root := "/srv/workspace"

	// 路徑裡的 ".." 只要不離開 root 就合法
	abs, err := ResolvePath(root, "src/../lib/a.js")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "lib/a.js"), abs)
}

func TestCheckWritePathReservedDirs(t *testing.T) {
	assert.NoError(t, CheckWritePath("src/app.js"))
	assert.ErrorIs(t, CheckWritePath("node_modules/lodash/index.js"), ErrAccessDenied)
	assert.ErrorIs(t, CheckWritePath(".git/config"), ErrAccessDenied)
	assert.ErrorIs(t, CheckWritePath("src/dist/bundle.js"), ErrAccessDenied)
	assert.ErrorIs(t, CheckWritePath(".next/cache/x"), ErrAccessDenied)
}

func TestCheckCommand(t *testing.T) {
	assert.NoError(t, CheckCommand("npm install && npm test"))
	assert.NoError(t, CheckCommand("rm -rf node_modules"))

	assert.ErrorIs(t, CheckCommand("rm -rf /"), ErrAccessDenied)
	assert.ErrorIs(t, CheckCommand("rm -rf *"), ErrAccessDenied)
	assert.ErrorIs(t, CheckCommand("dd if=/dev/zero of=/dev/sda"), ErrAccessDenied)
	assert.ErrorIs(t, CheckCommand(":(){ :|: & };:"), ErrAccessDenied)
	assert.ErrorIs(t, CheckCommand("sudo reboot"), ErrAccessDenied)
	assert.ErrorIs(t, CheckCommand("mkfs.ext4 /dev/sdb1"), ErrAccessDenied)
}
