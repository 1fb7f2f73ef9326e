package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWorkDirDefault(t *testing.T) {
	projects := t.TempDir()

	dir, err := ResolveWorkDir(projects, "task-3", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(projects, "task-3"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestResolveWorkDirRequested(t *testing.T) {
	existing := t.TempDir()

	dir, err := ResolveWorkDir(t.TempDir(), "task-1", existing)
	require.NoError(t, err)
	assert.Equal(t, existing, dir)

	_, err = ResolveWorkDir(t.TempDir(), "task-1", "relative/path")
	assert.ErrorContains(t, err, "absolute")

	_, err = ResolveWorkDir(t.TempDir(), "task-1", filepath.Join(existing, "missing"))
	assert.ErrorContains(t, err, "does not exist")

	file := filepath.Join(existing, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = ResolveWorkDir(t.TempDir(), "task-1", file)
	assert.ErrorContains(t, err, "not a directory")
}

func TestBuildContext(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CLAUDE.md"), []byte("Always run gofmt."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Demo project"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{
		"scripts": {"test": "vitest", "build": "tsc"},
		"dependencies": {"react": "^18.0.0"},
		"devDependencies": {"vitest": "^1.0.0"}
	}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module demo\n\ngo 1.22\n"), 0o644))

	ctx := BuildContext(dir)
	assert.True(t, strings.HasPrefix(ctx, "## Project Context"))
	assert.Contains(t, ctx, "Always run gofmt.")
	assert.Contains(t, ctx, "# Demo project")
	assert.Contains(t, ctx, "**Scripts:** `build`: tsc, `test`: vitest")
	assert.Contains(t, ctx, "**dependencies:** react")
	assert.Contains(t, ctx, "module demo")
}

func TestBuildContextEmptyDir(t *testing.T) {
	assert.Empty(t, BuildContext(t.TempDir()))
}

func TestBuildContextCapsLargeFiles(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("a", claudeMDCap*2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CLAUDE.md"), []byte(big), 0o644))

	ctx := BuildContext(dir)
	assert.Less(t, len(ctx), claudeMDCap+100)
}

func TestBuildContextSkipsMalformedPackageJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{broken"), 0o644))
	assert.Empty(t, BuildContext(dir))
}
