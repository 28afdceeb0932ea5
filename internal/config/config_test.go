package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRepoRoot_DetectsSentinelDirectories(t *testing.T) {
	for _, sentinel := range []string{"_bmad", "specs"} {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, sentinel), 0o755))
		nested := filepath.Join(root, "a", "b", "c")
		require.NoError(t, os.MkdirAll(nested, 0o755))

		assert.Equal(t, root, FindRepoRoot(nested))
	}
}

func TestFindRepoRoot_FallsBackToStartDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, dir, FindRepoRoot(dir))
}

func TestResolveConfigRoot_FlagWins(t *testing.T) {
	got, err := ResolveConfigRoot("/explicit/path", t.TempDir(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/explicit/path", got)
}

func TestResolveConfigRoot_PrefersRepoOverCwd(t *testing.T) {
	repo := t.TempDir()
	cwd := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "GP", "config"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(cwd, "config"), 0o755))

	got, err := ResolveConfigRoot("", repo, cwd)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo, "GP", "config"), got)
}

func TestResolveConfigRoot_CwdFallback(t *testing.T) {
	repo := t.TempDir()
	cwd := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cwd, "config"), 0o755))

	got, err := ResolveConfigRoot("", repo, cwd)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "config"), got)
}

func TestResolveConfigRoot_NoneFound(t *testing.T) {
	_, err := ResolveConfigRoot("", t.TempDir(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--config-root")
}

func TestResolveDatabaseURL(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "postgres://env")

	got, err := ResolveDatabaseURL("postgres://flag")
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag", got)

	got, err = ResolveDatabaseURL("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", got)

	t.Setenv(EnvDatabaseURL, "")
	_, err = ResolveDatabaseURL("")
	require.Error(t, err)
}

func TestAllowProdMutations_RequiresLiteralTrue(t *testing.T) {
	t.Setenv(EnvAllowProdMutations, "TRUE")
	assert.False(t, AllowProdMutations())

	t.Setenv(EnvAllowProdMutations, "true")
	assert.True(t, AllowProdMutations())
}

func TestDefaultExportPath_ReplacesAwkwardCharacters(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 34, 56, 0, time.UTC)
	got := DefaultExportPath("/repo", "gp-dev", "bonbeauty", now)

	assert.Equal(t, filepath.Join(
		"/repo", "GP", "export", "config", "gp-dev", "markets", "bonbeauty",
		"export-2026-08-31T12-34-56Z.yaml",
	), got)
}
