package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemHelpers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "lib.rs")
	require.NoError(t, os.WriteFile(file, []byte("fn main() {}"), 0o644))

	assert.True(t, DirectoryExists(dir))
	assert.False(t, DirectoryExists(file))
	assert.False(t, DirectoryExists(filepath.Join(dir, "missing")))

	assert.True(t, FileExists(file))
	assert.False(t, FileExists(dir))

	assert.False(t, HasGitRepo(dir))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	assert.True(t, HasGitRepo(dir))
}

func TestReadPathList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "files.txt")
	require.NoError(t, os.WriteFile(path, []byte("./src/a.rs\n\n  # vendored\n  src/b.rs  \nsrc//c.rs\n"), 0o644))

	paths, err := ReadPathList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.rs", "src/b.rs", "src/c.rs"}, paths)

	_, err = ReadPathList(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestParsePathList_Reader(t *testing.T) {
	paths, err := ParsePathList(strings.NewReader("# header\nlib.rs\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"lib.rs"}, paths)
}

func TestLoadEnv_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvFileName), []byte("RUSTSENTRY_ENV_TEST=from-cwd\n"), 0o644))
	t.Chdir(dir)
	t.Setenv("RUSTSENTRY_ENV_TEST", "")
	require.NoError(t, os.Unsetenv("RUSTSENTRY_ENV_TEST"))

	loaded, err := LoadEnv("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, EnvFileName), loaded)
	assert.Equal(t, "from-cwd", os.Getenv("RUSTSENTRY_ENV_TEST"))
}

func TestLoadEnv_ConfigDirectory(t *testing.T) {
	t.Chdir(t.TempDir())
	confDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(confDir, EnvFileName), []byte("RUSTSENTRY_ENV_TEST=from-config\n"), 0o644))
	t.Setenv("RUSTSENTRY_ENV_TEST", "")
	require.NoError(t, os.Unsetenv("RUSTSENTRY_ENV_TEST"))

	loaded, err := LoadEnv(filepath.Join(confDir, "rustsentry.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(confDir, EnvFileName), loaded)
	assert.Equal(t, "from-config", os.Getenv("RUSTSENTRY_ENV_TEST"))
}

func TestLoadEnv_ExistingVariableWins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvFileName), []byte("RUSTSENTRY_ENV_TEST=from-file\n"), 0o644))
	t.Chdir(dir)
	t.Setenv("RUSTSENTRY_ENV_TEST", "from-shell")

	_, err := LoadEnv("")
	require.NoError(t, err)
	assert.Equal(t, "from-shell", os.Getenv("RUSTSENTRY_ENV_TEST"))
}

func TestLoadEnv_NoneFound(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := LoadEnv("")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
