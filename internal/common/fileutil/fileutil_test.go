package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenOrCreateFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "logs", "forge.log")

	f, err := OpenOrCreateFile(name)
	require.NoError(t, err)
	_, err = f.WriteString("first\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = OpenOrCreateFile(name)
	require.NoError(t, err)
	_, err = f.WriteString("second\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestResolvePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FORGE_TEST_DIR", "projects")

	wd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "~", want: home},
		{in: "~/app.yaml", want: filepath.Join(home, "app.yaml")},
		{in: "$FORGE_TEST_DIR/app.yaml", want: filepath.Join(wd, "projects", "app.yaml")},
		{in: "a/../b.yaml", want: filepath.Join(wd, "b.yaml")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ResolvePath(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsYAMLFile(t *testing.T) {
	assert.True(t, IsYAMLFile("app.yaml"))
	assert.True(t, IsYAMLFile("app.YML"))
	assert.False(t, IsYAMLFile("app.json"))
	assert.False(t, IsYAMLFile(""))
	assert.True(t, IsDir(t.TempDir()))
	assert.False(t, IsDir(filepath.Join(t.TempDir(), "missing")))
}
