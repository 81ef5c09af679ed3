package cmd_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/forge/internal/cmd"
	_ "github.com/dagucloud/forge/internal/runtime/builtin"
)

const appProject = `
name: app
defaultTargets: Build
properties:
  - name: Configuration
    value: Debug
targets:
  - name: Prepare
    tasks:
      - name: Message
        params:
          Text: preparing $(Configuration)
  - name: Build
    dependsOn: Prepare
    tasks:
      - name: Touch
        params:
          Files: out-$(Configuration).txt
          AlwaysCreate: true
  - name: Broken
    tasks:
      - name: Error
        params:
          Text: nope
`

type fixture struct {
	dir     string
	project string
	config  string
}

func setup(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:     dir,
		project: filepath.Join(dir, "app.yaml"),
		config:  filepath.Join(dir, "config.yaml"),
	}
	require.NoError(t, os.WriteFile(f.project, []byte(appProject), 0600))
	require.NoError(t, os.WriteFile(f.config, []byte("build:\n  maxParallelRequests: 2\nlog:\n  format: text\n"), 0600))
	return f
}

func execute(t *testing.T, command *cobra.Command, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "forge", SilenceErrors: true}
	root.AddCommand(command)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBuild(t *testing.T) {
	f := setup(t)

	out, err := execute(t, cmd.Build(), "build", f.project, "-c", f.config)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(f.dir, "out-Debug.txt"))
	assert.Contains(t, out, "Build")
	assert.Contains(t, out, "Prepare")
	assert.Contains(t, out, "succeeded")
}

func TestBuild_GlobalProperties(t *testing.T) {
	f := setup(t)
	envFile := filepath.Join(f.dir, "props.env")
	require.NoError(t, os.WriteFile(envFile, []byte("Configuration=Staging\n"), 0600))

	_, err := execute(t, cmd.Build(), "build", f.project, "-c", f.config, "-q", "--property-file", envFile)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(f.dir, "out-Staging.txt"))

	_, err = execute(t, cmd.Build(), "build", f.project, "-c", f.config, "-q",
		"--property-file", envFile, "-p", "Configuration=Release")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(f.dir, "out-Release.txt"))
}

func TestBuild_DirectoryArgument(t *testing.T) {
	f := setup(t)
	require.NoError(t, os.Rename(f.project, filepath.Join(f.dir, cmd.DefaultProjectFile)))

	_, err := execute(t, cmd.Build(), "build", f.dir, "-c", f.config, "-q", "-t", "Prepare;Build")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(f.dir, "out-Debug.txt"))
}

func TestBuild_Failures(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "FailingTarget", args: []string{"-t", "Broken"}},
		{name: "MissingTarget", args: []string{"-t", "Nothing"}},
		{name: "InvalidProperty", args: []string{"-p", "JustAName"}},
		{name: "MissingPropertyFile", args: []string{"--property-file", filepath.Join(f.dir, "none.env")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"build", f.project, "-c", f.config, "-q"}, tt.args...)
			_, err := execute(t, cmd.Build(), args...)
			require.Error(t, err)
		})
	}

	_, err := execute(t, cmd.Build(), "build", f.project, "-c", f.config, "-q", "-t", "Broken")
	assert.ErrorIs(t, err, cmd.ErrBuildFailed)
}

func TestBuild_MissingProject(t *testing.T) {
	f := setup(t)
	_, err := execute(t, cmd.Build(), "build", filepath.Join(f.dir, "none.yaml"), "-c", f.config, "-q")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	f := setup(t)

	out, err := execute(t, cmd.Validate(), "validate", f.project, "-c", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "Broken")
	assert.Contains(t, out, "Prepare")

	bad := filepath.Join(f.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("targets:\n  - name: A\n    dependsOn: B\n"), 0600))
	_, err = execute(t, cmd.Validate(), "validate", bad, "-c", f.config, "-q")
	require.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, cmd.Version(), "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}
