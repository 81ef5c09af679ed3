package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dagucloud/forge/internal/common/fileutil"
	"github.com/dagucloud/forge/internal/common/logger"
	"github.com/dagucloud/forge/internal/common/logger/tag"
	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/otel"
	"github.com/dagucloud/forge/internal/project"
	"github.com/dagucloud/forge/internal/runtime"
)

// DefaultProjectFile is looked up when no project is given or a directory
// is given.
const DefaultProjectFile = "forge.yaml"

var (
	ErrBuildFailed = errors.New("build failed")
	ErrNotYAML     = errors.New("project file must have a .yaml or .yml extension")
)

const tracerShutdownTimeout = 5 * time.Second

var buildFlags = []commandLineFlag{targetFlag, propertyFlag, propertyFileFlag}

// Build returns the build command.
func Build() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "build [flags] [project]",
			Short: "Build targets of a project",
			Long: `Build the requested targets of a project file.

Without targets the project's default targets run. Global properties given
with -p or --property-file are read-only inside the build.

Example:
  forge build app.yaml -t Build -t Test -p Configuration=Release
`,
			Args: cobra.MaximumNArgs(1),
		},
		buildFlags,
		runBuild,
	)
}

func runBuild(ctx *Context, args []string) error {
	path, err := projectPath(args)
	if err != nil {
		return err
	}
	props, err := globalProperties(ctx.Command)
	if err != nil {
		return err
	}
	targets, err := ctx.Command.Flags().GetStringArray(targetFlag.name)
	if err != nil {
		return fmt.Errorf("failed to get target flag: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := otel.NewTracer(sigCtx, ctx.Config.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(sigCtx), tracerShutdownTimeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn(sigCtx, "Failed to flush traces", tag.Error(err))
		}
	}()

	sinks := runtime.MultiSink{runtime.LoggerSink{}}
	if tracer.IsEnabled() {
		sinks = append(sinks, otel.NewSpanSink(tracer))
	}
	m := runtime.NewManager(project.NewLoader(),
		runtime.WithConfig(ctx.Config),
		runtime.WithSink(sinks),
	)
	defer m.Close()

	started := time.Now()
	res, err := m.Build(sigCtx, core.BuildRequest{
		ProjectPath:      path,
		Targets:          splitTargets(targets),
		GlobalProperties: props,
	})
	if err != nil {
		return err
	}
	if !ctx.Quiet {
		renderSummary(ctx.Command.OutOrStdout(), res, time.Since(started))
	}
	if !res.Succeeded() {
		if res.Err != nil {
			return fmt.Errorf("%w: %w", ErrBuildFailed, res.Err)
		}
		return fmt.Errorf("%w: %s", ErrBuildFailed, path)
	}
	return nil
}

func projectPath(args []string) (string, error) {
	path := DefaultProjectFile
	if len(args) > 0 {
		path = args[0]
	}
	abs, err := fileutil.ResolvePath(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project path %q: %w", path, err)
	}
	if fileutil.IsDir(abs) {
		abs = filepath.Join(abs, DefaultProjectFile)
	}
	if !fileutil.IsYAMLFile(abs) {
		return "", fmt.Errorf("%w: %s", ErrNotYAML, abs)
	}
	return abs, nil
}

// globalProperties merges the property file with -p values, which win.
func globalProperties(cmd *cobra.Command) (map[string]string, error) {
	props := make(map[string]string)
	if file := viper.GetString(propertyFileFlag.name); file != "" {
		values, err := godotenv.Read(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read property file %s: %w", file, err)
		}
		maps.Copy(props, values)
	}
	pairs, err := cmd.Flags().GetStringArray(propertyFlag.name)
	if err != nil {
		return nil, fmt.Errorf("failed to get property flag: %w", err)
	}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid property %q: expected Name=Value", pair)
		}
		props[name] = value
	}
	if len(props) == 0 {
		return nil, nil
	}
	return props, nil
}

func splitTargets(values []string) []string {
	var out []string
	for _, v := range values {
		for _, name := range strings.Split(v, ";") {
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

func renderSummary(w io.Writer, res *core.BuildResult, elapsed time.Duration) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(res.Project)
	t.AppendHeader(table.Row{"Target", "Status", "Reason", "Items"})
	for _, key := range res.TargetNames() {
		r := res.Results[key]
		reason := r.Reason
		if r.Err != nil && reason == "" {
			reason = r.Err.Error()
		}
		t.AppendRow(table.Row{r.Target, r.Status.String(), reason, len(r.Items)})
	}
	status := "succeeded"
	if !res.Succeeded() {
		status = "failed"
	}
	t.AppendFooter(table.Row{"", status, elapsed.Round(time.Millisecond).String(), ""})
	t.Render()
}
