// Package exec provides the Exec task, which runs a POSIX shell command
// with an embedded interpreter.
package exec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/dagucloud/forge/internal/common/logger"
	"github.com/dagucloud/forge/internal/common/logger/tag"
	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/runtime/task"
)

func init() {
	task.Register(task.Info{
		Name: "Exec",
		Params: []task.ParamSpec{
			task.Required("Command", task.ParamString),
			task.In("WorkingDirectory", task.ParamString),
			task.In("IgnoreExitCode", task.ParamBool),
			task.In("EnvironmentVariables", task.ParamItems),
			task.In("EchoOff", task.ParamBool),
			task.Out("ExitCode", task.ParamString),
			task.Out("ConsoleOutput", task.ParamItems),
		},
		New: func() task.Task { return &execTask{} },
	})
}

type params struct {
	Command          string   `mapstructure:"Command"`
	WorkingDirectory string   `mapstructure:"WorkingDirectory"`
	IgnoreExitCode   bool     `mapstructure:"IgnoreExitCode"`
	Env              []string `mapstructure:"EnvironmentVariables"`
	EchoOff          bool     `mapstructure:"EchoOff"`
}

type execTask struct{}

// Execute runs Command. Every output line is reported as a message and
// collected into ConsoleOutput. A non-zero exit code fails the task unless
// IgnoreExitCode is set.
func (*execTask) Execute(ctx context.Context, tc *task.Context) (bool, error) {
	var p params
	if err := tc.Decode(&p); err != nil {
		return false, err
	}

	file, err := syntax.NewParser().Parse(strings.NewReader(p.Command), "")
	if err != nil {
		tc.LogError(ctx, fmt.Sprintf("invalid command: %v", err))
		return false, nil
	}

	dir := workingDir(tc.ProjectDir, p.WorkingDirectory)
	for _, kv := range p.Env {
		if !strings.Contains(kv, "=") {
			tc.LogError(ctx, fmt.Sprintf("invalid environment variable %q: expected NAME=VALUE", kv))
			return false, nil
		}
	}
	env := append(os.Environ(), p.Env...)

	var out bytes.Buffer
	runner, err := interp.New(
		interp.StdIO(nil, &out, &out),
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(env...)),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create shell: %w", err)
	}

	if !p.EchoOff {
		tc.LogMessage(ctx, core.ImportanceNormal, p.Command)
	}
	runErr := runner.Run(ctx, file)

	code := 0
	var status interp.ExitStatus
	switch {
	case errors.As(runErr, &status):
		code = int(status)
	case runErr != nil:
		return false, fmt.Errorf("command failed: %w", runErr)
	}

	lines := report(ctx, tc, &out)
	logger.Debug(ctx, "Command finished", tag.Command(p.Command), tag.ExitCode(code))
	if err := tc.SetString("ExitCode", strconv.Itoa(code)); err != nil {
		return false, err
	}
	if err := tc.SetItems("ConsoleOutput", lines); err != nil {
		return false, err
	}

	if code != 0 && !p.IgnoreExitCode {
		tc.LogError(ctx, fmt.Sprintf("command exited with code %d", code))
		return false, nil
	}
	return true, nil
}

func report(ctx context.Context, tc *task.Context, out *bytes.Buffer) []*core.Item {
	var lines []*core.Item
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		tc.LogMessage(ctx, core.ImportanceNormal, line)
		if strings.TrimSpace(line) != "" {
			lines = append(lines, core.NewItem(line))
		}
	}
	return lines
}

func workingDir(projectDir, dir string) string {
	switch {
	case dir == "":
		dir = projectDir
	case !filepath.IsAbs(dir) && projectDir != "":
		dir = filepath.Join(projectDir, dir)
	}
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		}
	}
	return dir
}
