// Package file provides file system tasks.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dagucloud/forge/internal/common/logger"
	"github.com/dagucloud/forge/internal/common/logger/tag"
	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/runtime/task"
)

func init() {
	task.Register(task.Info{
		Name: "Touch",
		Params: []task.ParamSpec{
			task.Required("Files", task.ParamItems),
			task.In("AlwaysCreate", task.ParamBool),
			task.In("Time", task.ParamString),
			task.Out("TouchedFiles", task.ParamItems),
		},
		New: func() task.Task { return &touch{now: time.Now} },
	})
}

type touch struct {
	now func() time.Time
}

type touchParams struct {
	AlwaysCreate bool   `mapstructure:"AlwaysCreate"`
	Time         string `mapstructure:"Time"`
}

// Execute sets the modification time of every file, creating missing files
// when AlwaysCreate is set. Time, when given, is RFC 3339.
func (t *touch) Execute(ctx context.Context, tc *task.Context) (bool, error) {
	var p touchParams
	if err := tc.Decode(&p); err != nil {
		return false, err
	}
	ts := t.now()
	if p.Time != "" {
		parsed, err := time.Parse(time.RFC3339, p.Time)
		if err != nil {
			tc.LogError(ctx, fmt.Sprintf("invalid time %q: %v", p.Time, err))
			return false, nil
		}
		ts = parsed
	}

	ok := true
	var touched []*core.Item
	for _, item := range tc.Items("Files") {
		path := resolve(tc.ProjectDir, item)
		if err := touchFile(path, ts, p.AlwaysCreate); err != nil {
			tc.LogError(ctx, err.Error())
			ok = false
			continue
		}
		logger.Debug(ctx, "Touched file", tag.Path(path))
		touched = append(touched, item.Clone())
	}
	if err := tc.SetItems("TouchedFiles", touched); err != nil {
		return false, err
	}
	return ok, nil
}

func touchFile(path string, ts time.Time, create bool) error {
	_, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !create {
			return fmt.Errorf("cannot touch %s: file does not exist", path)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644) //nolint:gosec
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
	case err != nil:
		return fmt.Errorf("cannot touch %s: %w", path, err)
	}
	if err := os.Chtimes(path, ts, ts); err != nil {
		return fmt.Errorf("failed to touch %s: %w", path, err)
	}
	return nil
}

// resolve returns the path an item names. Items that carry an origin use
// their full path; others are relative to dir.
func resolve(dir string, item *core.Item) string {
	if base, _ := item.Origin(); base != "" {
		return item.Metadata(core.MetadataFullPath)
	}
	p := filepath.FromSlash(item.Include())
	if !filepath.IsAbs(p) && dir != "" {
		p = filepath.Join(dir, p)
	}
	return filepath.Clean(p)
}
