package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dagucloud/forge/internal/core"
)

// upToDate is the outcome of the incremental build check.
type upToDate struct {
	skip   bool
	reason string
}

// checkUpToDate compares the files named by a target's Inputs and Outputs.
// With equal non-zero counts, output i must be at least as new as input i.
// Otherwise the newest input is compared with the oldest output. A missing
// input or output means the target must run. Errors evaluating either list
// are returned as *core.SkipDecisionError and also mean the target runs.
func checkUpToDate(ctx context.Context, ev core.Evaluator, t *core.Target, scope core.Scope) (upToDate, error) {
	wrap := func(err error) error {
		return &core.SkipDecisionError{Target: t.Name, Err: err}
	}
	inputs, err := resolveFiles(ctx, ev, t.Inputs, scope)
	if err != nil {
		return upToDate{}, wrap(fmt.Errorf("inputs: %w", err))
	}
	outputs, err := resolveFiles(ctx, ev, t.Outputs, scope)
	if err != nil {
		return upToDate{}, wrap(fmt.Errorf("outputs: %w", err))
	}

	if len(outputs) == 0 {
		return upToDate{reason: "no outputs"}, nil
	}
	if len(inputs) == 0 {
		return upToDate{reason: "no inputs"}, nil
	}

	inTimes, missing, err := modTimes(inputs)
	if err != nil {
		return upToDate{}, wrap(err)
	}
	if missing != "" {
		return upToDate{reason: fmt.Sprintf("input %q does not exist", missing)}, nil
	}
	outTimes, missing, err := modTimes(outputs)
	if err != nil {
		return upToDate{}, wrap(err)
	}
	if missing != "" {
		return upToDate{reason: fmt.Sprintf("output %q does not exist", missing)}, nil
	}

	if len(inputs) == len(outputs) {
		for i := range inputs {
			if outTimes[i].Before(inTimes[i]) {
				return upToDate{reason: fmt.Sprintf("output %q is older than input %q", outputs[i], inputs[i])}, nil
			}
		}
		return upToDate{skip: true, reason: "all outputs are up to date with respect to their inputs"}, nil
	}

	newestIn, oldestOut := 0, 0
	for i := range inTimes {
		if inTimes[i].After(inTimes[newestIn]) {
			newestIn = i
		}
	}
	for i := range outTimes {
		if outTimes[i].Before(outTimes[oldestOut]) {
			oldestOut = i
		}
	}
	if outTimes[oldestOut].Before(inTimes[newestIn]) {
		return upToDate{reason: fmt.Sprintf("output %q is older than input %q", outputs[oldestOut], inputs[newestIn])}, nil
	}
	return upToDate{skip: true, reason: "all outputs are newer than all inputs"}, nil
}

// resolveFiles evaluates an Inputs or Outputs expression to absolute paths.
// Relative paths are resolved against the project directory.
func resolveFiles(ctx context.Context, ev core.Evaluator, expr string, scope core.Scope) ([]string, error) {
	v, err := ev.Resolve(ctx, expr, scope)
	if err != nil {
		return nil, err
	}
	dir, _ := scope.Property(core.ProjectDirectoryProperty)
	var paths []string
	if v.Kind == core.ItemsKind {
		for _, item := range v.Items {
			if base, _ := item.Origin(); base != "" {
				paths = append(paths, item.Metadata(core.MetadataFullPath))
				continue
			}
			paths = append(paths, projectPath(dir, item.Include()))
		}
		return paths, nil
	}
	for _, it := range strings.Split(v.Scalar, ";") {
		if it = strings.TrimSpace(it); it != "" {
			paths = append(paths, projectPath(dir, it))
		}
	}
	return paths, nil
}

func projectPath(dir, p string) string {
	p = filepath.FromSlash(p)
	if !filepath.IsAbs(p) && dir != "" {
		p = filepath.Join(dir, p)
	}
	return filepath.Clean(p)
}

// modTimes stats each path. missing names the first path that does not exist.
func modTimes(paths []string) ([]time.Time, string, error) {
	times := make([]time.Time, len(paths))
	for i, p := range paths {
		fi, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, p, nil
		}
		if err != nil {
			return nil, "", err
		}
		times[i] = fi.ModTime()
	}
	return times, "", nil
}
