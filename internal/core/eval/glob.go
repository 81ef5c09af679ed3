package eval

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dagucloud/forge/internal/core"
)

// HasWildcard reports whether an include spec contains glob characters.
func HasWildcard(spec string) bool {
	return strings.ContainsAny(spec, "*?[")
}

// ExpandIncludes turns an expanded include list into items. Specs with
// wildcards are matched against the file system relative to baseDir and
// record the directory matched by `**` as RecursiveDir; other specs become
// items as written. Items matching an exclude spec are dropped.
func ExpandIncludes(baseDir, include, exclude string) ([]*core.Item, error) {
	excludes := splitList(exclude)
	for _, ex := range excludes {
		if !doublestar.ValidatePattern(filepath.ToSlash(ex)) {
			return nil, fmt.Errorf("%w: invalid exclude pattern %q", ErrSyntax, ex)
		}
	}

	var items []*core.Item
	for _, spec := range splitList(include) {
		if !HasWildcard(spec) {
			if !excluded(spec, excludes) {
				items = append(items, core.NewItem(spec))
			}
			continue
		}
		matches, err := glob(baseDir, spec)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if excluded(m, excludes) {
				continue
			}
			items = append(items, core.NewGlobItem(filepath.FromSlash(m), recursiveDir(spec, m)))
		}
	}
	return items, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// glob returns slash-separated matches in directory walk order.
func glob(baseDir, spec string) ([]string, error) {
	pattern := filepath.ToSlash(spec)
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: invalid include pattern %q", ErrSyntax, spec)
	}
	if filepath.IsAbs(spec) {
		matches, err := doublestar.FilepathGlob(spec, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("failed to expand %q: %w", spec, err)
		}
		for i := range matches {
			matches[i] = filepath.ToSlash(matches[i])
		}
		return matches, nil
	}
	if baseDir == "" {
		baseDir = "."
	}
	pattern = strings.TrimPrefix(path.Clean(pattern), "./")
	matches, err := doublestar.Glob(os.DirFS(baseDir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to expand %q: %w", spec, err)
	}
	return matches, nil
}

func excluded(p string, excludes []string) bool {
	p = filepath.ToSlash(p)
	for _, ex := range excludes {
		ex = filepath.ToSlash(ex)
		if HasWildcard(ex) {
			if ok, _ := doublestar.Match(strings.TrimPrefix(path.Clean(ex), "./"), strings.TrimPrefix(path.Clean(p), "./")); ok {
				return true
			}
			continue
		}
		if path.Clean(ex) == path.Clean(p) {
			return true
		}
	}
	return false
}

// recursiveDir returns the directory part matched from the first `**`
// segment on, with a trailing separator, or "" when the pattern has none.
func recursiveDir(spec, match string) string {
	segments := strings.Split(strings.TrimPrefix(path.Clean(filepath.ToSlash(spec)), "./"), "/")
	idx := -1
	for i, s := range segments {
		if strings.Contains(s, "**") {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ""
	}
	rel := match
	if prefix := strings.Join(segments[:idx], "/"); prefix != "" {
		rel = strings.TrimPrefix(match, prefix+"/")
	}
	dir := path.Dir(rel)
	if dir == "." || dir == "/" {
		return ""
	}
	return filepath.FromSlash(dir) + string(filepath.Separator)
}
