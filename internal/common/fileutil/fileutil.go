// Package fileutil holds path helpers shared by the command line.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// YAMLExtensions are the extensions accepted for project files.
var YAMLExtensions = []string{".yaml", ".yml"}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// IsYAMLFile reports whether name has a YAML extension.
func IsYAMLFile(name string) bool {
	return name != "" && slices.Contains(YAMLExtensions, strings.ToLower(filepath.Ext(name)))
}

// ResolvePath expands environment variables and a leading ~ and returns a
// clean absolute path. An empty path stays empty.
func ResolvePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return filepath.Clean(abs), nil
}

// OpenOrCreateFile opens name for appending, creating it and its parent
// directory when missing.
func OpenOrCreateFile(name string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(name), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to create/open file %s: %w", name, err)
	}
	return f, nil
}
