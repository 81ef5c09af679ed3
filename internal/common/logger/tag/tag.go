// Package tag provides standardized tag functions for structured logging.
//
// All tag keys use kebab-case naming convention for consistency.
package tag

import (
	"log/slog"
	"time"
)

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Project creates a tag for project paths.
func Project(path string) slog.Attr {
	return slog.String("project", path)
}

// Target creates a tag for target names.
func Target(name string) slog.Attr {
	return slog.String("target", name)
}

// Task creates a tag for task names.
func Task(name string) slog.Attr {
	return slog.String("task", name)
}

// Configuration creates a tag for build configuration IDs.
func Configuration(id string) slog.Attr {
	return slog.String("configuration", id)
}

// RequestID creates a tag for build request IDs.
func RequestID(id string) slog.Attr {
	return slog.String("request-id", id)
}

// Status creates a tag for lifecycle states.
func Status(s string) slog.Attr {
	return slog.String("status", s)
}

// Reason creates a tag for skip and failure reasons.
func Reason(r string) slog.Attr {
	return slog.String("reason", r)
}

// Property creates a tag for property names.
func Property(name string) slog.Attr {
	return slog.String("property", name)
}

// OldValue creates a tag for a replaced value.
func OldValue(v string) slog.Attr {
	return slog.String("old-value", v)
}

// NewValue creates a tag for a replacing value.
func NewValue(v string) slog.Attr {
	return slog.String("new-value", v)
}

// Batch creates a tag for a batch index.
func Batch(n int) slog.Attr {
	return slog.Int("batch", n)
}

// Success creates a tag for a success flag.
func Success(ok bool) slog.Attr {
	return slog.Bool("success", ok)
}

// Path creates a tag for file paths.
func Path(p string) slog.Attr {
	return slog.String("path", p)
}

// Command creates a tag for shell commands.
func Command(cmd string) slog.Attr {
	return slog.String("command", cmd)
}

// ExitCode creates a tag for process exit codes.
func ExitCode(code int) slog.Attr {
	return slog.Int("exit-code", code)
}

// Count creates a tag for counts.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Duration creates a tag for elapsed time.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
