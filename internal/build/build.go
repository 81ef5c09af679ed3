// Package build holds values stamped into the binary at link time.
package build

import "strings"

var (
	Version = "dev"
	AppName = "Forge"
	// Slug names the config directory and the environment prefix.
	Slug = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
