// Package builtin registers the built-in tasks with the default registry.
package builtin

import (
	_ "github.com/dagucloud/forge/internal/runtime/builtin/build"
	_ "github.com/dagucloud/forge/internal/runtime/builtin/exec"
	_ "github.com/dagucloud/forge/internal/runtime/builtin/file"
	_ "github.com/dagucloud/forge/internal/runtime/builtin/message"
	_ "github.com/dagucloud/forge/internal/runtime/builtin/property"
)
