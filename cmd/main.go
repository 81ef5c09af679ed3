package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dagucloud/forge/internal/build"
	"github.com/dagucloud/forge/internal/cmd"

	_ "github.com/dagucloud/forge/internal/runtime/builtin" // Register built-in tasks
)

var rootCmd = &cobra.Command{
	Use:   build.Slug,
	Short: "Forge is a target-based build engine",
	Long: `Forge is a target-based build engine.

Projects declare properties, items and targets in YAML. Targets run tasks
in dependency order, batch them over item metadata, and skip work whose
outputs are newer than their inputs.
`,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(cmd.Build())
	rootCmd.AddCommand(cmd.Validate())
	rootCmd.AddCommand(cmd.Version())

	build.Version = version
	rootCmd.Version = version
}

var version = "0.0.0"
