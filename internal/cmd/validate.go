package cmd

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dagucloud/forge/internal/common/logger"
	"github.com/dagucloud/forge/internal/common/logger/tag"
	"github.com/dagucloud/forge/internal/project"
)

// Validate returns the validate command.
func Validate() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "validate [flags] [project]",
			Short: "Check a project file and list its targets",
			Long: `Parse a project file and its imports, check target references, and print
the targets it defines.
`,
			Args: cobra.MaximumNArgs(1),
		},
		nil,
		runValidate,
	)
}

func runValidate(ctx *Context, args []string) error {
	path, err := projectPath(args)
	if err != nil {
		return err
	}
	p, err := project.NewLoader().Load(ctx, path)
	if err != nil {
		return err
	}
	logger.Info(ctx, "Project is valid", tag.Project(p.Name), tag.Count(len(p.Targets)))
	if ctx.Quiet {
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(ctx.Command.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.SetTitle(p.Name)
	t.AppendHeader(table.Row{"Target", "DependsOn", "Tasks", "Incremental"})
	for _, target := range p.Targets {
		t.AppendRow(table.Row{
			target.Name,
			strings.Join(target.DependsOn, ";"),
			len(target.Tasks),
			target.HasIncrementalInputs(),
		})
	}
	t.Render()
	return nil
}
