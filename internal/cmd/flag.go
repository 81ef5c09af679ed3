package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type commandLineFlag struct {
	name, shorthand, defaultValue, usage string
	required                             bool
	isBool                               bool
	// isArray flags may be repeated.
	isArray bool
}

var (
	configFlag = commandLineFlag{
		name:      "config",
		shorthand: "c",
		usage:     "config file (default is $HOME/.config/forge/config.yaml)",
	}
	quietFlag = commandLineFlag{
		name:      "quiet",
		shorthand: "q",
		isBool:    true,
		usage:     "suppress log output",
	}
	targetFlag = commandLineFlag{
		name:      "target",
		shorthand: "t",
		isArray:   true,
		usage:     "targets to build, separated by ';' (repeatable)",
	}
	propertyFlag = commandLineFlag{
		name:      "property",
		shorthand: "p",
		isArray:   true,
		usage:     "global property as Name=Value (repeatable)",
	}
	propertyFileFlag = commandLineFlag{
		name:  "property-file",
		usage: "dotenv file with global properties; -p values take precedence",
	}
)

var commonFlags = []commandLineFlag{configFlag, quietFlag}

func initFlags(cmd *cobra.Command, addFlags ...commandLineFlag) {
	for _, flag := range append(append([]commandLineFlag{}, commonFlags...), addFlags...) {
		switch {
		case flag.isBool:
			cmd.Flags().BoolP(flag.name, flag.shorthand, false, flag.usage)
		case flag.isArray:
			cmd.Flags().StringArrayP(flag.name, flag.shorthand, nil, flag.usage)
		default:
			cmd.Flags().StringP(flag.name, flag.shorthand, flag.defaultValue, flag.usage)
		}
		if flag.required {
			if err := cmd.MarkFlagRequired(flag.name); err != nil {
				fmt.Printf("failed to mark flag %s as required: %v\n", flag.name, err)
			}
		}
	}
}

// bindFlags binds string flags to viper so that values can also come from
// FORGE_ environment variables.
func bindFlags(cmd *cobra.Command, addFlags ...commandLineFlag) error {
	for _, flag := range append(append([]commandLineFlag{}, commonFlags...), addFlags...) {
		if flag.isBool || flag.isArray {
			continue
		}
		if err := viper.BindPFlag(flag.name, cmd.Flags().Lookup(flag.name)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag.name, err)
		}
	}
	return nil
}
