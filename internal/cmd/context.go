// Package cmd implements the forge command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dagucloud/forge/internal/common/config"
	"github.com/dagucloud/forge/internal/common/fileutil"
	"github.com/dagucloud/forge/internal/common/logger"
	"github.com/dagucloud/forge/internal/common/logger/tag"
)

// Context holds the configuration for a command.
type Context struct {
	context.Context

	Command *cobra.Command
	Flags   []commandLineFlag
	Config  *config.Config
	Quiet   bool

	logFile *os.File
}

// NewContext loads the configuration and sets up the context logger.
func NewContext(cmd *cobra.Command, flags []commandLineFlag) (*Context, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := bindFlags(cmd, flags...); err != nil {
		return nil, err
	}

	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}

	var loaderOpts []config.ConfigLoaderOption
	if cfgPath := viper.GetString("config"); cfgPath != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(cfgPath))
	}
	cfg, err := config.Load(loaderOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	c := &Context{
		Context: ctx,
		Command: cmd,
		Flags:   flags,
		Config:  cfg,
		Quiet:   quiet,
	}
	if err := c.setupLogger(); err != nil {
		return nil, err
	}
	c.Context = config.WithConfig(c.Context, cfg)

	for _, w := range cfg.Warnings {
		logger.Warn(c, w)
	}
	if cfg.ConfigFileUsed != "" {
		logger.Debug(c, "Configuration loaded", tag.Path(cfg.ConfigFileUsed))
	}
	return c, nil
}

func (c *Context) setupLogger() error {
	var opts []logger.Option
	if c.Config.Log.Debug || os.Getenv("DEBUG") != "" {
		opts = append(opts, logger.WithDebug())
	}
	if c.Quiet {
		opts = append(opts, logger.WithQuiet())
	}
	if c.Config.Log.Format != "" {
		opts = append(opts, logger.WithFormat(c.Config.Log.Format))
	}
	opts = append(opts, logger.WithConsole(c.Command.ErrOrStderr()))
	if c.Config.Log.File != "" {
		path, err := fileutil.ResolvePath(c.Config.Log.File)
		if err != nil {
			return err
		}
		f, err := fileutil.OpenOrCreateFile(path)
		if err != nil {
			return err
		}
		c.logFile = f
		opts = append(opts, logger.WithWriter(f))
	}
	c.Context = logger.WithLogger(c.Context, logger.NewLogger(opts...))
	return nil
}

// Close releases the log file, if one was opened.
func (c *Context) Close() error {
	if c.logFile == nil {
		return nil
	}
	err := c.logFile.Close()
	c.logFile = nil
	return err
}

// NewCommand wires flags and the run function into a cobra command.
func NewCommand(cmd *cobra.Command, flags []commandLineFlag, runFunc func(cmd *Context, args []string) error) *cobra.Command {
	initFlags(cmd, flags...)
	cmd.SilenceUsage = true

	cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
		ctx, err := NewContext(cmd, flags)
		if err != nil {
			return fmt.Errorf("initialization error: %w", err)
		}
		defer func() {
			err = errors.Join(err, ctx.Close())
		}()
		if err := runFunc(ctx, args); err != nil {
			logger.Error(ctx, "Command failed", tag.Error(err))
			return err
		}
		return nil
	}
	return cmd
}
