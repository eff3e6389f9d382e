package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"audibridge/internal/config"
	"audibridge/internal/daemon"
	"audibridge/internal/logging"
)

type commandContext struct {
	configFlag  *string
	outputFlag  *string
	verboseFlag *bool
	deps        daemon.Dependencies

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, outputFlag *string, verboseFlag *bool, deps daemon.Dependencies) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		outputFlag:  outputFlag,
		verboseFlag: verboseFlag,
		deps:        deps,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

// cliLogger logs to stderr only; one-shot commands keep the daemon log file
// for the daemon.
func (c *commandContext) cliLogger() *slog.Logger {
	if c.deps.Logger != nil {
		return c.deps.Logger
	}
	cfg, _ := c.ensureConfig()
	level := "warn"
	format := "console"
	if cfg != nil {
		format = cfg.Logging.Format
	}
	if c.verboseFlag != nil && *c.verboseFlag {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      format,
		OutputPaths: []string{"stderr"},
		Color:       isatty.IsTerminal(os.Stderr.Fd()),
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// withComponents builds the domain services for a one-shot command and closes
// them when fn returns.
func (c *commandContext) withComponents(ctx context.Context, fn func(*daemon.Components) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	deps := c.deps
	deps.Logger = c.cliLogger()
	components, err := daemon.NewComponents(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer components.Close()
	return fn(components)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
