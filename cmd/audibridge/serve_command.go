package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"audibridge/internal/daemon"
	"audibridge/internal/logging"
	"audibridge/internal/preflight"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx, skipPreflight)
		},
	}
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Start even when preflight checks fail")
	return cmd
}

func runServe(cmdCtx context.Context, ctx *commandContext, skipPreflight bool) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	logger := ctx.deps.Logger
	if logger == nil {
		logger, err = logging.NewFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
	}

	if !skipPreflight {
		failed := preflight.Failed(runPreflight(cmdCtx, ctx, cfg))
		for _, r := range failed {
			logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldErrorHint, "run `audibridge preflight` for details"),
			)
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d preflight check(s) failed; run `audibridge preflight` for details", len(failed))
		}
	}

	deps := ctx.deps
	deps.Logger = logger
	deps.Version = version
	d, err := daemon.New(cmdCtx, cfg, deps)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(cmdCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-cmdCtx.Done()
	logger.Info("audibridge daemon shutting down")
	return nil
}
