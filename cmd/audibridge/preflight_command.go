package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"audibridge/internal/config"
	"audibridge/internal/preflight"
	"audibridge/internal/store"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check tools, directories and storage before serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := runPreflight(cmd.Context(), ctx, cfg)
			if ctx.wantsJSON(cmd) {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				renderPreflight(cmd, results)
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}
			return nil
		},
	}
}

func runPreflight(cmdCtx context.Context, ctx *commandContext, cfg *config.Config) []preflight.Result {
	opts := []preflight.Option{preflight.WithLogger(ctx.cliLogger())}
	if ctx.deps.Runner != nil {
		opts = append(opts, preflight.WithRunner(ctx.deps.Runner))
	}
	return preflight.RunAll(cmdCtx, cfg, opts...)
}

func renderPreflight(cmd *cobra.Command, results []preflight.Result) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := "ok"
		if !r.Passed {
			status = "FAIL"
		}
		rows = append(rows, []string{r.Name, status, r.Detail})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Detail"}, rows, nil))
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon reachability and job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			probe := preflight.CheckDaemonFromConfig(cmd.Context(), cfg)

			counts := map[string]int{}
			st, err := store.Open(cfg)
			if err == nil {
				counts, err = st.CountJobsByState(cmd.Context())
				st.Close()
			}
			if err != nil {
				return fmt.Errorf("job ledger: %w", err)
			}

			if ctx.wantsJSON(cmd) {
				return writeJSON(cmd, map[string]any{
					"config_path": ctx.configPath,
					"address":     cfg.API.Bind,
					"daemon":      probe.Summary(),
					"running":     probe.Reachable,
					"database":    cfg.DatabasePath(),
					"jobs":        counts,
				})
			}
			pairs := [][2]string{
				{"Config", ctx.configPath},
				{"Address", cfg.API.Bind},
				{"Daemon", probe.Summary()},
				{"Running", yesNo(probe.Reachable)},
				{"Database", cfg.DatabasePath()},
			}
			for _, state := range []string{"pending", "downloading", "transcoding", "uploading", "complete", "failed"} {
				pairs = append(pairs, [2]string{"Jobs " + state, fmt.Sprint(counts[state])})
			}
			renderKeyValues(cmd, pairs)
			return nil
		},
	}
}
