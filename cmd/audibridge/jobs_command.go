package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"audibridge/internal/services"
	"audibridge/internal/store"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show recent acquisition jobs from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := st.ListJobs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if ctx.wantsJSON(cmd) {
				if jobs == nil {
					jobs = []*store.JobRecord{}
				}
				return writeJSON(cmd, jobs)
			}
			renderJobs(cmd, jobs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show")
	cmd.AddCommand(newJobShowCommand(ctx))
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			job, err := st.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if job == nil {
				return services.Wrap(services.ErrNotFound, "cli", "jobs show", "job "+args[0]+" not found", nil)
			}
			if ctx.wantsJSON(cmd) {
				return writeJSON(cmd, job)
			}
			renderKeyValues(cmd, [][2]string{
				{"ID", job.ID},
				{"ASIN", job.ASIN},
				{"Country", job.CountryCode},
				{"Format", job.Format},
				{"Bucket", job.Bucket},
				{"Path", job.Prefix},
				{"State", job.State},
				{"Reason", job.Reason},
				{"Raw", job.RawPath},
				{"M4B", job.M4BPath},
				{"Created", job.CreatedAt.Local().Format(time.DateTime)},
				{"Updated", job.UpdatedAt.Local().Format(time.DateTime)},
			})
			return nil
		},
	}
}

func renderJobs(cmd *cobra.Command, jobs []*store.JobRecord) {
	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs recorded")
		return
	}
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		detail := job.M4BPath
		if job.Reason != "" {
			detail = job.Reason
		}
		rows = append(rows, []string{
			job.ID,
			job.ASIN,
			job.Format,
			job.State,
			job.UpdatedAt.Local().Format(time.DateTime),
			detail,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "ASIN", "Format", "State", "Updated", "Detail"},
		rows,
		nil,
	))
}
