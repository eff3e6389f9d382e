package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"audibridge/internal/acquisition"
	"audibridge/internal/audible"
	"audibridge/internal/daemon"
)

type downloadOutput struct {
	JobID    string               `json:"job_id"`
	Format   string               `json:"format"`
	Bucket   string               `json:"bucket"`
	RawPath  string               `json:"raw_path"`
	M4BPath  string               `json:"m4b_path"`
	Bytes    int64                `json:"downloaded_bytes"`
	Metadata acquisition.Metadata `json:"metadata"`
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var authPath string
	var formatName string
	var country string
	var bucket string
	var prefix string

	cmd := &cobra.Command{
		Use:   "download ASIN",
		Short: "Download, decrypt and upload one title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			format, err := audible.ParseFormat(formatName)
			if err != nil {
				return err
			}
			cred, err := readCredential(cmd, authPath)
			if err != nil {
				return err
			}
			code := strings.TrimSpace(country)
			if code == "" {
				code = cred.LocaleCode
			}
			if code == "" {
				code = cfg.Vendor.DefaultCountry
			}
			target := strings.TrimSpace(bucket)
			if target == "" {
				target = cfg.Storage.DefaultBucket
			}
			job, err := acquisition.NewJob(acquisition.Request{
				ASIN:        args[0],
				CountryCode: code,
				Credential:  cred,
				Bucket:      target,
				Prefix:      prefix,
				Format:      format,
			})
			if err != nil {
				return err
			}
			return ctx.withComponents(cmd.Context(), func(c *daemon.Components) error {
				res, err := c.Pipeline.Run(cmd.Context(), job)
				if err != nil {
					return fmt.Errorf("download %s: %w", job.ASIN, err)
				}
				if ctx.wantsJSON(cmd) {
					return writeJSON(cmd, downloadOutput{
						JobID:    res.JobID,
						Format:   string(res.Format),
						Bucket:   target,
						RawPath:  res.RawPath,
						M4BPath:  res.M4BPath,
						Bytes:    res.DownloadedBytes,
						Metadata: res.Metadata,
					})
				}
				renderAcquisition(cmd, target, res)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&authPath, "auth", "", "Credential JSON file (- for stdin)")
	cmd.Flags().StringVar(&formatName, "format", string(audible.FormatAAXC), "Container to request: aax or aaxc")
	cmd.Flags().StringVar(&country, "country", "", "Marketplace country code (default: credential locale, then config)")
	cmd.Flags().StringVar(&bucket, "bucket", "", "Destination bucket (default storage.default_bucket)")
	cmd.Flags().StringVar(&prefix, "path", "", "Key prefix inside the bucket")
	return cmd
}

func renderAcquisition(cmd *cobra.Command, bucket string, res acquisition.Result) {
	out := cmd.OutOrStdout()
	renderKeyValues(cmd, [][2]string{
		{"Job", res.JobID},
		{"Bucket", bucket},
		{"Raw", res.RawPath},
		{"M4B", res.M4BPath},
		{"Title", res.Metadata.Title},
		{"Author", strings.Join(res.Metadata.Author, ", ")},
		{"Codec", fmt.Sprintf("%s %d kb/s", res.Metadata.Codec, res.Metadata.BitrateKbs)},
		{"Length", strconv.FormatFloat(res.Metadata.Length, 'f', 1, 64) + "s"},
	})

	chapters := res.Metadata.OrderedChapters()
	rows := make([][]string, 0, len(chapters))
	for i, ch := range chapters {
		rows = append(rows, []string{
			strconv.Itoa(i),
			ch.Title,
			strconv.FormatFloat(ch.StartTime, 'f', 3, 64),
			strconv.FormatFloat(ch.EndTime, 'f', 3, 64),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Chapter", "Start", "End"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight},
	))
}
