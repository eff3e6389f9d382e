package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"audibridge/internal/audible"
	"audibridge/internal/daemon"
)

func newLibraryCommand(ctx *commandContext) *cobra.Command {
	var authPath string

	cmd := &cobra.Command{
		Use:   "library",
		Short: "List the titles owned by an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := readCredential(cmd, authPath)
			if err != nil {
				return err
			}
			return ctx.withComponents(cmd.Context(), func(c *daemon.Components) error {
				items, err := c.Lister.List(cmd.Context(), cred)
				if err != nil {
					return fmt.Errorf("library: %w", err)
				}
				if ctx.wantsJSON(cmd) {
					if items == nil {
						items = []audible.LibraryItem{}
					}
					return writeJSON(cmd, items)
				}
				renderLibrary(cmd, items)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&authPath, "auth", "", "Credential JSON file (- for stdin)")
	return cmd
}

func renderLibrary(cmd *cobra.Command, items []audible.LibraryItem) {
	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "Library is empty")
		return
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ASIN,
			item.Title,
			joinPeople(item.Authors),
			formatRuntime(item.RuntimeLengthMin),
			item.PurchaseDate,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ASIN", "Title", "Authors", "Length", "Purchased"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	fmt.Fprintf(out, "%d titles\n", len(items))
}

func joinPeople(people []audible.Person) string {
	names := make([]string, 0, len(people))
	for _, p := range people {
		if name := strings.TrimSpace(p.Name); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

func formatRuntime(minutes int) string {
	if minutes <= 0 {
		return "-"
	}
	if minutes < 60 {
		return strconv.Itoa(minutes) + "m"
	}
	return fmt.Sprintf("%dh%02dm", minutes/60, minutes%60)
}
