package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"audibridge/internal/marketplace"
)

func newMarketplacesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "marketplaces",
		Short:       "List supported marketplaces",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			all := marketplace.All()
			if ctx.wantsJSON(cmd) {
				type entry struct {
					CountryCode   string `json:"country_code"`
					Name          string `json:"name"`
					Domain        string `json:"domain"`
					MarketplaceID string `json:"marketplace_id"`
				}
				out := make([]entry, 0, len(all))
				for _, m := range all {
					out = append(out, entry{m.CountryCode, m.DisplayName(), m.Domain, m.MarketplaceID})
				}
				return writeJSON(cmd, out)
			}
			rows := make([][]string, 0, len(all))
			for _, m := range all {
				rows = append(rows, []string{m.CountryCode, m.DisplayName(), m.SignInHost(), m.MarketplaceID})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Code", "Region", "Sign-in host", "Marketplace ID"}, rows, nil))
			return nil
		},
	}
}
