package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"audibridge/internal/auth"
	"audibridge/internal/daemon"
)

func newLoginURLCommand(ctx *commandContext) *cobra.Command {
	var country string

	cmd := &cobra.Command{
		Use:   "login-url",
		Short: "Generate a sign-in URL and the values needed to finish login",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			code := strings.TrimSpace(country)
			if code == "" {
				code = cfg.Vendor.DefaultCountry
			}
			challenge, err := auth.NewChallenge(code)
			if err != nil {
				return err
			}
			if ctx.wantsJSON(cmd) {
				return writeJSON(cmd, map[string]string{
					"login_url":     challenge.LoginURL,
					"code_verifier": challenge.CodeVerifier,
					"serial":        challenge.DeviceSerial,
					"country_code":  challenge.CountryCode,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Open this URL in a browser and sign in:")
			fmt.Fprintln(out)
			fmt.Fprintln(out, challenge.LoginURL)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Then paste the final address bar URL into:")
			fmt.Fprintf(out, "  audibridge login --country %s --verifier %s --serial %s --response-url '<url>'\n",
				challenge.CountryCode, challenge.CodeVerifier, challenge.DeviceSerial)
			return nil
		},
	}

	cmd.Flags().StringVar(&country, "country", "", "Marketplace country code (default from config)")
	return cmd
}

func newLoginCommand(ctx *commandContext) *cobra.Command {
	var req auth.LoginRequest
	var outPath string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Complete login with the redirect URL and store the credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(req.CountryCode) == "" {
				req.CountryCode = cfg.Vendor.DefaultCountry
			}
			return ctx.withComponents(cmd.Context(), func(c *daemon.Components) error {
				cred, err := c.Auth.Login(cmd.Context(), req)
				if err != nil {
					return fmt.Errorf("login: %w", err)
				}
				return emitCredential(cmd, outPath, cred)
			})
		},
	}

	cmd.Flags().StringVar(&req.ResponseURL, "response-url", "", "Redirect URL the browser landed on after sign-in")
	cmd.Flags().StringVar(&req.CodeVerifier, "verifier", "", "code_verifier printed by login-url")
	cmd.Flags().StringVar(&req.DeviceSerial, "serial", "", "Device serial printed by login-url")
	cmd.Flags().StringVar(&req.CountryCode, "country", "", "Marketplace country code (default from config)")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the credential to this file instead of stdout")
	_ = cmd.MarkFlagRequired("response-url")
	_ = cmd.MarkFlagRequired("verifier")
	_ = cmd.MarkFlagRequired("serial")
	return cmd
}

func newRefreshCommand(ctx *commandContext) *cobra.Command {
	var authPath string
	var outPath string
	var inPlace bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the tokens of a stored credential",
		Long: "Refresh exchanges the refresh token for a new access token. The vendor may rotate\n" +
			"the refresh token; always keep the credential this command writes, because the\n" +
			"previous refresh token can stop working.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := readCredential(cmd, authPath)
			if err != nil {
				return err
			}
			target := outPath
			if inPlace {
				if authPath == "-" {
					return fmt.Errorf("--in-place needs --auth to name a file")
				}
				target = authPath
			}
			return ctx.withComponents(cmd.Context(), func(c *daemon.Components) error {
				updated, err := c.Auth.Refresh(cmd.Context(), cred)
				if err != nil {
					return fmt.Errorf("refresh: %w", err)
				}
				return emitCredential(cmd, target, updated)
			})
		},
	}

	cmd.Flags().StringVar(&authPath, "auth", "", "Credential JSON file (- for stdin)")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the refreshed credential to this file instead of stdout")
	cmd.Flags().BoolVar(&inPlace, "in-place", false, "Overwrite the --auth file with the refreshed credential")
	return cmd
}

func newActivationBytesCommand(ctx *commandContext) *cobra.Command {
	var authPath string

	cmd := &cobra.Command{
		Use:   "activation-bytes",
		Short: "Print the account's AAX activation bytes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := readCredential(cmd, authPath)
			if err != nil {
				return err
			}
			return ctx.withComponents(cmd.Context(), func(c *daemon.Components) error {
				value, err := c.Auth.ActivationBytes(cmd.Context(), cred)
				if err != nil {
					return fmt.Errorf("activation bytes: %w", err)
				}
				if ctx.wantsJSON(cmd) {
					return writeJSON(cmd, map[string]string{"activation_bytes": value})
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&authPath, "auth", "", "Credential JSON file (- for stdin)")
	return cmd
}
