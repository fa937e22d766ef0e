package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/jmerrifield20/certledger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage account tokens",
}

var (
	tokenAccount     string
	tokenScopes      []string
	tokenAdminSecret string
	tokenSave        bool
)

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue an account token with the registry operator secret",
	Long: `Issue asks the registry to sign a token for --account. The operator
secret is read from --admin-secret, the admin_secret config key or the
CERTCTL_ADMIN_SECRET environment variable.

  certctl token issue --account alice --save
  certctl token issue --account verifier --scope challenge:complete`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenAdminSecret
		if secret == "" {
			secret = viper.GetString("admin_secret")
		}
		if secret == "" {
			return fmt.Errorf("operator secret required (--admin-secret or CERTCTL_ADMIN_SECRET)")
		}
		if strings.TrimSpace(tokenAccount) == "" {
			return fmt.Errorf("--account is required")
		}

		c, err := anonClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		tok, err := c.IssueToken(ctx, secret, tokenAccount, tokenScopes)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		if tokenSave {
			if err := client.SaveToken(tokenFile, tok); err != nil {
				return err
			}
		}

		out := struct {
			Account string   `json:"account"`
			Scopes  []string `json:"scopes,omitempty"`
			Token   string   `json:"token"`
			SavedTo string   `json:"saved_to,omitempty"`
		}{Account: tokenAccount, Scopes: tokenScopes, Token: tok}
		if tokenSave {
			out.SavedTo = tokenFile
		}
		return render(cmd.OutOrStdout(), out, func(tw *tabwriter.Writer) {
			if tokenSave {
				fmt.Fprintf(tw, "Token for %s saved to %s\n", tokenAccount, tokenFile)
				return
			}
			fmt.Fprintln(tw, tok)
		})
	},
}

var tokenSaveCmd = &cobra.Command{
	Use:   "save <token>",
	Short: "Save an existing account token for later commands",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.SaveToken(tokenFile, strings.TrimSpace(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", tokenFile)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenAccount, "account", "", "account name the token is issued for")
	tokenIssueCmd.Flags().StringSliceVar(&tokenScopes, "scope", nil, "extra scope to grant (repeatable)")
	tokenIssueCmd.Flags().StringVar(&tokenAdminSecret, "admin-secret", "", "registry operator secret")
	tokenIssueCmd.Flags().BoolVar(&tokenSave, "save", false, "save the token to --token-file")

	tokenCmd.AddCommand(tokenIssueCmd, tokenSaveCmd)
	rootCmd.AddCommand(tokenCmd)
}
