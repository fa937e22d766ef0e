package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/jmerrifield20/certledger/internal/registry/model"
	"github.com/jmerrifield20/certledger/pkg/client"
	"github.com/spf13/cobra"
)

// ── resolve ──────────────────────────────────────────────────────────────────

var resolverURL string

var resolveCmd = &cobra.Command{
	Use:   "resolve <domain-or-url> [...]",
	Short: "Classify domains as secure, insecure or unknown",
	Long: `Resolve looks each input up against the registry. Several inputs are
classified against one consistent snapshot.

  certctl resolve https://shop.example.org/cart
  certctl resolve --resolver http://localhost:9091 a.example.com b.example.com`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := registryURL
		if resolverURL != "" {
			base = resolverURL
		}
		c, err := client.New(base, clientOptions()...)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		var results []*model.Resolution
		if len(args) == 1 {
			res, err := c.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			results = []*model.Resolution{res}
		} else if results, err = c.ResolveMany(ctx, args); err != nil {
			return err
		}

		var v any = results
		if len(results) == 1 {
			v = results[0]
		}
		return render(cmd.OutOrStdout(), v, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "INPUT\tSTATUS\tSERIAL\tCANDIDATES")
			for _, r := range results {
				serial := "-"
				if r.Certificate != nil {
					serial = r.Certificate.SerialNumber
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.Input, r.Status, serial, r.Candidates)
			}
		})
	},
}

// ── content ──────────────────────────────────────────────────────────────────

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Store and fetch content-addressed blobs",
}

var contentOutput string

var contentPutCmd = &cobra.Command{
	Use:   "put <file|->",
	Short: "Store a file and print its content id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		c, err := accountClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		id, err := c.PutContent(ctx, data)
		if err != nil {
			return err
		}
		out := map[string]any{"content_id": id, "size": len(data)}
		return render(cmd.OutOrStdout(), out, func(tw *tabwriter.Writer) { fmt.Fprintln(tw, id) })
	},
}

var contentGetCmd = &cobra.Command{
	Use:   "get <content-id>",
	Short: "Fetch a blob by content id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := anonClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		data, err := c.GetContent(ctx, args[0])
		if err != nil {
			return err
		}
		if contentOutput == "" || contentOutput == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		return os.WriteFile(contentOutput, data, 0o644)
	},
}

// ── ledger ───────────────────────────────────────────────────────────────────

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the registry's hash-chained ledger",
}

var ledgerInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show ledger length and root hash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := anonClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		info, err := c.Ledger(ctx)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), info, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "Entries:\t%d\n", info.Entries)
			fmt.Fprintf(tw, "Root:\t%s\n", info.Root)
		})
	},
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Ask the registry to verify the whole hash chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := anonClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		valid, reason, err := c.VerifyLedger(ctx)
		if err != nil {
			return err
		}
		out := map[string]any{"valid": valid}
		if reason != "" {
			out["error"] = reason
		}
		if err := render(cmd.OutOrStdout(), out, func(tw *tabwriter.Writer) {
			if valid {
				fmt.Fprintln(tw, "Ledger chain is intact.")
				return
			}
			fmt.Fprintf(tw, "Ledger chain is BROKEN: %s\n", reason)
		}); err != nil {
			return err
		}
		if !valid {
			return fmt.Errorf("ledger verification failed")
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolverURL, "resolver", "", "resolver service URL; queries the registry when empty")
	contentGetCmd.Flags().StringVarP(&contentOutput, "output", "o", "", "write to file instead of stdout")

	contentCmd.AddCommand(contentPutCmd, contentGetCmd)
	ledgerCmd.AddCommand(ledgerInfoCmd, ledgerVerifyCmd)
	rootCmd.AddCommand(resolveCmd, contentCmd, ledgerCmd)
}
