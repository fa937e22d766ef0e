package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/certledger/internal/registry/model"
	"github.com/jmerrifield20/certledger/internal/registry/service"
	"github.com/jmerrifield20/certledger/pkg/client"
	"github.com/spf13/cobra"
)

var certCmd = &cobra.Command{
	Use:     "cert",
	Aliases: []string{"certificate"},
	Short:   "Register, inspect and revoke certificates",
}

var (
	certDomain string
	certSerial string
	certOutput string
	certOffset int
	certLimit  int
)

var certUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a certificate file and register it in one step",
	Long: `Upload sends the file to the registry, which stores it, hashes it and
registers it. The domain defaults to the CN found in the file and the
serial is derived from the file name and the current time.

  certctl cert upload ./shop.example.org.pem`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		c, err := accountClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		reg, err := c.Upload(ctx, filepath.Base(args[0]), data, certDomain, certSerial)
		if err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		return renderRegistration(cmd, reg)
	},
}

var certRegisterCmd = &cobra.Command{
	Use:   "register <file>",
	Short: "Store a certificate file as content, then register it by content id",
	Long: `Register performs the two API calls of an upload from the client side:
the file is stored with PUT content, hashed locally and then registered.
Use it when the hash must be computed by the submitter.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		domain := certDomain
		if domain == "" {
			if domain, err = service.ExtractCommonName(data); err != nil {
				return fmt.Errorf("%s: %w (pass --domain)", args[0], err)
			}
		}
		serial := certSerial
		if serial == "" {
			serial = service.GenerateSerial(filepath.Base(args[0]), time.Now())
		}

		c, err := accountClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		contentID, err := c.PutContent(ctx, data)
		if err != nil {
			return fmt.Errorf("store content: %w", err)
		}
		reg, err := c.Register(ctx, model.RegisterRequest{
			Domain:       domain,
			SerialNumber: serial,
			ContentID:    contentID,
			ContentHash:  service.ContentHash(data),
		})
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		return renderRegistration(cmd, reg)
	},
}

var certGetCmd = &cobra.Command{
	Use:   "get <serial>",
	Short: "Show a certificate record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := anonClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		cert, err := c.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), cert, func(tw *tabwriter.Writer) { printCertificate(tw, cert) })
	},
}

var certDownloadCmd = &cobra.Command{
	Use:   "download <serial>",
	Short: "Download the integrity-checked certificate bytes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := anonClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		data, err := c.Download(ctx, args[0])
		if err != nil {
			return err
		}
		if certOutput == "" || certOutput == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(certOutput, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", certOutput, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d bytes written to %s\n", len(data), certOutput)
		return nil
	},
}

var certRevokeCmd = &cobra.Command{
	Use:   "revoke <serial>",
	Short: "Revoke a certificate you own",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := accountClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		receipt, err := c.Revoke(ctx, args[0])
		if err != nil {
			return fmt.Errorf("revoke: %w", err)
		}
		return render(cmd.OutOrStdout(), receipt, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "Certificate %s revoked.\n", args[0])
			printReceipt(tw, receipt)
		})
	},
}

var certListCmd = &cobra.Command{
	Use:   "list",
	Short: "List certificates in registration order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := anonClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		page, err := c.List(ctx, certOffset, certLimit)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), page, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "SERIAL\tDOMAIN\tOWNER\tREVOKED\tCREATED")
			for _, cert := range page.Certificates {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\n",
					cert.SerialNumber, cert.Domain, cert.Owner, cert.Revoked, formatTime(&cert.CreatedAt))
			}
			fmt.Fprintf(tw, "\n%d-%d of %d\n", page.Offset, page.Offset+len(page.Certificates), page.Total)
		})
	},
}

var certCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of certificates ever registered",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := anonClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		total, err := c.TotalCount(ctx)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), map[string]int{"total": total}, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, total)
		})
	},
}

var certOwnerCmd = &cobra.Command{
	Use:   "owner <account>",
	Short: "List the serials registered by an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := anonClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		serials, err := c.CertificatesOf(ctx, args[0])
		if err != nil {
			return err
		}
		out := map[string]any{"owner": args[0], "serials": serials}
		return render(cmd.OutOrStdout(), out, func(tw *tabwriter.Writer) {
			if len(serials) == 0 {
				fmt.Fprintf(tw, "%s has no certificates.\n", args[0])
				return
			}
			for _, s := range serials {
				fmt.Fprintln(tw, s)
			}
		})
	},
}

func renderRegistration(cmd *cobra.Command, reg *client.Registration) error {
	return render(cmd.OutOrStdout(), reg, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "Certificate registered.")
		printCertificate(tw, reg.Certificate)
		printReceipt(tw, &reg.Receipt)
	})
}

func printCertificate(tw *tabwriter.Writer, cert *model.Certificate) {
	fmt.Fprintf(tw, "Serial:\t%s\n", cert.SerialNumber)
	fmt.Fprintf(tw, "Domain:\t%s\n", cert.Domain)
	fmt.Fprintf(tw, "Owner:\t%s\n", cert.Owner)
	fmt.Fprintf(tw, "Content ID:\t%s\n", cert.ContentID)
	fmt.Fprintf(tw, "Content hash:\t%s\n", cert.ContentHash)
	fmt.Fprintf(tw, "Created:\t%s\n", formatTime(&cert.CreatedAt))
	if cert.Revoked {
		fmt.Fprintf(tw, "Revoked:\t%s\n", formatTime(cert.RevokedAt))
	}
}

func printReceipt(tw *tabwriter.Writer, r *client.Receipt) {
	fmt.Fprintf(tw, "Ledger index:\t%d\n", r.Index)
	fmt.Fprintf(tw, "Ledger hash:\t%s\n", r.Hash)
}

func init() {
	for _, c := range []*cobra.Command{certUploadCmd, certRegisterCmd} {
		c.Flags().StringVar(&certDomain, "domain", "", "domain (default: CN in the file)")
		c.Flags().StringVar(&certSerial, "serial", "", "serial number (default: derived from file name)")
	}
	certDownloadCmd.Flags().StringVarP(&certOutput, "output", "o", "", "write to file instead of stdout")
	certListCmd.Flags().IntVar(&certOffset, "offset", 0, "first position to list")
	certListCmd.Flags().IntVar(&certLimit, "limit", 50, "maximum certificates to list")

	certCmd.AddCommand(
		certUploadCmd,
		certRegisterCmd,
		certGetCmd,
		certDownloadCmd,
		certRevokeCmd,
		certListCmd,
		certCountCmd,
		certOwnerCmd,
	)
	rootCmd.AddCommand(certCmd)
}
