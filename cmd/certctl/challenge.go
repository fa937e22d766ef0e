package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/certledger/internal/dnspublish"
	"github.com/jmerrifield20/certledger/internal/dnspublish/aliyun"
	"github.com/jmerrifield20/certledger/internal/dnspublish/tencent"
	"github.com/jmerrifield20/certledger/internal/registry/model"
	"github.com/jmerrifield20/certledger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var challengeCmd = &cobra.Command{
	Use:     "challenge",
	Aliases: []string{"dns-challenge"},
	Short:   "Prove control of a domain with a DNS TXT challenge",
	Long: `The challenge flow is:

  1. certctl challenge start example.com
  2. publish the printed TXT record (by hand, or with 'certctl challenge publish')
  3. certctl challenge verify <id> --wait 2m

A verified challenge authorises one certificate registration for the domain.`,
}

var (
	challengeProvider string
	challengeZone     string
	challengePublish  bool
	challengeWait     time.Duration
	challengeInterval time.Duration
	challengeVerbose  bool
)

var challengeStartCmd = &cobra.Command{
	Use:   "start <domain>",
	Short: "Start a challenge for a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := accountClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		ch, err := c.StartChallenge(ctx, args[0])
		if err != nil {
			return fmt.Errorf("start challenge: %w", err)
		}
		if challengePublish {
			p, err := newPublisher()
			if err != nil {
				return err
			}
			if err := dnspublish.Challenge(ctx, p, ch); err != nil {
				return err
			}
		}
		return render(cmd.OutOrStdout(), ch, func(tw *tabwriter.Writer) {
			printChallenge(tw, ch)
			fmt.Fprintln(tw)
			if challengePublish {
				fmt.Fprintf(tw, "TXT record published via %s.\n", challengeProvider)
			} else {
				fmt.Fprintln(tw, "Publish this DNS TXT record, then run verify:")
				fmt.Fprintf(tw, "  %s\tTXT\t%q\n", ch.TXTHost, ch.TXTRecord)
			}
			fmt.Fprintf(tw, "  certctl challenge verify %s\n", ch.ID)
		})
	},
}

var challengeGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a challenge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := anonClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		ch, err := c.GetChallenge(ctx, args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), ch, func(tw *tabwriter.Writer) { printChallenge(tw, ch) })
	},
}

var challengeVerifyCmd = &cobra.Command{
	Use:   "verify <id>",
	Short: "Ask the registry to look up the TXT record and verify the challenge",
	Long: `Verify asks the registry to resolve the challenge TXT record. With --wait,
a failed lookup is retried every --interval until it succeeds, the wait
elapses or the challenge expires. DNS propagation usually takes a minute.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := accountClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout+challengeWait)
		defer cancel()

		ch, err := verifyWithRetry(ctx, c, args[0], challengeWait, challengeInterval)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), ch, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "Domain %s verified for %s.\n", ch.Domain, ch.Requester)
			fmt.Fprintln(tw, "You can now register one certificate for it.")
		})
	},
}

// verifyWithRetry retries ErrVerificationFailed until wait elapses.
func verifyWithRetry(ctx context.Context, c *client.Client, id string, wait, interval time.Duration) (*model.Challenge, error) {
	deadline := time.Now().Add(wait)
	for {
		ch, err := c.VerifyChallenge(ctx, id)
		if err == nil {
			return ch, nil
		}
		if !errors.Is(err, client.ErrVerificationFailed) || time.Now().Add(interval).After(deadline) {
			return nil, fmt.Errorf("verify challenge: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

var challengeCompleteCmd = &cobra.Command{
	Use:   "complete <id> <observed-value>",
	Short: "Report an externally observed challenge value (requires the challenge:complete scope)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := accountClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		ch, err := c.CompleteChallenge(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("complete challenge: %w", err)
		}
		return render(cmd.OutOrStdout(), ch, func(tw *tabwriter.Writer) { printChallenge(tw, ch) })
	},
}

var challengePublishCmd = &cobra.Command{
	Use:   "publish <id>",
	Short: "Publish the challenge TXT record through a DNS provider API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withChallengeRecord(cmd, args[0], dnspublish.Challenge, "published")
	},
}

var challengeCleanupCmd = &cobra.Command{
	Use:   "cleanup <id>",
	Short: "Remove the challenge TXT record through a DNS provider API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withChallengeRecord(cmd, args[0], dnspublish.Cleanup, "removed")
	},
}

func withChallengeRecord(cmd *cobra.Command, id string, fn func(context.Context, dnspublish.Publisher, *model.Challenge) error, verb string) error {
	c, err := anonClient()
	if err != nil {
		return err
	}
	p, err := newPublisher()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	ch, err := c.GetChallenge(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(ctx, p, ch); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "TXT record %s %s via %s\n", ch.TXTHost, verb, p.Name())
	return nil
}

// newPublisher builds the DNS provider named by --provider or dns.provider.
// Credentials come from the dns.<provider> config section.
func newPublisher() (dnspublish.Publisher, error) {
	if challengeProvider == "" {
		challengeProvider = viper.GetString("dns.provider")
	}
	logger := zap.NewNop()
	if challengeVerbose {
		logger, _ = zap.NewDevelopment()
	}

	switch challengeProvider {
	case "aliyun":
		var cfg aliyun.Config
		if err := viper.UnmarshalKey("dns.aliyun", &cfg); err != nil {
			return nil, fmt.Errorf("read dns.aliyun config: %w", err)
		}
		if challengeZone != "" {
			cfg.Zone = challengeZone
		}
		return aliyun.New(cfg, logger)
	case "tencent":
		var cfg tencent.Config
		if err := viper.UnmarshalKey("dns.tencent", &cfg); err != nil {
			return nil, fmt.Errorf("read dns.tencent config: %w", err)
		}
		if challengeZone != "" {
			cfg.Zone = challengeZone
		}
		return tencent.New(cfg, logger)
	case "":
		return nil, fmt.Errorf("no DNS provider configured (--provider or dns.provider)")
	default:
		return nil, fmt.Errorf("unknown DNS provider %q (want aliyun or tencent)", challengeProvider)
	}
}

func printChallenge(tw *tabwriter.Writer, ch *model.Challenge) {
	fmt.Fprintf(tw, "ID:\t%s\n", ch.ID)
	fmt.Fprintf(tw, "Domain:\t%s\n", ch.Domain)
	fmt.Fprintf(tw, "Requester:\t%s\n", ch.Requester)
	fmt.Fprintf(tw, "Status:\t%s\n", ch.Status)
	fmt.Fprintf(tw, "Expires:\t%s\n", formatTime(&ch.ExpiresAt))
	if ch.VerifiedAt != nil {
		fmt.Fprintf(tw, "Verified:\t%s\n", formatTime(ch.VerifiedAt))
	}
	if ch.ConsumedBy != "" {
		fmt.Fprintf(tw, "Consumed by:\t%s\n", ch.ConsumedBy)
	}
	if ch.TXTHost != "" {
		fmt.Fprintf(tw, "TXT host:\t%s\n", ch.TXTHost)
		fmt.Fprintf(tw, "TXT value:\t%s\n", ch.TXTRecord)
	}
}

func init() {
	for _, c := range []*cobra.Command{challengeStartCmd, challengePublishCmd, challengeCleanupCmd} {
		c.Flags().StringVar(&challengeProvider, "provider", "", "DNS provider: aliyun or tencent (default dns.provider)")
		c.Flags().StringVar(&challengeZone, "zone", "", "hosted zone, e.g. example.co.uk (default: last two labels of the domain)")
		c.Flags().BoolVarP(&challengeVerbose, "verbose", "v", false, "log DNS provider calls")
	}
	challengeStartCmd.Flags().BoolVar(&challengePublish, "publish", false, "publish the TXT record through --provider")
	challengeVerifyCmd.Flags().DurationVar(&challengeWait, "wait", 0, "keep retrying a failed lookup for this long")
	challengeVerifyCmd.Flags().DurationVar(&challengeInterval, "interval", 10*time.Second, "delay between lookups with --wait")

	challengeCmd.AddCommand(
		challengeStartCmd,
		challengeGetCmd,
		challengeVerifyCmd,
		challengeCompleteCmd,
		challengePublishCmd,
		challengeCleanupCmd,
	)
	rootCmd.AddCommand(challengeCmd)
}
