package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/certledger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

const defaultRegistry = "http://localhost:8080"

var (
	registryURL string
	cfgFile     string
	tokenFile   string
	format      string
	timeout     time.Duration
	insecure    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "certctl",
	Short: "certledger CLI",
	Long: `certctl is the command-line interface for a certledger registry.

It proves domain control through DNS challenges, registers and revokes
certificates, stores content and resolves domains to a security status.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		home, _ := os.UserHomeDir()
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath(filepath.Join(home, ".certctl"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("CERTCTL")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if registryURL == "" {
			registryURL = viper.GetString("registry_url")
		}
		if registryURL == "" {
			registryURL = defaultRegistry
		}
		if tokenFile == "" {
			tokenFile = viper.GetString("token_file")
		}
		if tokenFile == "" {
			tokenFile = filepath.Join(home, ".certctl", "token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.certctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry", "", "registry URL (default "+defaultRegistry+")")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "account token file (default ~/.certctl/token)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "text", "output format: text, json or yaml")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "skip TLS certificate verification (development only)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the certctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "certctl", version)
	},
}

// ── Shared helpers ───────────────────────────────────────────────────────────

func clientOptions(extra ...client.Option) []client.Option {
	opts := []client.Option{client.WithTimeout(timeout)}
	if insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	return append(opts, extra...)
}

// anonClient returns a client without credentials.
func anonClient() (*client.Client, error) {
	return client.New(registryURL, clientOptions()...)
}

// accountClient returns a client authenticated with the saved token.
func accountClient() (*client.Client, error) {
	c, err := client.NewFromTokenFile(registryURL, tokenFile, clientOptions()...)
	if err != nil {
		if errors.Is(err, client.ErrNoToken) {
			return nil, fmt.Errorf("no token at %s; run 'certctl token issue --save' first", tokenFile)
		}
		return nil, err
	}
	return c, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

// render writes v in the selected output format. text is used for the
// default format and may be nil to fall back to YAML.
func render(w io.Writer, v any, text func(tw *tabwriter.Writer)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		return writeYAML(w, v)
	case "text", "":
		if text == nil {
			return writeYAML(w, v)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		text(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

// writeYAML round-trips v through JSON so the YAML keys match the API's.
func writeYAML(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
