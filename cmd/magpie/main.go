package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/synqronlabs/magpie"
	"github.com/synqronlabs/magpie/dns"
)

var (
	configPath string
	verbose    bool
	version    = "dev"
	commit     = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "magpie",
		Short: "Magpie - batch mail submission client",
		Long: `Magpie submits batches of messages to a mail submission server over a
single SMTP session and reports a per-message outcome.`,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to TOML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(probeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// fileConfig is the TOML shape of the server section of the config file.
type fileConfig struct {
	Server struct {
		Host      string `toml:"host"`
		Port      int    `toml:"port"`
		Security  string `toml:"security"`
		LocalName string `toml:"local_name"`
	} `toml:"server"`
	Auth struct {
		Username   string   `toml:"username"`
		Password   string   `toml:"password"`
		Mechanisms []string `toml:"mechanisms"`
	} `toml:"auth"`
	Timeouts struct {
		ConnectSeconds int `toml:"connect_seconds"`
		ReadSeconds    int `toml:"read_seconds"`
		WriteSeconds   int `toml:"write_seconds"`
	} `toml:"timeouts"`
	DNS struct {
		// Nameservers are host:port pairs queried instead of the system
		// resolver.
		Nameservers    []string `toml:"nameservers"`
		TimeoutSeconds int      `toml:"timeout_seconds"`
	} `toml:"dns"`
}

var sendCmd = &cobra.Command{
	Use:   "send [message files...]",
	Short: "Submit messages as one batch",
	Long: `Submit message files (RFC 5322 format) to the configured server as a
single batch and print the outcome report as JSON. Envelopes are derived
from each message's headers.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe server capabilities",
	Long:  "Connect to the configured server, negotiate the handshake and print its capability digest.",
	RunE:  runProbe,
}

func init() {
	sendCmd.Flags().String("host", "", "server hostname (overrides config)")
	sendCmd.Flags().Int("port", 0, "server port (overrides config)")
	sendCmd.Flags().String("security", "", "transport security: none, starttls, starttls-required, tls")
	sendCmd.Flags().Bool("msgpack", false, "emit the report as MessagePack instead of JSON")

	probeCmd.Flags().String("host", "", "server hostname (overrides config)")
	probeCmd.Flags().Int("port", 0, "server port (overrides config)")
	probeCmd.Flags().String("security", "", "transport security: none, starttls, starttls-required, tls")
}

// buildConfig merges the config file and command flags into a client
// config.
func buildConfig(cmd *cobra.Command) (magpie.Config, error) {
	var cfg magpie.Config

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		var fc fileConfig
		if err := toml.Unmarshal(data, &fc); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
		cfg.Host = fc.Server.Host
		cfg.Port = fc.Server.Port
		cfg.LocalName = fc.Server.LocalName
		if fc.Server.Security != "" {
			sec, err := parseSecurity(fc.Server.Security)
			if err != nil {
				return cfg, err
			}
			cfg.Security = sec
		}
		if fc.Auth.Username != "" {
			cfg.Auth = &magpie.Credentials{
				Username:   fc.Auth.Username,
				Password:   fc.Auth.Password,
				Mechanisms: fc.Auth.Mechanisms,
			}
		}
		cfg.ConnectTimeout = time.Duration(fc.Timeouts.ConnectSeconds) * time.Second
		cfg.ReadTimeout = time.Duration(fc.Timeouts.ReadSeconds) * time.Second
		cfg.WriteTimeout = time.Duration(fc.Timeouts.WriteSeconds) * time.Second
		if len(fc.DNS.Nameservers) > 0 {
			cfg.Resolver = dns.NewResolver(dns.ResolverConfig{
				Nameservers: fc.DNS.Nameservers,
				Timeout:     time.Duration(fc.DNS.TimeoutSeconds) * time.Second,
			})
		}
	}

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}
	if sec, _ := cmd.Flags().GetString("security"); sec != "" {
		parsed, err := parseSecurity(sec)
		if err != nil {
			return cfg, err
		}
		cfg.Security = parsed
	}

	if cfg.Host == "" {
		return cfg, fmt.Errorf("no server host configured (use --host or a config file)")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, nil
}

func parseSecurity(s string) (magpie.Security, error) {
	switch strings.ToLower(s) {
	case "none":
		return magpie.SecurityNone, nil
	case "starttls":
		return magpie.SecurityStartTLS, nil
	case "starttls-required":
		return magpie.SecurityStartTLSRequired, nil
	case "tls":
		return magpie.SecurityTLS, nil
	default:
		return 0, fmt.Errorf("unknown security mode %q", s)
	}
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	requests := make([]*magpie.Request, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read message %s: %w", path, err)
		}
		msg, err := parseMessageFile(data)
		if err != nil {
			return fmt.Errorf("parse message %s: %w", path, err)
		}
		requests = append(requests, magpie.NewRequest(msg))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, sendErr := magpie.SendAll(ctx, cfg, requests)

	if asMsgpack, _ := cmd.Flags().GetBool("msgpack"); asMsgpack {
		os.Stdout.Write(report.ToMessagePack())
	} else {
		out, err := report.ToJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}

	if sendErr != nil {
		return fmt.Errorf("batch stopped early: %w", sendErr)
	}
	if !report.AllAccepted() {
		return fmt.Errorf("%d of %d messages not accepted",
			report.Failed()+report.NotAttempted(), len(report.Outcomes))
	}
	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	caps, err := magpie.Probe(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Print(caps.String())
	return nil
}
