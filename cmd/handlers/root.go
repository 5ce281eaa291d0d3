package handlers

import (
	"fmt"
	"os"

	"newsdigest/internal/apiclient"
	"newsdigest/internal/config"
	"newsdigest/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	serverURL string
)

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "newsdigest",
		Short: "Scheduled AI news digests from Free Malaysia Today, delivered by email.",
		Long: `newsdigest scrapes the latest Free Malaysia Today articles, ranks them
for relevance, asks an LLM for a digest and emails it to a recipient list.

Run 'newsdigest serve' (or 'newsdigest daemon start') to host the scheduler
and HTTP API; the other commands talk to that server or run one-off digests.`,
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.newsdigest.yaml or $HOME/.newsdigest.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API base URL (default from config: server.base_url)")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewDigestCmd())
	rootCmd.AddCommand(NewScheduleCmd())
	rootCmd.AddCommand(NewRecipientCmd())
	rootCmd.AddCommand(NewSourceCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewDaemonCmd())
	rootCmd.AddCommand(NewLogsCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Configure(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	if cfg.App.ConfigFile != "" {
		logger.Debug("Using config file", "path", cfg.App.ConfigFile)
	}
}

// newClient returns an API client for the configured or flagged server
func newClient() *apiclient.Client {
	base := serverURL
	if base == "" {
		base = config.Get().Server.BaseURL
	}
	return apiclient.New(base)
}
