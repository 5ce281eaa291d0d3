package handlers

import (
	"fmt"
	"net/url"

	"newsdigest/internal/config"

	"github.com/spf13/cobra"
)

// NewSourceCmd creates the source command group
func NewSourceCmd() *cobra.Command {
	sourceCmd := &cobra.Command{
		Use:   "source",
		Short: "Show or change the news source",
	}

	sourceCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the configured source and listing sections",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			fmt.Printf("📰 Source: %s\n", cfg.News.SourceURL)
			for _, s := range cfg.News.Sections {
				fmt.Printf("  • %-8s %-14s %-5s %s\n", s.Name, s.Category, s.Kind, s.URL)
			}
			return nil
		},
	})

	sourceCmd.AddCommand(&cobra.Command{
		Use:   "set <url>",
		Short: "Set the news source URL in the config file",
		Long: `Write a new news.source_url to the active config file (or create
./.newsdigest.yaml). A running server picks it up on restart.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateSourceURL(args[0]); err != nil {
				return err
			}
			path, err := config.SetSourceURL(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("✅ Source set to %s (%s)\n", args[0], path)
			fmt.Println("   Restart the server to apply: newsdigest daemon restart")
			return nil
		},
	})

	return sourceCmd
}

func validateSourceURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("source must be an absolute http(s) URL, got %q", raw)
	}
	return nil
}
