package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"newsdigest/internal/apiclient"
	"newsdigest/internal/config"
	"newsdigest/internal/pipeline"
	"newsdigest/internal/store"

	"github.com/spf13/cobra"
)

// NewDigestCmd creates the digest command group
func NewDigestCmd() *cobra.Command {
	digestCmd := &cobra.Command{
		Use:   "digest",
		Short: "Generate digests",
	}

	digestCmd.AddCommand(newDigestRunCmd())
	digestCmd.AddCommand(newDigestTriggerCmd())
	return digestCmd
}

func newDigestRunCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one digest in this process",
		Long: `Fetch, rank, summarize and send one digest without a running server.

The run uses the configured store. With the default memory store nothing
outlives the command, so this is mostly useful with --dry-run or with the
sqlite driver.

Examples:
  # Generate and email a digest now
  newsdigest digest run

  # Generate and store a digest without sending email
  newsdigest digest run --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigestOnce(commandContext(cmd), dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Generate and store the digest without sending email")
	return cmd
}

func runDigestOnce(ctx context.Context, dryRun bool) error {
	cfg := config.Get()

	repo, err := store.Open(ctx, cfg.Storage, store.DefaultSettings(cfg, time.Now()))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer repo.Close()

	p, err := pipeline.NewBuilder(cfg).WithStore(repo).WithDryRun(dryRun).Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	fmt.Println("🔄 Generating digest...")
	report, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("digest run failed: %w", err)
	}

	fmt.Printf("\n✅ Digest generated: %s\n", report.Title)
	fmt.Printf("   ID: %s\n", report.DigestID)
	fmt.Printf("   Articles: %d\n", report.Articles)
	if report.DryRun {
		fmt.Println("   Email: skipped (dry run)")
	} else {
		fmt.Printf("   Sent: %d, Failed: %d\n", report.Sent, report.Failed)
	}
	fmt.Printf("   Duration: %s\n", report.Duration.Round(time.Millisecond))
	return nil
}

func newDigestTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Ask the running server to generate and send a digest now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			fmt.Println("🔄 Triggering digest on the server...")
			res, err := newClient().Trigger(ctx)
			var apiErr *apiclient.APIError
			if err != nil && !errors.As(err, &apiErr) {
				return err
			}
			if !res.Success {
				msg := res.Message
				if msg == "" && apiErr != nil {
					msg = apiErr.Message
				}
				return fmt.Errorf("trigger failed: %s", msg)
			}

			fmt.Printf("✅ %s\n", res.Message)
			if res.DigestID != "" {
				fmt.Printf("   Digest ID: %s\n", res.DigestID)
			}
			return nil
		},
	}
}
