package handlers

import (
	"fmt"
	"slices"
	"strings"

	"newsdigest/internal/sanitize"

	"github.com/spf13/cobra"
)

// NewRecipientCmd creates the recipient command group
func NewRecipientCmd() *cobra.Command {
	recipientCmd := &cobra.Command{
		Use:     "recipient",
		Aliases: []string{"recipients"},
		Short:   "Manage digest email recipients on the running server",
	}

	recipientCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recipients",
		RunE: func(cmd *cobra.Command, args []string) error {
			recipients, err := newClient().Recipients(commandContext(cmd))
			if err != nil {
				return err
			}
			if len(recipients) == 0 {
				fmt.Println("No recipients configured")
				return nil
			}
			fmt.Printf("📧 %d recipient(s):\n", len(recipients))
			for _, r := range recipients {
				fmt.Printf("  • %s\n", r)
			}
			return nil
		},
	})

	recipientCmd.AddCommand(&cobra.Command{
		Use:   "add <email>...",
		Short: "Add one or more recipients",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client := newClient()

			current, err := client.Recipients(ctx)
			if err != nil {
				return err
			}
			updated, added, err := addRecipients(current, args)
			if err != nil {
				return err
			}
			if len(added) == 0 {
				fmt.Println("All addresses are already recipients")
				return nil
			}

			if _, err := client.SetRecipients(ctx, updated); err != nil {
				return err
			}
			fmt.Printf("✅ Added %s (%d total)\n", strings.Join(added, ", "), len(updated))
			return nil
		},
	})

	recipientCmd.AddCommand(&cobra.Command{
		Use:   "remove <email>",
		Short: "Remove a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client := newClient()

			current, err := client.Recipients(ctx)
			if err != nil {
				return err
			}
			updated, ok := removeRecipient(current, args[0])
			if !ok {
				return fmt.Errorf("%s is not a recipient", args[0])
			}

			if _, err := client.SetRecipients(ctx, updated); err != nil {
				return err
			}
			fmt.Printf("✅ Removed %s (%d remaining)\n", args[0], len(updated))
			return nil
		},
	})

	return recipientCmd
}

// addRecipients validates and appends addresses not already present.
// Matching ignores case.
func addRecipients(current, addrs []string) (updated, added []string, err error) {
	updated = slices.Clone(current)
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if !sanitize.ValidEmail(addr) {
			return nil, nil, fmt.Errorf("invalid email address: %s", addr)
		}
		if slices.ContainsFunc(updated, func(r string) bool { return strings.EqualFold(r, addr) }) {
			continue
		}
		updated = append(updated, addr)
		added = append(added, addr)
	}
	return updated, added, nil
}

// removeRecipient drops addr, ignoring case, and reports whether it was present
func removeRecipient(current []string, addr string) ([]string, bool) {
	addr = strings.TrimSpace(addr)
	updated := make([]string, 0, len(current))
	found := false
	for _, r := range current {
		if strings.EqualFold(r, addr) {
			found = true
			continue
		}
		updated = append(updated, r)
	}
	return updated, found
}
