package handlers

import (
	"fmt"

	"newsdigest/internal/config"

	"github.com/spf13/cobra"
)

// NewLogsCmd creates the logs command
func NewLogsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent system logs from the running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logs, err := newClient().SystemLogs(commandContext(cmd), limit)
			if err != nil {
				return err
			}
			if len(logs) == 0 {
				fmt.Println("No system logs yet")
				return nil
			}

			loc := config.Get().Location()
			// Oldest first, like a tail.
			for i := len(logs) - 1; i >= 0; i-- {
				l := logs[i]
				fmt.Printf("%s %s %s\n", l.CreatedAt.In(loc).Format("2006-01-02 15:04:05"), logTypeBadge(l.Type), l.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of log entries to show")
	return cmd
}
