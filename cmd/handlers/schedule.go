package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"newsdigest/internal/config"
	"newsdigest/internal/scheduler"

	"github.com/spf13/cobra"
)

// NewScheduleCmd creates the schedule command group
func NewScheduleCmd() *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and control the digest schedule on the running server",
	}

	scheduleCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schedule state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showSchedule(commandContext(cmd))
		},
	})

	scheduleCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Enable the schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setScheduleEnabled(commandContext(cmd), true)
		},
	})

	scheduleCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Disable the schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setScheduleEnabled(commandContext(cmd), false)
		},
	})

	scheduleCmd.AddCommand(&cobra.Command{
		Use:   "interval <minutes>",
		Short: "Set the schedule interval",
		Long: `Set how often digests are sent. The interval is given in minutes and must
be a whole number of hours between 60 and 1440. Digests fire at the hours
of the day divisible by the interval, counted from local midnight.

Examples:
  # Every three hours: 00:00, 03:00, 06:00, ...
  newsdigest schedule interval 180`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("interval must be a number of minutes, got %q", args[0])
			}
			hours, err := intervalFromMinutes(minutes)
			if err != nil {
				return err
			}

			resp, err := newClient().SetInterval(commandContext(cmd), hours)
			if err != nil {
				return err
			}
			fmt.Printf("✅ %s: every %d hour(s)\n", resp.Message, resp.Interval)
			fmt.Printf("   Daily times (%s): %s\n", config.Get().App.Timezone, strings.Join(scheduler.DailyTimes(resp.Interval), ", "))
			return nil
		},
	})

	return scheduleCmd
}

// intervalFromMinutes converts a CLI interval to whole hours
func intervalFromMinutes(minutes int) (int, error) {
	if minutes < 60 || minutes > 1440 || minutes%60 != 0 {
		return 0, fmt.Errorf("interval must be a whole number of hours between 60 and 1440 minutes, got %d", minutes)
	}
	return minutes / 60, nil
}

func showSchedule(ctx context.Context) error {
	sched, err := newClient().Schedule(ctx)
	if err != nil {
		return err
	}

	lines := []string{
		field("Enabled", stateBadge(sched.Enabled, "yes", "no")),
		field("Timer", stateBadge(sched.IsActive, "scheduled", "idle")),
		field("Interval", fmt.Sprintf("every %d hour(s)", sched.Interval)),
		field("Times", strings.Join(sched.Times, ", ")),
		field("Timezone", config.Get().App.Timezone),
		field("Running", stateBadge(sched.Running, "yes", "no")),
	}
	if sched.NextRun != "" {
		lines = append(lines, field("Next run", sched.NextRun))
	}
	lines = append(lines, field("Recipients", len(sched.Recipients)))

	fmt.Println(panel("Digest schedule", lines...))
	return nil
}

func setScheduleEnabled(ctx context.Context, enable bool) error {
	client := newClient()
	sched, err := client.Schedule(ctx)
	if err != nil {
		return err
	}
	if sched.Enabled == enable {
		fmt.Printf("Schedule is already %s\n", map[bool]string{true: "enabled", false: "disabled"}[enable])
		return nil
	}

	resp, err := client.ToggleSchedule(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✅ %s\n", resp.Message)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
