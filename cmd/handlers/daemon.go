package handlers

import (
	"errors"
	"fmt"
	"time"

	"newsdigest/internal/config"
	"newsdigest/internal/daemon"

	"github.com/spf13/cobra"
)

const daemonStopTimeout = 30 * time.Second

// NewDaemonCmd creates the daemon command group
func NewDaemonCmd() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the server in the background",
	}

	daemonCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the background server",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newDaemonManager()
			if err != nil {
				return err
			}
			pid, err := m.Start(serveArgs())
			if errors.Is(err, daemon.ErrAlreadyRunning) {
				fmt.Printf("Daemon is already running (PID %d)\n", pid)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("✅ Daemon started (PID %d)\n   Log: %s\n", pid, m.LogFile)
			return nil
		},
	})

	daemonCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the background server",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newDaemonManager()
			if err != nil {
				return err
			}
			if err := m.Stop(daemonStopTimeout); errors.Is(err, daemon.ErrNotRunning) {
				fmt.Println("Daemon is not running")
				return nil
			} else if err != nil {
				return err
			}
			fmt.Println("✅ Daemon stopped")
			return nil
		},
	})

	daemonCmd.AddCommand(&cobra.Command{
		Use:   "restart",
		Short: "Restart the background server",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newDaemonManager()
			if err != nil {
				return err
			}
			pid, err := m.Restart(serveArgs(), daemonStopTimeout)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Daemon restarted (PID %d)\n", pid)
			return nil
		},
	})

	var tail int
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the background server is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newDaemonManager()
			if err != nil {
				return err
			}
			st, err := m.Status()
			if err != nil {
				return err
			}

			lines := []string{field("State", stateBadge(st.Running, "running", "stopped"))}
			if st.Running {
				lines = append(lines, field("PID", st.PID))
			}
			if st.Stale {
				lines = append(lines, field("Note", warnStyle.Render(fmt.Sprintf("removed stale PID file for %d", st.PID))))
			}
			lines = append(lines, field("PID file", st.PIDFile), field("Log file", st.LogFile))
			fmt.Println(panel("Daemon", lines...))

			if tail > 0 {
				recent, err := m.TailLog(tail)
				if err != nil {
					return err
				}
				if len(recent) > 0 {
					fmt.Println("\nRecent logs:")
					for _, line := range recent {
						fmt.Println(line)
					}
				}
			}
			return nil
		},
	}
	statusCmd.Flags().IntVar(&tail, "tail", 10, "Number of recent log lines to show")
	daemonCmd.AddCommand(statusCmd)

	return daemonCmd
}

func newDaemonManager() (*daemon.Manager, error) {
	return daemon.New(config.Get().App.DataDir)
}

// serveArgs are the arguments the detached process is started with
func serveArgs() []string {
	args := []string{"serve"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	return args
}
