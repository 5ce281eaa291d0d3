// Package daemon runs the server as a detached background process tracked
// by a PID file.
package daemon

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"newsdigest/internal/logger"
)

const (
	PIDFileName = "newsdigest.pid"
	LogFileName = "newsdigest.log"
)

var (
	// ErrNotRunning is returned when no live daemon process is recorded
	ErrNotRunning = errors.New("daemon is not running")
	// ErrAlreadyRunning is returned by Start when a live daemon exists
	ErrAlreadyRunning = errors.New("daemon is already running")
)

// Status describes the recorded daemon process
type Status struct {
	Running bool
	PID     int
	Stale   bool // a PID file existed but its process was gone
	PIDFile string
	LogFile string
}

// Manager starts and stops the background server
type Manager struct {
	PIDFile    string
	LogFile    string
	Executable string
	log        *slog.Logger
}

// New creates a manager keeping its files in dataDir
func New(dataDir string) (*Manager, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &Manager{
		PIDFile:    filepath.Join(dataDir, PIDFileName),
		LogFile:    filepath.Join(dataDir, LogFileName),
		Executable: exe,
		log:        logger.Get(),
	}, nil
}

// ReadPID returns the recorded PID, or ErrNotRunning when there is no file
func (m *Manager) ReadPID() (int, error) {
	data, err := os.ReadFile(m.PIDFile)
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNotRunning
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", m.PIDFile)
	}
	return pid, nil
}

func (m *Manager) writePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(m.PIDFile), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return os.WriteFile(m.PIDFile, []byte(strconv.Itoa(pid)), 0o644)
}

func (m *Manager) removePID() {
	if err := os.Remove(m.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Warn("Failed to remove PID file", "path", m.PIDFile, "error", err)
	}
}

// Status reports whether the recorded process is alive. A stale PID file is
// removed.
func (m *Manager) Status() (Status, error) {
	st := Status{PIDFile: m.PIDFile, LogFile: m.LogFile}

	pid, err := m.ReadPID()
	if errors.Is(err, ErrNotRunning) {
		return st, nil
	}
	if err != nil {
		return st, err
	}

	st.PID = pid
	if processAlive(pid) {
		st.Running = true
		return st, nil
	}
	st.Stale = true
	m.removePID()
	return st, nil
}

// Start launches the executable with args detached from the terminal,
// appending its output to the log file.
func (m *Manager) Start(args []string) (int, error) {
	st, err := m.Status()
	if err != nil {
		return 0, err
	}
	if st.Running {
		return st.PID, ErrAlreadyRunning
	}

	if err := os.MkdirAll(filepath.Dir(m.LogFile), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create data directory: %w", err)
	}
	logFile, err := os.OpenFile(m.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(m.Executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = os.Environ()
	cmd.SysProcAttr = detachAttrs()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	if err := m.writePID(pid); err != nil {
		_ = cmd.Process.Kill()
		return 0, fmt.Errorf("failed to write PID file: %w", err)
	}
	// Reap the child if it exits while this process is still alive.
	go func() { _ = cmd.Wait() }()

	m.log.Info("Daemon started", "pid", pid, "log_file", m.LogFile)
	return pid, nil
}

// Stop asks the daemon to shut down and waits up to timeout for it to exit
func (m *Manager) Stop(timeout time.Duration) error {
	st, err := m.Status()
	if err != nil {
		return err
	}
	if !st.Running {
		return ErrNotRunning
	}

	if err := terminate(st.PID); err != nil {
		return fmt.Errorf("failed to signal daemon: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(st.PID) {
			m.removePID()
			m.log.Info("Daemon stopped", "pid", st.PID)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon (PID %d) did not exit within %s", st.PID, timeout)
}

// Restart stops a running daemon, if any, and starts a new one
func (m *Manager) Restart(args []string, timeout time.Duration) (int, error) {
	if err := m.Stop(timeout); err != nil && !errors.Is(err, ErrNotRunning) {
		return 0, err
	}
	return m.Start(args)
}

// TailLog returns up to n trailing non-empty lines of the daemon log
func (m *Manager) TailLog(n int) ([]string, error) {
	f, err := os.Open(m.LogFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, scanner.Err()
}
