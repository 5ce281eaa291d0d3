//go:build !unix

package daemon

import (
	"os"
	"syscall"
)

func detachAttrs() *syscall.SysProcAttr {
	return nil
}

// processAlive cannot probe without signals here; FindProcess fails for
// unknown PIDs on Windows.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
