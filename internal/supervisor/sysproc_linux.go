//go:build linux

package supervisor

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr asks the kernel to SIGTERM the worker when the supervisor dies.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: unix.SIGTERM}
}
