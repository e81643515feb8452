//go:build linux

package host

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func reboot() error {
	unix.Sync()
	return errors.Wrap(unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART), "reboot")
}
