//go:build !linux

package host

import "github.com/pkg/errors"

func reboot() error {
	return errors.New("reboot is only supported on linux")
}
