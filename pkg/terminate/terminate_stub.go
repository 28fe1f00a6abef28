//go:build !linux
// +build !linux

package terminate

import "errors"

var errUnsupported = errors.New("process termination requires linux")

func kill(pid int) error {
	return errUnsupported
}
