// Package terminate kills renderer processes.
package terminate

import (
	"context"
	"errors"
	"fmt"

	"pkt.systems/pslog"

	"github.com/srodi/tabreaper/pkg/types"
)

// Terminator stops a renderer process. Terminating NoPID or a pid that no
// longer exists succeeds.
type Terminator interface {
	Terminate(pid int) error
}

var errInvalidPID = errors.New("refusing to signal non-process pid")

// Error is a termination failure not explained by the process being gone.
type Error struct {
	PID int
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("terminating pid %d: %v", e.PID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Signal delivers SIGKILL.
type Signal struct{}

// Terminate kills pid unconditionally.
func (Signal) Terminate(pid int) error {
	if pid == types.NoPID {
		return nil
	}
	// 0 and other negative values address process groups
	if pid <= 0 {
		return &Error{PID: pid, Err: errInvalidPID}
	}
	if err := kill(pid); err != nil {
		return &Error{PID: pid, Err: err}
	}
	return nil
}

// DryRun logs the kill it would have performed.
type DryRun struct {
	Logger pslog.Logger
}

// Terminate only logs.
func (d DryRun) Terminate(pid int) error {
	if pid == types.NoPID {
		return nil
	}
	logger := d.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	logger.Info("dry run: would kill renderer", "pid", pid)
	return nil
}
