// Package loop drives snapshot building, eviction and reporting on a fixed
// cadence until a stop is requested.
package loop

import (
	"context"
	"fmt"
	"time"

	"pkt.systems/pslog"

	"github.com/srodi/tabreaper/pkg/report"
	"github.com/srodi/tabreaper/pkg/snapshot"
	"github.com/srodi/tabreaper/pkg/types"
)

// TabSource yields the tab records of the current tab log.
type TabSource interface {
	Tabs() ([]types.TabRecord, error)
}

// MemorySource yields renderer memory samples.
type MemorySource interface {
	Samples() ([]types.ProcessMemorySample, error)
}

// Evictor applies an eviction policy and owns the cross-cycle counters.
type Evictor interface {
	Evict(snapshot []types.TabSnapshot, policy types.Policy, intervalSeconds int) error
	InactiveSeconds(pid int) int
}

// ReportWriter persists the post-cycle view.
type ReportWriter interface {
	Write(doc report.Document) error
}

// StopSignal is polled once per cycle boundary.
type StopSignal interface {
	StopRequested() bool
}

// FatalError marks a failure the daemon cannot continue after.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Config is the immutable per-run setup.
type Config struct {
	Policy          types.Policy
	IntervalSeconds int
}

// Loop is the control loop. Every dependency except Observer is required.
type Loop struct {
	Config  Config
	Tabs    TabSource
	Memory  MemorySource
	Cmdline snapshot.CmdlineFunc
	Evictor Evictor
	Report  ReportWriter
	Stop    StopSignal
	Logger  pslog.Logger

	// Observer, when set, receives every report after it is built.
	Observer func(report.Document)
}

// Run cycles until ctx is cancelled or a stop is requested. The check happens
// at the top of each iteration, so an in-flight cycle always completes. Only
// a *FatalError is returned.
func (l *Loop) Run(ctx context.Context) error {
	logger := l.logger(ctx)
	interval := time.Duration(l.Config.IntervalSeconds) * time.Second
	logger.Info("control loop running", "policy", string(l.Config.Policy), "interval", interval.String())

	for {
		if l.stopping(ctx) {
			logger.Info("control loop stopping")
			return nil
		}
		if err := l.Cycle(); err != nil {
			return err
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Cycle runs one snapshot, evict and report pass. Failing to read either
// input is fatal; eviction and report failures are logged.
func (l *Loop) Cycle() error {
	logger := l.logger(context.Background())

	tabs, err := l.Tabs.Tabs()
	if err != nil {
		return &FatalError{Op: "reading tab log", Err: err}
	}
	samples, err := l.Memory.Samples()
	if err != nil {
		return &FatalError{Op: "reading memory interface", Err: err}
	}

	snap := snapshot.Build(tabs, samples, l.Cmdline)
	logger.Debug("snapshot built", "tabs", len(tabs), "samples", len(samples))

	if err := l.Evictor.Evict(snap, l.Config.Policy, l.Config.IntervalSeconds); err != nil {
		logger.Error("eviction failed", "policy", string(l.Config.Policy), "err", err)
	}

	doc := report.Build(snap, l.Evictor.InactiveSeconds)
	if err := l.Report.Write(doc); err != nil {
		logger.Error("report write failed", "err", err)
	}
	if l.Observer != nil {
		l.Observer(doc)
	}
	return nil
}

func (l *Loop) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return l.Stop != nil && l.Stop.StopRequested()
}

func (l *Loop) logger(ctx context.Context) pslog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return pslog.Ctx(ctx)
}
