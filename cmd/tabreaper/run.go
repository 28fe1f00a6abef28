package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srodi/tabreaper/pkg/collector/memory"
	"github.com/srodi/tabreaper/pkg/collector/tabs"
	"github.com/srodi/tabreaper/pkg/config"
	"github.com/srodi/tabreaper/pkg/evict"
	"github.com/srodi/tabreaper/pkg/loop"
	"github.com/srodi/tabreaper/pkg/report"
	"github.com/srodi/tabreaper/pkg/server"
	"github.com/srodi/tabreaper/pkg/supervisor"
	"github.com/srodi/tabreaper/pkg/terminate"
	"pkt.systems/pslog"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool
	var noServers bool
	var noLiveView bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the eviction daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if dryRun {
				cfg.Daemon.DryRun = true
			}
			if noServers {
				cfg.Servers.Enabled = false
			}
			if noLiveView {
				cfg.Daemon.LiveView = false
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log evictions instead of killing renderers")
	cmd.Flags().BoolVar(&noServers, "no-servers", false, "do not start the tab-info receiver and dashboard")
	cmd.Flags().BoolVar(&noLiveView, "no-live-view", false, "log cycles instead of redrawing a table on the terminal")
	return cmd
}

func runDaemon(ctx context.Context, cfg config.Config) error {
	live := cfg.Daemon.LiveView && term.IsTerminal(int(os.Stdout.Fd()))
	ctx = liveLogContext(ctx, live)
	logger := pslog.Ctx(ctx)
	systemKB := systemMemoryKB(cfg.Sources.ProcRoot, logger)

	mem, closeMem, err := openMemorySource(cfg.Sources)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeMem(); err != nil {
			logger.Warn("closing memory source failed", "err", err)
		}
	}()

	sup := supervisor.New(ctx, logger)
	sup.WatchContext(ctx)
	defer sup.Shutdown(shutdownTimeout)

	startAuxiliary(sup, cfg, logger)
	if cfg.Daemon.CleanupOnExit {
		sup.RemoveOnShutdown(cfg.Sources.TabLog, cfg.Report.Path)
	}

	if !startupDelay(ctx, time.Duration(cfg.Daemon.StartupDelaySeconds)*time.Second, logger) {
		return nil
	}

	engine := evict.New(cfg.Limits(), newTerminator(cfg, logger), logger)
	l := &loop.Loop{
		Config: loop.Config{
			Policy:          cfg.Policy(),
			IntervalSeconds: cfg.Manager.CycleIntervalSeconds,
		},
		Tabs:    tabs.LogFile(cfg.Sources.TabLog),
		Memory:  mem,
		Cmdline: memory.ProcFS(cfg.Sources.ProcRoot).Cmdline,
		Evictor: engine,
		Report:  report.File(cfg.Report.Path),
		Stop:    sup,
		Logger:  logger,
	}

	if live {
		view := newLiveView(os.Stdout, cfg, systemKB)
		restore := enableSingleView(logger)
		defer restore()
		l.Observer = view.draw
	} else {
		l.Observer = cycleLogger(logger, systemKB)
	}

	return l.Run(ctx)
}

// liveLogContext raises the log level to warn while the live view owns the
// terminal, so info lines on stderr do not tear the redrawn table.
func liveLogContext(ctx context.Context, live bool) context.Context {
	if !live {
		return ctx
	}
	return pslog.ContextWithLogger(ctx, pslog.Ctx(ctx).LogLevel(pslog.WarnLevel))
}

// systemMemoryKB returns MemTotal, or 0 when meminfo cannot be read.
func systemMemoryKB(procRoot string, logger pslog.Logger) int64 {
	total, err := memory.ProcFS(procRoot).TotalMemoryKB()
	if err != nil {
		logger.Debug("system memory unknown", "err", err)
		return 0
	}
	return total
}

func newTerminator(cfg config.Config, logger pslog.Logger) terminate.Terminator {
	if cfg.Daemon.DryRun {
		logger.Warn("dry run enabled, renderers will not be killed")
		return terminate.DryRun{Logger: logger}
	}
	return terminate.Signal{}
}

// startAuxiliary launches the HTTP servers and configured child commands.
// Failures are logged; the control loop runs without them.
func startAuxiliary(sup *supervisor.Supervisor, cfg config.Config, logger pslog.Logger) {
	if cfg.Servers.Enabled {
		tabLog := cfg.Sources.TabLog
		reportPath := cfg.Report.Path
		sup.Go("tab-info", func(ctx context.Context) error {
			return server.ListenAndServe(ctx, cfg.Servers.TabInfoAddr, server.TabInfoHandler(tabLog))
		})
		sup.Go("dashboard", func(ctx context.Context) error {
			return server.ListenAndServe(ctx, cfg.Servers.DashboardAddr, server.DashboardHandler(reportPath))
		})
	}
	for i, argv := range cfg.Servers.Commands {
		if err := sup.Start(argv[0], argv); err != nil {
			logger.Error("auxiliary command failed to start", "index", i, "err", err)
		}
	}
}

// startupDelay waits d unless ctx ends first. It reports whether to go on.
func startupDelay(ctx context.Context, d time.Duration, logger pslog.Logger) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	logger.Info("waiting for the first tab log", "delay", d.String())
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func cycleLogger(logger pslog.Logger, systemKB int64) func(report.Document) {
	return func(doc report.Document) {
		fields := []any{"tabs", len(doc.Tabs), "total_rss_kb", doc.TotalRSS()}
		if share, ok := doc.SystemShare(systemKB); ok {
			fields = append(fields, "system_share_pct", share)
		}
		logger.Info("cycle complete", fields...)
		for _, e := range doc.Tabs {
			logger.Debug("tab",
				"tab_id", e.TabID,
				"pid", e.TabProcessID,
				"rss_kb", e.TabRSS,
				"active", e.IsActive,
				"inactive_s", e.InactiveTime,
				"name", e.TabName,
			)
		}
	}
}
