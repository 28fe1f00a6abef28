package main

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/srodi/tabreaper/pkg/config"
	"github.com/srodi/tabreaper/pkg/report"
	"github.com/srodi/tabreaper/pkg/types"
	"github.com/srodi/tabreaper/pkg/ui"
)

type liveView struct {
	out      io.Writer
	policy   types.Policy
	interval time.Duration
	dryRun   bool
	systemKB int64
	now      func() time.Time
}

func newLiveView(out io.Writer, cfg config.Config, systemKB int64) *liveView {
	return &liveView{
		out:      out,
		policy:   cfg.Policy(),
		interval: time.Duration(cfg.Manager.CycleIntervalSeconds) * time.Second,
		dryRun:   cfg.Daemon.DryRun,
		systemKB: systemKB,
		now:      time.Now,
	}
}

func (v *liveView) render(doc report.Document) []byte {
	var buf bytes.Buffer
	buf.WriteString(ui.Banner())
	buf.WriteString("\n")
	fmt.Fprintf(&buf, "tabreaper (press Ctrl+C to exit)\n")
	fmt.Fprintf(&buf, "Updated: %s | Interval: %v | Policy: %s", v.now().Format(time.RFC3339), v.interval, v.policy)
	if v.dryRun {
		buf.WriteString(" | DRY RUN")
	}
	buf.WriteString("\n\n")

	fmt.Fprintf(&buf, "[Tabs: %d, total RSS %.1f MB", len(doc.Tabs), float64(doc.TotalRSS())/1024)
	if share, ok := doc.SystemShare(v.systemKB); ok {
		fmt.Fprintf(&buf, ", %.1f%% of system memory", share)
	}
	buf.WriteString("]\n")
	_ = report.RenderTable(&buf, doc)
	return buf.Bytes()
}

func (v *liveView) draw(doc report.Document) {
	clearScreen(v.out)
	_, _ = v.out.Write(v.render(doc))
}

func clearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[H\033[2J")
}
