package evict

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"pkt.systems/pslog"

	"github.com/srodi/tabreaper/pkg/terminate"
	"github.com/srodi/tabreaper/pkg/types"
)

type fakeTerminator struct {
	killed []int
	fail   map[int]error
}

func (f *fakeTerminator) Terminate(pid int) error {
	if err, ok := f.fail[pid]; ok {
		return &terminate.Error{PID: pid, Err: err}
	}
	f.killed = append(f.killed, pid)
	return nil
}

func newLogger(w io.Writer) pslog.Logger {
	return pslog.NewWithOptions(w, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		VerboseFields: true,
		MinLevel:      pslog.DebugLevel,
	})
}

func newEngine(limits Limits) (*Engine, *fakeTerminator) {
	term := &fakeTerminator{}
	return New(limits, term, newLogger(io.Discard)), term
}

func TestIdleKillsOnlyAfterLimitExceeded(t *testing.T) {
	engine, term := newEngine(Limits{IdleTimeLimit: 30})
	snap := []types.TabSnapshot{{TabID: 7, PID: 100, RSSKB: 10, Active: false}}

	for cycle := 1; cycle <= 3; cycle++ {
		if err := engine.Evict(snap, types.PolicyIdleTime, 10); err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
		if len(term.killed) != 0 {
			t.Fatalf("cycle %d: killed too early: %v", cycle, term.killed)
		}
		if got := engine.InactiveSeconds(100); got != cycle*10 {
			t.Fatalf("cycle %d: expected %ds idle, got %d", cycle, cycle*10, got)
		}
	}

	if err := engine.Evict(snap, types.PolicyIdleTime, 10); err != nil {
		t.Fatalf("cycle 4: %v", err)
	}
	if len(term.killed) != 1 || term.killed[0] != 100 {
		t.Fatalf("expected pid 100 killed on cycle 4, got %v", term.killed)
	}
	if got := engine.InactiveSeconds(100); got != 0 {
		t.Fatalf("counter should be forgotten after kill, got %d", got)
	}
}

func TestIdleActivityResetsCounter(t *testing.T) {
	engine, term := newEngine(Limits{IdleTimeLimit: 30})
	background := []types.TabSnapshot{{TabID: 7, PID: 100, Active: false}}
	foreground := []types.TabSnapshot{{TabID: 7, PID: 100, Active: true}}

	steps := [][]types.TabSnapshot{background, background, background, foreground, background, background, background}
	for i, snap := range steps {
		if err := engine.Evict(snap, types.PolicyIdleTime, 10); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if len(term.killed) != 0 {
		t.Fatalf("activity should have reset the idle clock, killed %v", term.killed)
	}
	if got := engine.InactiveSeconds(100); got != 30 {
		t.Fatalf("expected 30s after reset, got %d", got)
	}
	if err := engine.Evict(background, types.PolicyIdleTime, 10); err != nil {
		t.Fatalf("final step: %v", err)
	}
	if len(term.killed) != 1 {
		t.Fatalf("expected kill once limit exceeded, got %v", term.killed)
	}
}

func TestIdleIgnoresSentinelPID(t *testing.T) {
	engine, term := newEngine(Limits{IdleTimeLimit: 0})
	snap := []types.TabSnapshot{{TabID: 1, PID: types.NoPID}}
	for i := 0; i < 5; i++ {
		if err := engine.Evict(snap, types.PolicyIdleTime, 10); err != nil {
			t.Fatalf("evict: %v", err)
		}
	}
	if len(term.killed) != 0 || engine.InactiveSeconds(types.NoPID) != 0 {
		t.Fatalf("sentinel pid must never be tracked or killed, got %v", term.killed)
	}
}

func TestRSSLimitKillsLargestBackgroundTab(t *testing.T) {
	cases := []struct {
		name   string
		limit  int64
		snap   []types.TabSnapshot
		killed []int
	}{
		{
			name:  "largestInactive",
			limit: 100000,
			snap: []types.TabSnapshot{
				{TabID: 1, PID: 11, RSSKB: 600000, Active: true},
				{TabID: 2, PID: 12, RSSKB: 300000},
				{TabID: 3, PID: 13, RSSKB: 500000},
			},
			killed: []int{13},
		},
		{
			name:  "allActive",
			limit: 100,
			snap: []types.TabSnapshot{
				{TabID: 1, PID: 11, RSSKB: 600000, Active: true},
				{TabID: 2, PID: 12, RSSKB: 300000, Active: true},
			},
		},
		{
			name:  "underLimit",
			limit: 1000,
			snap: []types.TabSnapshot{
				{TabID: 1, PID: 11, RSSKB: 600},
				{TabID: 2, PID: 12, RSSKB: 400},
			},
		},
		{
			name:  "tieKeepsSnapshotOrder",
			limit: 100,
			snap: []types.TabSnapshot{
				{TabID: 1, PID: 11, RSSKB: 100},
				{TabID: 2, PID: 12, RSSKB: 500},
				{TabID: 3, PID: 13, RSSKB: 500},
			},
			killed: []int{12},
		},
		{
			name:  "unboundTabsSkipped",
			limit: 10,
			snap: []types.TabSnapshot{
				{TabID: 1, PID: types.NoPID},
				{TabID: 2, PID: 12, RSSKB: 500, Active: true},
			},
		},
		{
			name:   "endToEnd",
			limit:  100000,
			snap:   []types.TabSnapshot{{TabID: 7, Name: "Mail", PID: 123, RSSKB: 500000}},
			killed: []int{123},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, term := newEngine(Limits{RSSLimitKB: tc.limit})
			if err := engine.Evict(tc.snap, types.PolicyRSSLimit, 10); err != nil {
				t.Fatalf("evict: %v", err)
			}
			if len(term.killed) != len(tc.killed) {
				t.Fatalf("expected kills %v, got %v", tc.killed, term.killed)
			}
			for i := range tc.killed {
				if term.killed[i] != tc.killed[i] {
					t.Fatalf("expected kills %v, got %v", tc.killed, term.killed)
				}
			}
		})
	}
}

func TestRSSLimitDoesNotReorderSnapshot(t *testing.T) {
	engine, _ := newEngine(Limits{RSSLimitKB: 1})
	snap := []types.TabSnapshot{
		{TabID: 1, PID: 11, RSSKB: 1},
		{TabID: 2, PID: 12, RSSKB: 9},
	}
	if err := engine.Evict(snap, types.PolicyRSSLimit, 10); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if snap[0].TabID != 1 || snap[1].TabID != 2 {
		t.Fatalf("caller snapshot was reordered: %+v", snap)
	}
}

func TestChangeRateKillsStableRenderer(t *testing.T) {
	engine, term := newEngine(Limits{MemoryChangeRate: 0.1, ChangeRateWindow: 30})
	sample := func(rss int64) []types.TabSnapshot {
		return []types.TabSnapshot{{TabID: 7, PID: 100, RSSKB: rss}}
	}

	for i, rss := range []int64{900, 1000, 1100} {
		if err := engine.Evict(sample(rss), types.PolicyMemoryChangeRate, 10); err != nil {
			t.Fatalf("warmup %d: %v", i, err)
		}
	}
	if len(term.killed) != 0 {
		t.Fatalf("no decision during warm-up, got %v", term.killed)
	}
	if engine.warmupSeconds[100] != 30 || engine.runningRSS[100] != 3000 {
		t.Fatalf("unexpected window state: warmup=%d total=%d", engine.warmupSeconds[100], engine.runningRSS[100])
	}

	// average 1000, |1050-1000|/1000 = 0.05 < 0.1
	if err := engine.Evict(sample(1050), types.PolicyMemoryChangeRate, 10); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(term.killed) != 1 || term.killed[0] != 100 {
		t.Fatalf("expected stable renderer killed, got %v", term.killed)
	}
	if _, ok := engine.warmupSeconds[100]; ok {
		t.Fatalf("window counters should be reset after evaluation")
	}
	if _, ok := engine.runningRSS[100]; ok {
		t.Fatalf("running total should be reset after evaluation")
	}
}

func TestChangeRateKeepsGrowingRendererAndRestartsWindow(t *testing.T) {
	engine, term := newEngine(Limits{MemoryChangeRate: 0.1, ChangeRateWindow: 30})
	sample := func(rss int64) []types.TabSnapshot {
		return []types.TabSnapshot{{TabID: 7, PID: 100, RSSKB: rss}}
	}
	for _, rss := range []int64{1000, 1000, 1000, 2000} {
		if err := engine.Evict(sample(rss), types.PolicyMemoryChangeRate, 10); err != nil {
			t.Fatalf("evict: %v", err)
		}
	}
	if len(term.killed) != 0 {
		t.Fatalf("changing renderer should survive, got %v", term.killed)
	}
	if err := engine.Evict(sample(2000), types.PolicyMemoryChangeRate, 10); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if engine.warmupSeconds[100] != 10 || engine.runningRSS[100] != 2000 {
		t.Fatalf("expected fresh window, got warmup=%d total=%d", engine.warmupSeconds[100], engine.runningRSS[100])
	}
}

func TestChangeRateZeroAverageIsSkipped(t *testing.T) {
	engine, term := newEngine(Limits{MemoryChangeRate: 0.5, ChangeRateWindow: 30})
	snap := []types.TabSnapshot{{TabID: 7, PID: 100, RSSKB: 0}}
	for i := 0; i < 4; i++ {
		if err := engine.Evict(snap, types.PolicyMemoryChangeRate, 10); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if len(term.killed) != 0 {
		t.Fatalf("zero average must not kill, got %v", term.killed)
	}
	if _, ok := engine.warmupSeconds[100]; ok {
		t.Fatalf("window should restart after a skipped evaluation")
	}
}

func TestChangeRateIntervalLongerThanWindow(t *testing.T) {
	engine, term := newEngine(Limits{MemoryChangeRate: 0.5, ChangeRateWindow: 30})
	snap := []types.TabSnapshot{{TabID: 7, PID: 100, RSSKB: 1000}}
	for i := 0; i < 3; i++ {
		if err := engine.Evict(snap, types.PolicyMemoryChangeRate, 60); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if len(term.killed) != 0 {
		t.Fatalf("no samples fit in the window, got kills %v", term.killed)
	}
}

func TestUnknownPolicy(t *testing.T) {
	engine, _ := newEngine(Limits{})
	err := engine.Evict(nil, types.Policy("lru"), 10)
	if !errors.Is(err, ErrUnknownPolicy) {
		t.Fatalf("expected ErrUnknownPolicy, got %v", err)
	}
}

func TestInvalidInterval(t *testing.T) {
	engine, _ := newEngine(Limits{})
	if err := engine.Evict(nil, types.PolicyIdleTime, 0); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestTerminationFailureStopsBranch(t *testing.T) {
	term := &fakeTerminator{fail: map[int]error{11: errors.New("operation not permitted")}}
	engine := New(Limits{IdleTimeLimit: 5}, term, newLogger(io.Discard))
	snap := []types.TabSnapshot{
		{TabID: 1, PID: 11},
		{TabID: 2, PID: 12},
	}
	err := engine.Evict(snap, types.PolicyIdleTime, 10)
	var termErr *terminate.Error
	if !errors.As(err, &termErr) || termErr.PID != 11 {
		t.Fatalf("expected termination error for pid 11, got %v", err)
	}
	if len(term.killed) != 0 {
		t.Fatalf("remaining work should be skipped, got %v", term.killed)
	}
	if engine.InactiveSeconds(11) != 10 {
		t.Fatalf("failed kill must keep the counter, got %d", engine.InactiveSeconds(11))
	}

	delete(term.fail, 11)
	if err := engine.Evict(snap, types.PolicyIdleTime, 10); err != nil {
		t.Fatalf("retry cycle: %v", err)
	}
	if len(term.killed) != 2 {
		t.Fatalf("next cycle should kill both, got %v", term.killed)
	}
}

func TestVanishedPIDIsForgotten(t *testing.T) {
	engine, _ := newEngine(Limits{IdleTimeLimit: 100, ChangeRateWindow: 30})
	tracked := []types.TabSnapshot{{TabID: 1, PID: 50}}
	for i := 0; i < 2; i++ {
		if err := engine.Evict(tracked, types.PolicyIdleTime, 10); err != nil {
			t.Fatalf("evict: %v", err)
		}
		if err := engine.Evict(tracked, types.PolicyMemoryChangeRate, 10); err != nil {
			t.Fatalf("evict: %v", err)
		}
	}
	if engine.InactiveSeconds(50) != 20 {
		t.Fatalf("expected 20s idle, got %d", engine.InactiveSeconds(50))
	}

	if err := engine.Evict([]types.TabSnapshot{{TabID: 2, PID: 60}}, types.PolicyIdleTime, 10); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if engine.InactiveSeconds(50) != 0 {
		t.Fatalf("vanished pid should be forgotten, got %d", engine.InactiveSeconds(50))
	}
	if _, ok := engine.warmupSeconds[50]; ok {
		t.Fatalf("vanished pid window should be forgotten")
	}
	if _, ok := engine.runningRSS[50]; ok {
		t.Fatalf("vanished pid running total should be forgotten")
	}
}

func TestKillIsLoggedWithContext(t *testing.T) {
	var buf bytes.Buffer
	term := &fakeTerminator{}
	engine := New(Limits{RSSLimitKB: 1}, term, newLogger(&buf))
	snap := []types.TabSnapshot{{TabID: 7, Name: "Mail", PID: 123, RSSKB: 500000}}
	if err := engine.Evict(snap, types.PolicyRSSLimit, 10); err != nil {
		t.Fatalf("evict: %v", err)
	}

	found := false
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		entry := map[string]any{}
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry["policy"] == string(types.PolicyRSSLimit) && entry["pid"] == float64(123) && entry["tab_id"] == float64(7) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected kill log with pid, tab_id and policy, got %s", buf.String())
	}
}
