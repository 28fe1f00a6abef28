// Package evict decides which renderer processes to kill on every cycle.
//
// The Engine owns the only state carried between cycles: per-pid idle
// counters and the observation windows of the change-rate policy. Counters
// are dropped as soon as their pid is killed or disappears from the snapshot,
// so a recycled pid never inherits a stale history.
package evict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"pkt.systems/pslog"

	"github.com/srodi/tabreaper/pkg/terminate"
	"github.com/srodi/tabreaper/pkg/types"
)

// ErrUnknownPolicy is returned for a policy name the engine cannot run.
var ErrUnknownPolicy = errors.New("unknown eviction policy")

// Limits are the thresholds the three policies compare against.
type Limits struct {
	RSSLimitKB       int64
	IdleTimeLimit    int // seconds
	MemoryChangeRate float64
	ChangeRateWindow int // seconds
}

// Engine runs one eviction policy per call and keeps per-pid counters.
type Engine struct {
	limits Limits
	term   terminate.Terminator
	log    pslog.Logger

	inactiveSeconds map[int]int
	warmupSeconds   map[int]int
	runningRSS      map[int]int64
}

// New returns an engine with empty counters.
func New(limits Limits, term terminate.Terminator, logger pslog.Logger) *Engine {
	if limits.ChangeRateWindow <= 0 {
		limits.ChangeRateWindow = types.DefaultChangeRateWindowSeconds
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Engine{
		limits:          limits,
		term:            term,
		log:             logger,
		inactiveSeconds: make(map[int]int),
		warmupSeconds:   make(map[int]int),
		runningRSS:      make(map[int]int64),
	}
}

// InactiveSeconds reports how long pid has been continuously in the
// background, or 0 when it is not tracked.
func (e *Engine) InactiveSeconds(pid int) int {
	return e.inactiveSeconds[pid]
}

// Evict applies policy to snapshot. A termination failure stops the rest of
// this call and is returned; the counters stay consistent for the next cycle.
func (e *Engine) Evict(snapshot []types.TabSnapshot, policy types.Policy, intervalSeconds int) error {
	if intervalSeconds <= 0 {
		return fmt.Errorf("invalid cycle interval %ds", intervalSeconds)
	}
	e.forgetVanished(snapshot)

	switch policy {
	case types.PolicyIdleTime:
		return e.evictIdle(snapshot, intervalSeconds)
	case types.PolicyRSSLimit:
		return e.evictLargest(snapshot)
	case types.PolicyMemoryChangeRate:
		return e.evictStable(snapshot, intervalSeconds)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
}

func (e *Engine) evictIdle(snapshot []types.TabSnapshot, interval int) error {
	for _, tab := range snapshot {
		if tab.Active || tab.PID == types.NoPID {
			delete(e.inactiveSeconds, tab.PID)
			continue
		}
		e.inactiveSeconds[tab.PID] += interval
		idle := e.inactiveSeconds[tab.PID]
		if idle <= e.limits.IdleTimeLimit {
			continue
		}
		if err := e.kill(tab, types.PolicyIdleTime, "idle_seconds", idle); err != nil {
			return err
		}
	}
	return nil
}

// evictLargest kills at most one renderer per cycle: the background tab with
// the highest RSS. Equal RSS values keep snapshot order.
func (e *Engine) evictLargest(snapshot []types.TabSnapshot) error {
	var total int64
	for _, tab := range snapshot {
		total += tab.RSSKB
	}
	e.log.Info("renderer rss total", "total_kb", total, "limit_kb", e.limits.RSSLimitKB)
	if total <= e.limits.RSSLimitKB {
		return nil
	}

	ranked := make([]types.TabSnapshot, len(snapshot))
	copy(ranked, snapshot)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].RSSKB > ranked[j].RSSKB })

	for _, tab := range ranked {
		if tab.Active || tab.PID == types.NoPID {
			continue
		}
		return e.kill(tab, types.PolicyRSSLimit, "rss_kb", tab.RSSKB)
	}
	e.log.Warn("rss limit exceeded with no background renderer to kill", "total_kb", total)
	return nil
}

// evictStable kills renderers whose memory has stopped moving. Samples
// accumulate while a pid's window has not elapsed; the first cycle past the
// window compares the current sample against the window average and starts
// a new window.
func (e *Engine) evictStable(snapshot []types.TabSnapshot, interval int) error {
	window := e.limits.ChangeRateWindow
	perWindow := window / interval

	for _, tab := range snapshot {
		if tab.PID == types.NoPID {
			continue
		}
		e.warmupSeconds[tab.PID] += interval
		if e.warmupSeconds[tab.PID] <= window {
			e.runningRSS[tab.PID] += tab.RSSKB
			continue
		}

		total := e.runningRSS[tab.PID]
		delete(e.warmupSeconds, tab.PID)
		delete(e.runningRSS, tab.PID)
		if perWindow == 0 || total == 0 {
			e.log.Debug("change rate skipped", "pid", tab.PID, "tab_id", tab.TabID, "window_total_kb", total)
			continue
		}

		average := float64(total) / float64(perWindow)
		rate := math.Abs(float64(tab.RSSKB)-average) / average
		e.log.Debug("memory change rate", "pid", tab.PID, "tab_id", tab.TabID, "rate", rate, "average_kb", average)
		if tab.PID > 0 && rate < e.limits.MemoryChangeRate {
			if err := e.kill(tab, types.PolicyMemoryChangeRate, "change_rate", rate); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) kill(tab types.TabSnapshot, policy types.Policy, reasonKey string, reason any) error {
	if err := e.term.Terminate(tab.PID); err != nil {
		e.log.Error("renderer kill failed", "pid", tab.PID, "tab_id", tab.TabID, "policy", string(policy), "err", err)
		return fmt.Errorf("%s: tab %d: %w", policy, tab.TabID, err)
	}
	e.forget(tab.PID)
	e.log.Info("renderer killed", "pid", tab.PID, "tab_id", tab.TabID, "tab", tab.Name, "policy", string(policy), reasonKey, reason)
	return nil
}

func (e *Engine) forget(pid int) {
	delete(e.inactiveSeconds, pid)
	delete(e.warmupSeconds, pid)
	delete(e.runningRSS, pid)
}

func (e *Engine) forgetVanished(snapshot []types.TabSnapshot) {
	live := make(map[int]struct{}, len(snapshot))
	for _, tab := range snapshot {
		live[tab.PID] = struct{}{}
	}
	for _, counters := range []map[int]int{e.inactiveSeconds, e.warmupSeconds} {
		for pid := range counters {
			if _, ok := live[pid]; !ok {
				delete(counters, pid)
			}
		}
	}
	for pid := range e.runningRSS {
		if _, ok := live[pid]; !ok {
			delete(e.runningRSS, pid)
		}
	}
}
