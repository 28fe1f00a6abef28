// Package snapshot correlates tab records with renderer memory samples.
package snapshot

import (
	"github.com/srodi/tabreaper/pkg/collector/memory"
	"github.com/srodi/tabreaper/pkg/types"
)

// CmdlineFunc returns the command line of a live process.
type CmdlineFunc func(pid int) (string, error)

// Bind maps tab ids to the sample of the renderer started for that tab. A
// pid whose command line cannot be read, or that carries no renderer client
// id, binds to nothing.
func Bind(samples []types.ProcessMemorySample, cmdline CmdlineFunc) map[int]types.ProcessMemorySample {
	bindings := make(map[int]types.ProcessMemorySample, len(samples))
	tabForPID := make(map[int]int, len(samples))
	unbound := make(map[int]struct{})

	for _, s := range samples {
		if _, skip := unbound[s.PID]; skip {
			continue
		}
		tabID, seen := tabForPID[s.PID]
		if !seen {
			line, err := cmdline(s.PID)
			if err != nil {
				unbound[s.PID] = struct{}{}
				continue
			}
			id, ok := memory.RendererClientID(line)
			if !ok {
				unbound[s.PID] = struct{}{}
				continue
			}
			tabID = id
			tabForPID[s.PID] = id
		}
		bindings[tabID] = s
	}
	return bindings
}

// Join emits exactly one entry per tab, in tab order. Tabs without a bound
// renderer get NoPID and zero RSS.
func Join(tabs []types.TabRecord, bindings map[int]types.ProcessMemorySample) []types.TabSnapshot {
	out := make([]types.TabSnapshot, 0, len(tabs))
	for _, tab := range tabs {
		entry := types.TabSnapshot{
			TabID:  tab.TabID,
			Name:   tab.Name,
			PID:    types.NoPID,
			Active: tab.Active,
		}
		if s, ok := bindings[tab.TabID]; ok {
			entry.PID = s.PID
			entry.RSSKB = s.RSSKB
		}
		out = append(out, entry)
	}
	return out
}

// Build runs Bind then Join.
func Build(tabs []types.TabRecord, samples []types.ProcessMemorySample, cmdline CmdlineFunc) []types.TabSnapshot {
	return Join(tabs, Bind(samples, cmdline))
}
