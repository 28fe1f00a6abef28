package types

// NoPID marks a tab that has no backing renderer process.
const NoPID = -1

// DefaultChangeRateWindowSeconds is the observation window of the
// memory-change-rate policy.
const DefaultChangeRateWindowSeconds = 30

// Policy selects the eviction strategy run on every cycle.
type Policy string

const (
	PolicyIdleTime         Policy = "idle_time_limit"
	PolicyRSSLimit         Policy = "rss_limit"
	PolicyMemoryChangeRate Policy = "memory_change_rate"
)

// ParsePolicy maps a configured name to a Policy. The misspelled
// "idel_time_limit" used by older manager.toml files is accepted.
func ParsePolicy(name string) (Policy, bool) {
	switch name {
	case string(PolicyIdleTime), "idel_time_limit":
		return PolicyIdleTime, true
	case string(PolicyRSSLimit):
		return PolicyRSSLimit, true
	case string(PolicyMemoryChangeRate):
		return PolicyMemoryChangeRate, true
	}
	return Policy(name), false
}

// TabRecord is one tab as reported by the browser tab log.
type TabRecord struct {
	TabID  int
	Name   string
	Active bool
}

// ProcessMemorySample is the resident memory of one process in KB.
type ProcessMemorySample struct {
	PID   int
	RSSKB int64
}

// TabSnapshot joins a tab with the renderer process bound to it.
// PID is NoPID and RSSKB is zero when no process matched the tab.
type TabSnapshot struct {
	TabID  int
	Name   string
	PID    int
	RSSKB  int64
	Active bool
}
