// Package config loads the daemon configuration.
package config

import (
	"fmt"

	"github.com/srodi/tabreaper/pkg/evict"
	"github.com/srodi/tabreaper/pkg/types"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when none is given.
const DefaultPath = "manager.toml"

// Memory source kinds.
const (
	SourceChromeInfo = "chrome_info"
	SourceProcFS     = "procfs"
	SourceBPFMap     = "bpfmap"
)

// Config is the full daemon configuration.
type Config struct {
	Manager ManagerConfig `mapstructure:"chrome_memory_manager" yaml:"chrome_memory_manager"`
	Sources SourcesConfig `mapstructure:"sources" yaml:"sources"`
	Report  ReportConfig  `mapstructure:"report" yaml:"report"`
	Servers ServersConfig `mapstructure:"servers" yaml:"servers"`
	Daemon  DaemonConfig  `mapstructure:"daemon" yaml:"daemon"`
}

// ManagerConfig holds the eviction thresholds and cadence.
type ManagerConfig struct {
	RSSLimit                int64   `mapstructure:"rss_limit" yaml:"rss_limit"`
	IdleTimeLimit           int     `mapstructure:"idle_time_limit" yaml:"idle_time_limit"`
	MemoryChangeRate        float64 `mapstructure:"memory_change_rate" yaml:"memory_change_rate"`
	CycleIntervalSeconds    int     `mapstructure:"cycle_interval_seconds" yaml:"cycle_interval_seconds"`
	Policy                  string  `mapstructure:"policy" yaml:"policy"`
	ChangeRateWindowSeconds int     `mapstructure:"change_rate_window_seconds" yaml:"change_rate_window_seconds"`
}

// SourcesConfig names where tab and memory data come from.
type SourcesConfig struct {
	TabLog          string `mapstructure:"tab_log" yaml:"tab_log"`
	MemorySource    string `mapstructure:"memory_source" yaml:"memory_source"`
	MemoryInterface string `mapstructure:"memory_interface" yaml:"memory_interface"`
	ProcRoot        string `mapstructure:"proc_root" yaml:"proc_root"`
	RendererComm    string `mapstructure:"renderer_comm" yaml:"renderer_comm"`
	BPFMap          string `mapstructure:"bpf_map" yaml:"bpf_map"`
}

// ReportConfig configures the report document.
type ReportConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ServersConfig configures the auxiliary HTTP servers and child commands.
type ServersConfig struct {
	Enabled       bool       `mapstructure:"enabled" yaml:"enabled"`
	TabInfoAddr   string     `mapstructure:"tab_info_addr" yaml:"tab_info_addr"`
	DashboardAddr string     `mapstructure:"dashboard_addr" yaml:"dashboard_addr"`
	Commands      [][]string `mapstructure:"commands" yaml:"commands"`
}

// DaemonConfig configures process-level behaviour.
type DaemonConfig struct {
	StartupDelaySeconds int  `mapstructure:"startup_delay_seconds" yaml:"startup_delay_seconds"`
	DryRun              bool `mapstructure:"dry_run" yaml:"dry_run"`
	CleanupOnExit       bool `mapstructure:"cleanup_on_exit" yaml:"cleanup_on_exit"`
	LiveView            bool `mapstructure:"live_view" yaml:"live_view"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Manager: ManagerConfig{
			RSSLimit:                1 << 20,
			IdleTimeLimit:           600,
			MemoryChangeRate:        0.5,
			CycleIntervalSeconds:    5,
			Policy:                  string(types.PolicyIdleTime),
			ChangeRateWindowSeconds: types.DefaultChangeRateWindowSeconds,
		},
		Sources: SourcesConfig{
			TabLog:          "log.json",
			MemorySource:    SourceChromeInfo,
			MemoryInterface: "/proc/chrome_info",
			ProcRoot:        "/proc",
			RendererComm:    "chrome",
			BPFMap:          "/sys/fs/bpf/tabreaper_rss",
		},
		Report: ReportConfig{Path: "output.json"},
		Servers: ServersConfig{
			Enabled:       true,
			TabInfoAddr:   "127.0.0.1:8080",
			DashboardAddr: "127.0.0.1:5000",
		},
		Daemon: DaemonConfig{
			StartupDelaySeconds: 15,
			CleanupOnExit:       true,
			LiveView:            true,
		},
	}
}

// Policy returns the configured eviction policy. Validate must have passed.
func (c Config) Policy() types.Policy {
	p, _ := types.ParsePolicy(c.Manager.Policy)
	return p
}

// Limits returns the eviction thresholds.
func (c Config) Limits() evict.Limits {
	return evict.Limits{
		RSSLimitKB:       c.Manager.RSSLimit,
		IdleTimeLimit:    c.Manager.IdleTimeLimit,
		MemoryChangeRate: c.Manager.MemoryChangeRate,
		ChangeRateWindow: c.Manager.ChangeRateWindowSeconds,
	}
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	m := c.Manager
	if m.CycleIntervalSeconds <= 0 {
		return fmt.Errorf("chrome_memory_manager.cycle_interval_seconds must be positive, got %d", m.CycleIntervalSeconds)
	}
	if m.RSSLimit < 0 {
		return fmt.Errorf("chrome_memory_manager.rss_limit must not be negative, got %d", m.RSSLimit)
	}
	if m.IdleTimeLimit < 0 {
		return fmt.Errorf("chrome_memory_manager.idle_time_limit must not be negative, got %d", m.IdleTimeLimit)
	}
	if !(m.MemoryChangeRate > 0) {
		return fmt.Errorf("chrome_memory_manager.memory_change_rate must be positive, got %v", m.MemoryChangeRate)
	}
	if m.ChangeRateWindowSeconds <= 0 {
		return fmt.Errorf("chrome_memory_manager.change_rate_window_seconds must be positive, got %d", m.ChangeRateWindowSeconds)
	}
	if _, ok := types.ParsePolicy(m.Policy); !ok {
		return fmt.Errorf("%w %q", evict.ErrUnknownPolicy, m.Policy)
	}
	switch c.Sources.MemorySource {
	case SourceChromeInfo, SourceProcFS, SourceBPFMap:
	default:
		return fmt.Errorf("unsupported sources.memory_source %q", c.Sources.MemorySource)
	}
	if c.Sources.TabLog == "" {
		return fmt.Errorf("sources.tab_log is required")
	}
	if c.Report.Path == "" {
		return fmt.Errorf("report.path is required")
	}
	if c.Daemon.StartupDelaySeconds < 0 {
		return fmt.Errorf("daemon.startup_delay_seconds must not be negative, got %d", c.Daemon.StartupDelaySeconds)
	}
	for i, argv := range c.Servers.Commands {
		if len(argv) == 0 {
			return fmt.Errorf("servers.commands[%d] is empty", i)
		}
	}
	return nil
}

// YAML renders the configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
