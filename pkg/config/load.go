package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TABREAPER_REPORT_PATH.
const EnvPrefix = "TABREAPER"

// legacy key -> current key
var legacyKeys = map[string]string{
	"chrome_memory_manager.idel_time_limit": "chrome_memory_manager.idle_time_limit",
	"chrome_memory_manager.reflush_time":    "chrome_memory_manager.cycle_interval_seconds",
	"chrome_memory_manager.strategy":        "chrome_memory_manager.policy",
}

// Load reads configuration from path. If path is empty, uses DefaultPath.
// A missing file is not an error; defaults and environment apply.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("toml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("chrome_memory_manager.rss_limit", cfg.Manager.RSSLimit)
	v.SetDefault("chrome_memory_manager.idle_time_limit", cfg.Manager.IdleTimeLimit)
	v.SetDefault("chrome_memory_manager.memory_change_rate", cfg.Manager.MemoryChangeRate)
	v.SetDefault("chrome_memory_manager.cycle_interval_seconds", cfg.Manager.CycleIntervalSeconds)
	v.SetDefault("chrome_memory_manager.policy", cfg.Manager.Policy)
	v.SetDefault("chrome_memory_manager.change_rate_window_seconds", cfg.Manager.ChangeRateWindowSeconds)
	v.SetDefault("sources.tab_log", cfg.Sources.TabLog)
	v.SetDefault("sources.memory_source", cfg.Sources.MemorySource)
	v.SetDefault("sources.memory_interface", cfg.Sources.MemoryInterface)
	v.SetDefault("sources.proc_root", cfg.Sources.ProcRoot)
	v.SetDefault("sources.renderer_comm", cfg.Sources.RendererComm)
	v.SetDefault("sources.bpf_map", cfg.Sources.BPFMap)
	v.SetDefault("report.path", cfg.Report.Path)
	v.SetDefault("servers.enabled", cfg.Servers.Enabled)
	v.SetDefault("servers.tab_info_addr", cfg.Servers.TabInfoAddr)
	v.SetDefault("servers.dashboard_addr", cfg.Servers.DashboardAddr)
	v.SetDefault("servers.commands", cfg.Servers.Commands)
	v.SetDefault("daemon.startup_delay_seconds", cfg.Daemon.StartupDelaySeconds)
	v.SetDefault("daemon.dry_run", cfg.Daemon.DryRun)
	v.SetDefault("daemon.cleanup_on_exit", cfg.Daemon.CleanupOnExit)
	v.SetDefault("daemon.live_view", cfg.Daemon.LiveView)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	for legacy, current := range legacyKeys {
		// IsSet also reports defaults, so look at the file and env directly.
		if explicitlySet(v, legacy) && !explicitlySet(v, current) {
			v.Set(current, v.Get(legacy))
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// explicitlySet reports whether key comes from the config file or the
// environment rather than a default.
func explicitlySet(v *viper.Viper, key string) bool {
	if v.InConfig(key) {
		return true
	}
	_, ok := os.LookupEnv(envName(key))
	return ok
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
