package main

import (
	"fmt"

	"github.com/srodi/tabreaper/pkg/collector/memory"
	"github.com/srodi/tabreaper/pkg/config"
	"github.com/srodi/tabreaper/pkg/loop"
)

// openMemorySource returns the configured memory source and its closer.
func openMemorySource(cfg config.SourcesConfig) (loop.MemorySource, func() error, error) {
	switch cfg.MemorySource {
	case config.SourceProcFS:
		return memory.ProcScan{FS: memory.ProcFS(cfg.ProcRoot), Comm: cfg.RendererComm}, noopClose, nil
	case config.SourceBPFMap:
		m, err := memory.OpenPinnedMap(cfg.BPFMap)
		if err != nil {
			return nil, nil, fmt.Errorf("opening pinned map %s: %w", cfg.BPFMap, err)
		}
		return m, m.Close, nil
	default:
		return memory.InfoFile(cfg.MemoryInterface), noopClose, nil
	}
}

func noopClose() error { return nil }
