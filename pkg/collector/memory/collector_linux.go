//go:build linux
// +build linux

package memory

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"

	"github.com/srodi/tabreaper/pkg/types"
)

// PinnedMap reads per-PID resident memory from a BPF hash map pinned by an
// external tracer. Keys are u32 pids, values are u64 RSS in kilobytes.
type PinnedMap struct {
	m *ebpf.Map
}

const iterateRetries = 3

type mapIterator interface {
	Next(key, value any) bool
	Err() error
}

// OpenPinnedMap opens the map read-only.
func OpenPinnedMap(path string) (*PinnedMap, error) {
	m, err := ebpf.LoadPinnedMap(path, &ebpf.LoadPinOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("loading pinned map %s: %w", path, err)
	}
	return &PinnedMap{m: m}, nil
}

// Samples iterates the map once. Iteration restarts when the kernel side
// deletes entries underneath us.
func (p *PinnedMap) Samples() ([]types.ProcessMemorySample, error) {
	var lastErr error
	for attempt := 1; attempt <= iterateRetries; attempt++ {
		samples, err := collectSamples(p.m.Iterate())
		if err == nil {
			return samples, nil
		}
		lastErr = err
		if !errors.Is(err, ebpf.ErrIterationAborted) {
			break
		}
	}
	return nil, fmt.Errorf("iterating rss map: %w", lastErr)
}

// Close releases the map file descriptor.
func (p *PinnedMap) Close() error {
	if p.m == nil {
		return nil
	}
	return p.m.Close()
}

func collectSamples(iter mapIterator) ([]types.ProcessMemorySample, error) {
	var (
		pid uint32
		rss uint64
	)
	var samples []types.ProcessMemorySample
	for iter.Next(&pid, &rss) {
		if pid == 0 || rss == 0 {
			continue
		}
		samples = append(samples, types.ProcessMemorySample{PID: int(pid), RSSKB: int64(rss)})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}
