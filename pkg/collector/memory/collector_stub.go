//go:build !linux
// +build !linux

package memory

import (
	"errors"

	"github.com/srodi/tabreaper/pkg/types"
)

var errUnsupported = errors.New("pinned map source requires linux")

// PinnedMap is a placeholder on non-Linux platforms.
type PinnedMap struct{}

// OpenPinnedMap returns an error because BPF maps only exist on Linux.
func OpenPinnedMap(path string) (*PinnedMap, error) {
	return nil, errUnsupported
}

// Samples always fails on unsupported platforms.
func (p *PinnedMap) Samples() ([]types.ProcessMemorySample, error) {
	return nil, errUnsupported
}

// Close is a no-op stub.
func (p *PinnedMap) Close() error {
	return nil
}
