//go:build !linux

package memory

import (
	"errors"
	"testing"
)

func TestPinnedMapStubBehavior(t *testing.T) {
	if _, err := OpenPinnedMap("/sys/fs/bpf/tabreaper_rss"); !errors.Is(err, errUnsupported) {
		t.Fatalf("expected errUnsupported, got %v", err)
	}

	var p PinnedMap
	if samples, err := p.Samples(); err != errUnsupported || samples != nil {
		t.Fatalf("samples should fail with errUnsupported, got samples=%v err=%v", samples, err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close should no-op, got %v", err)
	}
}
