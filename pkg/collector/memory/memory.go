package memory

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/srodi/tabreaper/pkg/types"
)

const (
	pidMarker = "PID: "
	rssMarker = "RSS: "
)

// ParseLine extracts a sample from one line of the memory interface. Both
// markers must be present and parse as integers; lines without a live pid or
// with no resident memory are skipped.
func ParseLine(line string) (types.ProcessMemorySample, bool) {
	pid, ok := markerValue(line, pidMarker)
	if !ok || pid <= 0 || pid > 1<<31-1 {
		return types.ProcessMemorySample{}, false
	}
	rss, ok := markerValue(line, rssMarker)
	if !ok || rss <= 0 {
		return types.ProcessMemorySample{}, false
	}
	return types.ProcessMemorySample{PID: int(pid), RSSKB: rss}, true
}

// markerValue parses the integer following marker, up to the next comma or
// the end of the line.
func markerValue(line, marker string) (int64, bool) {
	_, rest, found := strings.Cut(line, marker)
	if !found {
		return 0, false
	}
	if i := strings.IndexByte(rest, ','); i >= 0 {
		rest = rest[:i]
	}
	v, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseLines scans a line-oriented stream and keeps every well-formed sample.
func ParseLines(r io.Reader) ([]types.ProcessMemorySample, error) {
	var samples []types.ProcessMemorySample
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if s, ok := ParseLine(scanner.Text()); ok {
			samples = append(samples, s)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// InfoFile is the text interface exported by the chrome_info kernel module,
// one "Found Chrome process: PID: <pid>, Name: <comm>, RSS: <kb>, ..." line
// per process.
type InfoFile string

// Samples reads the interface once.
func (f InfoFile) Samples() ([]types.ProcessMemorySample, error) {
	file, err := os.Open(string(f))
	if err != nil {
		return nil, fmt.Errorf("opening memory interface: %w", err)
	}
	defer file.Close()

	samples, err := ParseLines(file)
	if err != nil {
		return nil, fmt.Errorf("reading memory interface %s: %w", string(f), err)
	}
	return samples, nil
}

// ProcScan samples every process named Comm straight from procfs, for hosts
// without the kernel module.
type ProcScan struct {
	FS   ProcFS
	Comm string
}

// Samples walks the process table once.
func (s ProcScan) Samples() ([]types.ProcessMemorySample, error) {
	pids, err := s.FS.PIDs()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	samples := make([]types.ProcessMemorySample, 0, len(pids))
	for _, pid := range pids {
		comm, err := s.FS.Comm(pid)
		if err != nil || comm != s.Comm {
			continue
		}
		rss, err := s.FS.RSSKB(pid)
		if err != nil || rss <= 0 {
			continue
		}
		samples = append(samples, types.ProcessMemorySample{PID: pid, RSSKB: rss})
	}
	return samples, nil
}
