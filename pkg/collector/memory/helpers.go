package memory

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// procReadFile and procReadDir allow tests to stub procfs access.
var (
	procReadFile = os.ReadFile
	procReadDir  = os.ReadDir
)

const rendererClientIDFlag = "--renderer-client-id="

// ProcFS is a procfs mount point, usually "/proc".
type ProcFS string

func (p ProcFS) path(pid int, name string) string {
	return filepath.Join(string(p), strconv.Itoa(pid), name)
}

// PIDs lists the numeric entries of the process table.
func (p ProcFS) PIDs() ([]int, error) {
	entries, err := procReadDir(string(p))
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// Cmdline returns the command line of pid with arguments separated by spaces.
func (p ProcFS) Cmdline(pid int) (string, error) {
	if pid <= 0 {
		return "", fmt.Errorf("invalid pid %d", pid)
	}
	data, err := procReadFile(p.path(pid, "cmdline"))
	if err != nil {
		return "", err
	}
	data = bytes.TrimRight(data, "\x00")
	return string(bytes.ReplaceAll(data, []byte{0}, []byte{' '})), nil
}

// Comm returns the short command name of pid.
func (p ProcFS) Comm(pid int) (string, error) {
	data, err := procReadFile(p.path(pid, "comm"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// RSSKB returns the resident set size of pid in kilobytes.
func (p ProcFS) RSSKB(pid int) (int64, error) {
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d", pid)
	}
	data, err := procReadFile(p.path(pid, "statm"))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, fmt.Errorf("unexpected statm format for pid %d", pid)
	}
	rssPages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, err
	}
	return rssPages * int64(os.Getpagesize()) / 1024, nil
}

// TotalMemoryKB returns MemTotal from meminfo.
func (p ProcFS) TotalMemoryKB() (int64, error) {
	data, err := procReadFile(filepath.Join(string(p), "meminfo"))
	if err != nil {
		return 0, err
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "MemTotal:") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return 0, fmt.Errorf("unexpected format for MemTotal")
			}
			return strconv.ParseInt(fields[1], 10, 64)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("MemTotal not found in %s/meminfo", string(p))
}

// RendererClientID extracts the tab id a renderer was started for.
func RendererClientID(cmdline string) (int, bool) {
	_, rest, found := strings.Cut(cmdline, rendererClientIDFlag)
	if !found {
		return 0, false
	}
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		rest = rest[:i]
	}
	id, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return id, true
}
