// Package report renders the post-cycle view of every known tab.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/srodi/tabreaper/pkg/atomicfile"
	"github.com/srodi/tabreaper/pkg/types"
)

// Entry is one tab in the report document.
type Entry struct {
	TabID        int    `json:"tab_id"`
	TabName      string `json:"tab_name"`
	TabProcessID int    `json:"tab_process_id"`
	TabRSS       int64  `json:"tab_rss"`
	IsActive     bool   `json:"is_active"`
	InactiveTime int    `json:"inactive_time"`
}

// Document is the report file layout read by the dashboard.
type Document struct {
	Tabs []Entry `json:"tab_info_instance"`
}

// IdleFunc returns the accumulated idle seconds of a pid.
type IdleFunc func(pid int) int

// Build produces one entry per snapshot row.
func Build(snapshot []types.TabSnapshot, idle IdleFunc) Document {
	doc := Document{Tabs: make([]Entry, 0, len(snapshot))}
	for _, tab := range snapshot {
		inactive := 0
		if idle != nil && tab.PID != types.NoPID {
			inactive = idle(tab.PID)
		}
		doc.Tabs = append(doc.Tabs, Entry{
			TabID:        tab.TabID,
			TabName:      tab.Name,
			TabProcessID: tab.PID,
			TabRSS:       tab.RSSKB,
			IsActive:     tab.Active,
			InactiveTime: inactive,
		})
	}
	return doc
}

// TotalRSS sums the resident memory of all tabs in KB.
func (d Document) TotalRSS() int64 {
	var total int64
	for _, e := range d.Tabs {
		total += e.TabRSS
	}
	return total
}

// SystemShare returns TotalRSS as a percentage of systemKB. It reports false
// when systemKB is unknown.
func (d Document) SystemShare(systemKB int64) (float64, bool) {
	if systemKB <= 0 {
		return 0, false
	}
	return float64(d.TotalRSS()) * 100 / float64(systemKB), true
}

// Encode serialises the document as indented JSON.
func Encode(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "\t")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a report document.
func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// File writes reports to a fixed path.
type File string

// Write atomically replaces the report file.
func (f File) Write(doc Document) error {
	data, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := atomicfile.Write(string(f), data, 0o644); err != nil {
		return fmt.Errorf("writing report %s: %w", string(f), err)
	}
	return nil
}

// Read loads the report file.
func (f File) Read() (Document, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return Document{}, err
	}
	return Decode(data)
}
