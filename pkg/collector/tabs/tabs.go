package tabs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/srodi/tabreaper/pkg/types"
)

// Keys recognised as the tab's renderer identifier. The browser extension
// writes "pid"; "process_id" is the documented name.
var idKeys = []string{"process_id", "pid"}

const (
	titleKey  = "title"
	activeKey = "active"
)

// readFile allows tests to stub reading the tab log.
var readFile = os.ReadFile

// RecordError reports a tab-bearing node that lacks a valid sibling field.
type RecordError struct {
	Path   string
	Field  string
	Reason string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("tab record at %s: field %q %s", e.Path, e.Field, e.Reason)
}

// LogFile is a tab log on disk, rewritten externally between cycles.
type LogFile string

// Tabs reads and decodes the tab log.
func (f LogFile) Tabs() ([]types.TabRecord, error) {
	data, err := readFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("reading tab log %s: %w", string(f), err)
	}
	recs, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("tab log %s: %w", string(f), err)
	}
	return recs, nil
}

// Parse walks an arbitrarily nested JSON document and returns one record per
// distinct tab id, in order of first appearance. A later record for the same
// id replaces the earlier one in place.
func Parse(r io.Reader) ([]types.TabRecord, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decoding: empty document")
		}
		return nil, fmt.Errorf("decoding: %w", err)
	}

	var c collector
	if err := c.walk(root, "$"); err != nil {
		return nil, err
	}
	return c.records, nil
}

type collector struct {
	records []types.TabRecord
	index   map[int]int
}

func (c *collector) add(rec types.TabRecord) {
	if c.index == nil {
		c.index = make(map[int]int)
	}
	if i, ok := c.index[rec.TabID]; ok {
		c.records[i] = rec
		return
	}
	c.index[rec.TabID] = len(c.records)
	c.records = append(c.records, rec)
}

func (c *collector) walk(v any, path string) error {
	switch n := v.(type) {
	case map[string]any:
		return c.walkObject(n, path)
	case []any:
		for i, child := range n {
			if err := c.walk(child, path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
	}
	// strings, numbers, booleans and nulls carry no tabs
	return nil
}

func (c *collector) walkObject(obj map[string]any, path string) error {
	idKey, isTab := tabIDKey(obj)
	if isTab {
		rec, err := record(obj, idKey, path)
		if err != nil {
			return err
		}
		c.add(rec)
	}

	// Sorted keys keep the traversal order stable between cycles.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if isTab && (k == idKey || k == titleKey || k == activeKey) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.walk(obj[k], path+"."+k); err != nil {
			return err
		}
	}
	return nil
}

func tabIDKey(obj map[string]any) (string, bool) {
	for _, k := range idKeys {
		if _, ok := obj[k]; ok {
			return k, true
		}
	}
	return "", false
}

func record(obj map[string]any, idKey, path string) (types.TabRecord, error) {
	num, ok := obj[idKey].(json.Number)
	if !ok {
		return types.TabRecord{}, &RecordError{Path: path, Field: idKey, Reason: "is not a number"}
	}
	id, err := strconv.ParseInt(num.String(), 10, 32)
	if err != nil {
		return types.TabRecord{}, &RecordError{Path: path, Field: idKey, Reason: "is not an integer"}
	}

	rawTitle, ok := obj[titleKey]
	if !ok {
		return types.TabRecord{}, &RecordError{Path: path, Field: titleKey, Reason: "is missing"}
	}
	title, ok := rawTitle.(string)
	if !ok {
		return types.TabRecord{}, &RecordError{Path: path, Field: titleKey, Reason: "is not a string"}
	}

	rawActive, ok := obj[activeKey]
	if !ok {
		return types.TabRecord{}, &RecordError{Path: path, Field: activeKey, Reason: "is missing"}
	}
	active, ok := rawActive.(bool)
	if !ok {
		return types.TabRecord{}, &RecordError{Path: path, Field: activeKey, Reason: "is not a boolean"}
	}

	return types.TabRecord{TabID: int(id), Name: title, Active: active}, nil
}
