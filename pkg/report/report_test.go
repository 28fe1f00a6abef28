package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/srodi/tabreaper/pkg/types"
)

func TestBuildMatchesSnapshot(t *testing.T) {
	snapshot := []types.TabSnapshot{
		{TabID: 7, Name: "Mail", PID: 123, RSSKB: 500000, Active: false},
		{TabID: 8, Name: "Docs", PID: types.NoPID, Active: true},
		{TabID: 9, Name: "新闻", PID: 456, RSSKB: 1000, Active: true},
	}
	idle := func(pid int) int {
		if pid == 123 {
			return 40
		}
		if pid == types.NoPID {
			t.Fatalf("idle lookup must not be called for the sentinel pid")
		}
		return 0
	}

	doc := Build(snapshot, idle)
	if len(doc.Tabs) != len(snapshot) {
		t.Fatalf("expected %d entries, got %d", len(snapshot), len(doc.Tabs))
	}
	first := doc.Tabs[0]
	if first.TabProcessID != 123 || first.TabRSS != 500000 || first.IsActive || first.InactiveTime != 40 {
		t.Fatalf("unexpected first entry %+v", first)
	}
	second := doc.Tabs[1]
	if second.TabProcessID != -1 || second.TabRSS != 0 || second.InactiveTime != 0 {
		t.Fatalf("unmatched tab should report -1/0, got %+v", second)
	}
	if doc.TotalRSS() != 501000 {
		t.Fatalf("unexpected total %d", doc.TotalRSS())
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.json")
	doc := Build([]types.TabSnapshot{
		{TabID: 7, Name: "Mail & <Calendar>", PID: 123, RSSKB: 500000},
		{TabID: 8, Name: "空白", PID: types.NoPID},
	}, nil)

	if err := File(path).Write(doc); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, key := range []string{`"tab_info_instance"`, `"tab_id"`, `"tab_name"`, `"tab_process_id"`, `"tab_rss"`, `"is_active"`, `"inactive_time"`} {
		if !bytes.Contains(raw, []byte(key)) {
			t.Fatalf("report missing %s: %s", key, raw)
		}
	}
	if !bytes.Contains(raw, []byte("Mail & <Calendar>")) {
		t.Fatalf("tab names should not be HTML-escaped: %s", raw)
	}

	back, err := File(path).Read()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(back.Tabs) != 2 || back.Tabs[0] != doc.Tabs[0] || back.Tabs[1] != doc.Tabs[1] {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, doc)
	}
}

func TestFileWriteFailure(t *testing.T) {
	err := File(filepath.Join(t.TempDir(), "missing", "output.json")).Write(Document{})
	if err == nil {
		t.Fatalf("expected write error")
	}
}

func TestEmptyDocumentEncodesEmptyList(t *testing.T) {
	data, err := Encode(Build(nil, nil))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Contains(data, []byte(`"tab_info_instance": []`)) {
		t.Fatalf("expected empty list, got %s", data)
	}
}

func TestRenderTable(t *testing.T) {
	doc := Document{Tabs: []Entry{
		{TabID: 7, TabName: "Mail", TabProcessID: 123, TabRSS: 2048, InactiveTime: 20},
		{TabID: 9, TabName: strings.Repeat("新", 30), TabProcessID: -1, IsActive: true},
	}}
	var buf bytes.Buffer
	if err := RenderTable(&buf, doc); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %q", out)
	}
	if !strings.HasPrefix(lines[0], "TAB") || !strings.Contains(lines[1], "2.0") {
		t.Fatalf("unexpected table %q", out)
	}
	if !strings.HasSuffix(lines[2], "…") {
		t.Fatalf("long wide name should be truncated: %q", lines[2])
	}

	buf.Reset()
	if err := RenderTable(&buf, Document{}); err != nil || !strings.Contains(buf.String(), "No tabs") {
		t.Fatalf("unexpected empty render %q err=%v", buf.String(), err)
	}
}

func TestTruncateName(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		cells int
		want  string
	}{
		{"fits", "Mail", 10, "Mail"},
		{"ascii", "abcdefghij", 5, "abcd…"},
		{"wide", "新闻首页", 5, "新闻…"},
		{"trimmed", "  Mail  ", 10, "Mail"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := truncateName(tc.in, tc.cells); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
	if displayWidth("a新") != 3 {
		t.Fatalf("expected width 3, got %d", displayWidth("a新"))
	}
}

func TestSystemShare(t *testing.T) {
	doc := Document{Tabs: []Entry{{TabRSS: 1024}, {TabRSS: 3072}}}
	share, ok := doc.SystemShare(16384)
	if !ok || share != 25 {
		t.Fatalf("expected 25%%, got %v ok=%v", share, ok)
	}
	if _, ok := doc.SystemShare(0); ok {
		t.Fatalf("expected unknown share when system memory is unknown")
	}
}
