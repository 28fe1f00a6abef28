package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/width"
)

// maxNameCells bounds the NAME column in terminal cells.
const maxNameCells = 40

// RenderTable writes a human-readable table of the document. NAME is the
// last column because tabwriter assumes single-cell runes.
func RenderTable(w io.Writer, doc Document) error {
	if len(doc.Tabs) == 0 {
		_, err := fmt.Fprintln(w, "No tabs in the current tab log")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TAB\tPID\tRSS(MB)\tACTIVE\tIDLE(s)\tNAME")
	for _, e := range doc.Tabs {
		fmt.Fprintf(tw, "%d\t%d\t%.1f\t%t\t%d\t%s\n",
			e.TabID, e.TabProcessID, float64(e.TabRSS)/1024, e.IsActive, e.InactiveTime, truncateName(e.TabName, maxNameCells))
	}
	return tw.Flush()
}

// displayWidth counts terminal cells, two for East Asian wide runes.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		n += runeWidth(r)
	}
	return n
}

func runeWidth(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	default:
		return 1
	}
}

func truncateName(name string, cells int) string {
	name = strings.TrimSpace(name)
	if displayWidth(name) <= cells {
		return name
	}
	var b strings.Builder
	used := 0
	for _, r := range name {
		w := runeWidth(r)
		if used+w > cells-1 {
			break
		}
		b.WriteRune(r)
		used += w
	}
	b.WriteString("…")
	return b.String()
}
