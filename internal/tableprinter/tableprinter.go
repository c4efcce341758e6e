// Package tableprinter provides behavior to write tabular data to a given
// destination.
package tableprinter

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

const (
	tabwriterMinWidth = 6
	tabwriterWidth    = 4
	tabwriterPadding  = 3
	tabwriterPadChar  = ' '
	tabwriterFlags    = tabwriter.FilterHTML
)

// NewTabWriter returns a tabwriter that transforms tabbed columns into aligned
// text.
func NewTabWriter(output io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(output, tabwriterMinWidth, tabwriterWidth, tabwriterPadding, tabwriterPadChar, tabwriterFlags)
}

// PrintTable writes a table with headers to a given output destination. Rows
// shorter than the header are padded with empty cells.
func PrintTable(output io.Writer, headers []string, rows [][]string) {
	w := NewTabWriter(output)

	// column headers are at the top, so they are written first
	for _, col := range headers {
		_, _ = fmt.Fprint(w, strings.ToUpper(col), "\t")
	}
	_, _ = fmt.Fprintln(w)

	// rows form the body of the table
	for _, row := range rows {
		cells := make([]string, len(headers))
		for i := range cells {
			if i < len(row) {
				cells[i] = row[i]
			}
		}
		_, _ = fmt.Fprintln(w, strings.Join(cells, "\t"))
	}

	_ = w.Flush()
}
