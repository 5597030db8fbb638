// Copyright 2026 The XMLDB Authors.
//
// Use of this software is governed by the XMLDB Software License
// included in the /LICENSE file.

package lockdump

import (
	"encoding/csv"
	"fmt"
	"html"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
)

// Style is the layout of a text dump.
type Style int

const (
	// StylePretty renders an ASCII table, for terminals.
	StylePretty Style = iota
	// StyleTSV renders tab-separated values, for scripts.
	StyleTSV
	// StyleCSV renders comma-separated values.
	StyleCSV
	// StyleRecords renders one block per row, for wide rows.
	StyleRecords
	// StyleHTML renders an HTML table.
	StyleHTML
)

var styleNames = map[Style]string{
	StylePretty:  "pretty",
	StyleTSV:     "tsv",
	StyleCSV:     "csv",
	StyleRecords: "records",
	StyleHTML:    "html",
}

// String implements fmt.Stringer.
func (s Style) String() string {
	if n, ok := styleNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Style(%d)", int(s))
}

// ParseStyle parses the name of a style.
func ParseStyle(s string) (Style, error) {
	for st, n := range styleNames {
		if strings.EqualFold(s, n) {
			return st, nil
		}
	}
	return 0, errors.Newf("unknown display style %q", s)
}

func pluralize(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// expandTabsAndNewLines ensures that multi-line values and values with
// tabs do not break the layout of a pretty table.
func expandTabsAndNewLines(s string) string {
	return strings.NewReplacer("\t", "  ", "\n", " ").Replace(s)
}

// printRows writes a header and rows to w in the given style.
func printRows(w io.Writer, cols []string, rows [][]string, style Style) error {
	switch style {
	case StylePretty:
		table := tablewriter.NewWriter(w)
		table.SetAutoFormatHeaders(false)
		table.SetAutoWrapText(false)
		table.SetHeader(cols)
		for _, row := range rows {
			expanded := make([]string, len(row))
			for i, r := range row {
				expanded[i] = expandTabsAndNewLines(r)
			}
			table.Append(expanded)
		}
		table.Render()
		_, err := fmt.Fprintf(w, "(%d row%s)\n", len(rows), pluralize(len(rows)))
		return err

	case StyleTSV, StyleCSV:
		if _, err := fmt.Fprintf(w, "%d row%s\n", len(rows), pluralize(len(rows))); err != nil {
			return err
		}
		csvWriter := csv.NewWriter(w)
		if style == StyleTSV {
			csvWriter.Comma = '\t'
		}
		_ = csvWriter.Write(cols)
		return csvWriter.WriteAll(rows)

	case StyleHTML:
		var sb strings.Builder
		sb.WriteString("<table>\n<thead><tr>")
		for _, col := range cols {
			fmt.Fprintf(&sb, "<th>%s</th>", html.EscapeString(col))
		}
		sb.WriteString("</tr></thead>\n<tbody>\n")
		for _, row := range rows {
			sb.WriteString("<tr>")
			for _, r := range row {
				fmt.Fprintf(&sb, "<td>%s</td>", strings.Replace(html.EscapeString(r), "\n", "<br/>", -1))
			}
			sb.WriteString("</tr>\n")
		}
		sb.WriteString("</tbody>\n</table>\n")
		_, err := io.WriteString(w, sb.String())
		return err

	case StyleRecords:
		maxColWidth := 0
		for _, col := range cols {
			if colLen := utf8.RuneCountInString(col); colLen > maxColWidth {
				maxColWidth = colLen
			}
		}
		var sb strings.Builder
		for i, row := range rows {
			fmt.Fprintf(&sb, "-[ RECORD %d ]\n", i+1)
			for j, r := range row {
				for l, line := range strings.Split(r, "\n") {
					colLabel := cols[j]
					if l > 0 {
						colLabel = ""
					}
					fmt.Fprintf(&sb, "%-*s | %s\n", maxColWidth, colLabel, line)
				}
			}
		}
		_, err := io.WriteString(w, sb.String())
		return err
	}
	return errors.AssertionFailedf("unhandled display style %s", style)
}
