package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// minColumnWidth keeps clamped columns wide enough to show a truncation
// marker plus a couple of characters.
const minColumnWidth = 5

// printTable renders rows as an aligned text table with uppercased
// headers. On a terminal the columns are clamped so lines fit the screen
// width; elsewhere a tabwriter aligns them at natural width.
func printTable(w io.Writer, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	if width, ok := terminalWidth(w); ok {
		printClampedTable(w, columns, rows, width)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(upperAll(columns), "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(padRow(row, len(columns)), "\t"))
	}
	_ = tw.Flush()
}

// printClampedTable pads each column to its widest cell, shrinking
// columns evenly when the full line would overflow the terminal.
func printClampedTable(w io.Writer, columns []string, rows [][]string, termWidth int) {
	headers := upperAll(columns)
	widths := make([]int, len(columns))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(widths) && i < len(row); i++ {
			if len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	sep := 2 * (len(columns) - 1)
	total := sep
	for _, width := range widths {
		total += width
	}
	if total > termWidth {
		clamp := (termWidth - sep) / len(columns)
		if clamp < minColumnWidth {
			clamp = minColumnWidth
		}
		for i := range widths {
			if widths[i] > clamp {
				widths[i] = clamp
			}
		}
	}

	writePaddedRow(w, headers, widths)
	for _, row := range rows {
		writePaddedRow(w, padRow(row, len(columns)), widths)
	}
}

func writePaddedRow(w io.Writer, cells []string, widths []int) {
	var b strings.Builder
	for i, width := range widths {
		cell := truncateCell(cells[i], width)
		if i == len(widths)-1 {
			b.WriteString(cell)
			break
		}
		fmt.Fprintf(&b, "%-*s  ", width, cell)
	}
	_, _ = fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
}

// truncateCell cuts s to width, marking the cut with "..." when room allows.
func truncateCell(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 3 {
		return s[:width]
	}
	return s[:width-3] + "..."
}

func upperAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToUpper(v)
	}
	return out
}

// padRow extends or trims a row to exactly n cells.
func padRow(cells []string, n int) []string {
	if len(cells) == n {
		return cells
	}
	out := make([]string, n)
	copy(out, cells)
	return out
}

// terminalWidth returns the column count of w when it is a terminal.
func terminalWidth(w io.Writer) (int, bool) {
	f, ok := w.(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return 0, false
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		return 0, false
	}
	return width, true
}

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printDetail writes key/value pairs sorted by key, values aligned.
func printDetail(w io.Writer, fields map[string]string) {
	keys := make([]string, 0, len(fields))
	width := 0
	for k := range fields {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%-*s  %s\n", width+1, k+":", fields[k])
	}
}

// formatCell renders one result cell for table output.
func formatCell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func stringifyRows(values [][]any) [][]string {
	rows := make([][]string, len(values))
	for i, row := range values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = formatCell(v)
		}
		rows[i] = cells
	}
	return rows
}
