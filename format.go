package main

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// timePrecision rounds durations for display.
const timePrecision = time.Millisecond

// formatNano renders a Unix-nanosecond timestamp, "-" when unset.
func formatNano(ns int64) string {
	if ns == 0 {
		return "-"
	}

	return time.Unix(0, ns).Format("2006-01-02 15:04:05")
}

// printTable renders rows with columns padded to the widest cell.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = cell + strings.Repeat(" ", widths[i]-len(cell))
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}
