// Package ui renders human-facing output for the kolumn-directory CLI.
package ui

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-isatty"
)

// ANSI color codes
const (
	Reset = "\033[0m"

	Gray         = "\033[90m"
	BrightRed    = "\033[91m"
	BrightGreen  = "\033[92m"
	BrightYellow = "\033[38;5;214m" // Darker bright yellow - readable on light terminals
	BrightBlue   = "\033[94m"

	Bold = "\033[1m"
)

// DefaultComponent tags status lines that name no component.
const DefaultComponent = "DIRECTORY"

// StyleOptions switches the decorations of rendered output.
type StyleOptions struct {
	UseColors   bool
	UsePrefixes bool
	UseBold     bool
}

// PlainStyleOptions renders without any escape codes.
var PlainStyleOptions = StyleOptions{UsePrefixes: true}

// GetStyleOptions picks colors only when w is a terminal and NO_COLOR is unset.
func GetStyleOptions(w io.Writer) StyleOptions {
	opts := StyleOptions{UseColors: true, UsePrefixes: true, UseBold: true}
	f, ok := w.(*os.File)
	if !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return PlainStyleOptions
	}
	if os.Getenv("NO_COLOR") != "" {
		opts.UseColors = false
		opts.UseBold = false
	}
	return opts
}

// Colorize wraps text in color when use is set.
func Colorize(text, color string, use bool) string {
	if !use || color == "" {
		return text
	}
	return color + text + Reset
}

// StatusColor returns the color of a status tag.
func StatusColor(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "CREATED", "UPDATED", "DROPPED", "UNCHANGED":
		return BrightGreen
	case "PARTIAL":
		return BrightYellow
	case "FAILED", "ERROR":
		return BrightRed
	default:
		return BrightBlue
	}
}

func formatTag(tag, color string, options StyleOptions) string {
	text := Colorize("["+tag+"]", color, options.UseColors)
	if options.UseBold {
		text = Bold + text + Reset
	}
	return text
}

// FormatStatusLine renders a line of the form
// [KOLUMN-DIRECTORY] [STATUS] subject detail
// with color on the bracketed tags only.
func FormatStatusLine(component, status, subject, detail string, options StyleOptions) string {
	var parts []string
	if options.UsePrefixes {
		component = strings.ToUpper(strings.TrimSpace(component))
		if component == "" {
			component = DefaultComponent
		}
		status = strings.ToUpper(strings.TrimSpace(status))
		color := StatusColor(status)
		parts = append(parts, formatTag("KOLUMN-"+component, color, options), formatTag(status, color, options))
	}
	if subject != "" {
		parts = append(parts, subject)
	}
	if detail != "" {
		parts = append(parts, Colorize(detail, Gray, options.UseColors))
	}
	return strings.Join(parts, " ")
}

// Table draws rows under headers with box characters. Nothing is drawn for
// an empty row set.
func Table(headers []string, rows [][]string, options StyleOptions) string {
	if len(headers) == 0 || len(rows) == 0 {
		return ""
	}
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = utf8.RuneCountInString(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && utf8.RuneCountInString(cell) > widths[i] {
				widths[i] = utf8.RuneCountInString(cell)
			}
		}
	}

	var out strings.Builder
	out.WriteString("│")
	for i, header := range headers {
		padding := widths[i] - utf8.RuneCountInString(header)
		if options.UseBold {
			header = Bold + header + Reset
		}
		out.WriteString(" " + header + strings.Repeat(" ", padding) + " │")
	}
	out.WriteString("\n├")
	for i, width := range widths {
		out.WriteString(strings.Repeat("─", width+2))
		if i < len(widths)-1 {
			out.WriteString("┼")
		}
	}
	out.WriteString("┤\n")
	for _, row := range rows {
		out.WriteString("│")
		for i := range widths {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			padding := widths[i] - utf8.RuneCountInString(cell)
			out.WriteString(" " + cell + strings.Repeat(" ", padding) + " │")
		}
		out.WriteString("\n")
	}
	return out.String()
}
