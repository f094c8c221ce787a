package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Formatter writes command output as JSON or styled text.
type Formatter struct {
	writer io.Writer
	json   bool
}

// NewFormatter creates a formatter. asJSON selects JSON output.
func NewFormatter(writer io.Writer, asJSON bool) *Formatter {
	return &Formatter{
		writer: writer,
		json:   asJSON,
	}
}

func (f *Formatter) encode(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatRecords writes registered scripts, one per line in text mode.
func (f *Formatter) FormatRecords(records []RecordDTO) error {
	if f.json {
		return f.encode(records)
	}
	if len(records) == 0 {
		_, err := fmt.Fprintln(f.writer, mutedStyle.Render("no scripts registered"))
		return err
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		source := r.Source
		if source == "" {
			source = "<inline>"
		}
		rows = append(rows, []string{
			nameStyle.Render(r.Name),
			typeStyle.Render(r.Type),
			r.Capabilities,
			mutedStyle.Render(source),
		})
	}
	return f.table([]string{"NAME", "TYPE", "CAPS", "SOURCE"}, rows)
}

// FormatEntries writes journal entries, oldest first in text mode.
func (f *Formatter) FormatEntries(entries []EntryDTO) error {
	if f.json {
		return f.encode(entries)
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(f.writer, mutedStyle.Render("journal is empty"))
		return err
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		detail := e.Message
		if e.Kind == "registered" {
			detail = strings.TrimSpace(e.Type + " " + e.Source)
		}
		rows = append(rows, []string{
			mutedStyle.Render(e.At.Local().Format(time.DateTime)),
			kindStyle(e.Kind).Render(e.Kind),
			nameStyle.Render(e.Name),
			detail,
		})
	}
	return f.table([]string{"AT", "KIND", "NAME", "DETAIL"}, rows)
}

// FormatValue writes a fetched value.
func (f *Formatter) FormatValue(name string, value any) error {
	if f.json {
		return f.encode(map[string]any{"name": name, "value": value})
	}
	_, err := fmt.Fprintf(f.writer, "%s = %v\n", nameStyle.Render(name), value)
	return err
}

// FormatEvent writes one live lifecycle event as a single line.
func (f *Formatter) FormatEvent(kind, name, detail string) error {
	if f.json {
		return json.NewEncoder(f.writer).Encode(map[string]string{"kind": kind, "name": name, "detail": detail})
	}
	parts := []string{
		mutedStyle.Render(time.Now().Format(time.TimeOnly)),
		kindStyle(kind).Render(fmt.Sprintf("%-12s", kind)),
	}
	if name != "" {
		parts = append(parts, nameStyle.Render(name))
	}
	if detail != "" {
		parts = append(parts, detail)
	}
	_, err := fmt.Fprintln(f.writer, strings.Join(parts, " "))
	return err
}

// table writes rows in aligned columns.
func (f *Formatter) table(header []string, rows [][]string) error {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)))
			}
		}
		b.WriteString("\n")
	}

	styled := make([]string, len(header))
	for i, h := range header {
		styled[i] = headerStyle.Render(h)
	}
	writeRow(styled)
	for _, row := range rows {
		writeRow(row)
	}

	_, err := io.WriteString(f.writer, b.String())
	return err
}
