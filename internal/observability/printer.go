// Package observability provides formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/jonathan/bom-generator/internal/pipeline"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// barWidth is the width of the progress bar, percentage included
	barWidth = 30
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 10
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
)

// Printer handles formatted output for CLI runs
type Printer struct {
	out io.Writer
	bar progress.Model
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{
		out: out,
		bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth)),
	}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %s │\n", padCell(titleStyle.Render(title)))
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		fmt.Fprintf(p.out, "│ %s │\n", padCell(truncateCell(line)))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// truncateCell shortens line to the inner box width, cutting on rune
// boundaries and counting terminal cells rather than bytes.
func truncateCell(line string) string {
	limit := boxWidth - 4
	if lipgloss.Width(line) <= limit {
		return line
	}
	var sb strings.Builder
	width := 0
	for _, r := range line {
		w := lipgloss.Width(string(r))
		if width+w > limit-3 {
			break
		}
		sb.WriteRune(r)
		width += w
	}
	return sb.String() + "..."
}

// padCell right-pads s with spaces to the inner box width. ANSI styling
// does not count toward the width.
func padCell(s string) string {
	if pad := boxWidth - 4 - lipgloss.Width(s); pad > 0 {
		return s + strings.Repeat(" ", pad)
	}
	return s
}

// PrintProgress writes one progress event as a bar followed by its message.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(event pipeline.ProgressEvent) {
	fmt.Fprintf(p.out, "%s  %s\n", p.bar.ViewAs(float64(event.Percent)/100), event.Message)
}

// PrintDropped warns about part descriptors that were skipped.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintDropped(result *pipeline.Result) {
	if result == nil {
		return
	}
	for _, d := range result.Dropped {
		fmt.Fprintln(p.out, warnStyle.Render(fmt.Sprintf("warning: skipped part #%d: %s", d.Index, d.Reason)))
	}
}

// PrintSummary outputs the documents of a finished run and its token usage.
// Paths are printed below the box so they are never shortened.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintSummary(result *pipeline.Result, outputPath, location string) {
	if result == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:      %s\n", result.RunID))
	sb.WriteString(fmt.Sprintf("Parts:    %d\n", len(result.Parts)))
	sb.WriteString("\n")

	sb.WriteString("Documents:\n")
	count := min(len(result.Documents), maxItemsToShow)
	for i := 0; i < count; i++ {
		doc := result.Documents[i]
		sb.WriteString(fmt.Sprintf("  • %s (%d bytes)\n", doc.Filename, doc.Size()))
	}
	if len(result.Documents) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(result.Documents)-maxItemsToShow))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("Tokens:   %s\n", result.Usage))

	p.printBox("GENERATION COMPLETE", sb.String())

	fmt.Fprintf(p.out, "Archive:  %s\n", outputPath)
	if location != "" {
		fmt.Fprintf(p.out, "Uploaded: %s\n", location)
	}
}
