// Package observability provides formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/pricing"
	"github.com/jonathan/appraisal-agent/internal/records"
)

const (
	// boxWidth is the default width for formatted output boxes, in terminal cells
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %s │\n", pad(title, boxWidth-4))
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %s │\n", pad(truncate(line, boxWidth-4), boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintEvent outputs one progress event as a single line.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintEvent(ev pipeline.ProgressEvent) {
	ts := time.UnixMilli(ev.Timestamp).Format("15:04:05.000")
	switch {
	case ev.Kind == pipeline.EventComplete:
		fmt.Fprintf(p.out, "%s ✓ %s\n", ts, ev.Message)
	case ev.Kind == pipeline.EventError:
		fmt.Fprintf(p.out, "%s ✗ %s\n", ts, ev.Message)
	case ev.Stage != "":
		fmt.Fprintf(p.out, "%s [%s] %-14s %s\n", ts, ev.Stage, ev.Kind, ev.Message)
	default:
		fmt.Fprintf(p.out, "%s %-14s %s\n", ts, ev.Kind, ev.Message)
	}
}

// PrintResult outputs a human-readable summary of one appraisal.
func (p *Printer) PrintResult(d records.DisplayResult) {
	var sb strings.Builder

	if d.AppraisalID != "" {
		sb.WriteString(fmt.Sprintf("ID:       %s\n", d.AppraisalID))
	}
	sb.WriteString(fmt.Sprintf("分類:     %s (%s)\n", d.Classification, d.TerminationPoint))
	if d.ItemName != "" {
		sb.WriteString(fmt.Sprintf("商品名:   %s\n", d.ItemName))
	}
	if d.IdentifiedProduct != "" && d.IdentifiedProduct != d.ItemName {
		sb.WriteString(fmt.Sprintf("特定商品: %s\n", d.IdentifiedProduct))
	}

	if d.Price != nil {
		sb.WriteString(fmt.Sprintf("価格帯:   %s〜%s\n", pricing.FormatYen(d.Price.MinPrice), pricing.FormatYen(d.Price.MaxPrice)))
		if d.Price.DisplayMessage != "" {
			sb.WriteString(d.Price.DisplayMessage + "\n")
		}
	}
	if d.Confidence != nil {
		sb.WriteString(fmt.Sprintf("信頼度:   %s\n", d.Confidence.Level))
	}

	if len(d.VisualFeatures) > 0 {
		sb.WriteString("\n特徴:\n")
		writeList(&sb, d.VisualFeatures, "features")
	}
	if len(d.PriceFactors) > 0 {
		sb.WriteString("\n価格要因:\n")
		writeList(&sb, d.PriceFactors, "factors")
	}

	if d.Message != "" {
		sb.WriteString("\n" + d.Message + "\n")
	}
	if d.Recommendation != "" {
		sb.WriteString(d.Recommendation + "\n")
	}
	if d.RetryAdvice != "" {
		sb.WriteString(d.RetryAdvice + "\n")
	}

	p.printBox("APPRAISAL RESULT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintHistory outputs one line per stored appraisal.
func (p *Printer) PrintHistory(items []records.DisplayResult, total int) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total appraisals: %d\n", total))
	if len(items) > 0 {
		sb.WriteString("\n")
	}

	for _, d := range items {
		date := "----------"
		if d.CreatedAt != nil {
			date = d.CreatedAt.Format(time.DateOnly)
		}
		name := d.IdentifiedProduct
		if name == "" {
			name = d.ItemName
		}
		if name == "" {
			name = d.Message
		}
		line := fmt.Sprintf("%s %-12s %s", date, d.Classification, name)
		if d.Price != nil {
			line += fmt.Sprintf(" %s〜%s", pricing.FormatYen(d.Price.MinPrice), pricing.FormatYen(d.Price.MaxPrice))
		}
		sb.WriteString(line + "\n")
	}

	p.printBox("APPRAISAL HISTORY", strings.TrimSuffix(sb.String(), "\n"))
}

func writeList(sb *strings.Builder, items []string, noun string) {
	count := min(len(items), maxItemsToShow)
	for i := 0; i < count; i++ {
		sb.WriteString(fmt.Sprintf("  • %s\n", items[i]))
	}
	if len(items) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more %s\n", len(items)-maxItemsToShow, noun))
	}
}

// cells returns the number of terminal cells s occupies.
func cells(s string) int {
	n := 0
	for _, r := range s {
		n += runeCells(r)
	}
	return n
}

func runeCells(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	default:
		return 1
	}
}

// truncate shortens s to at most max cells, marking the cut with "...".
func truncate(s string, max int) string {
	if cells(s) <= max {
		return s
	}
	var sb strings.Builder
	used := 0
	for _, r := range s {
		w := runeCells(r)
		if used+w > max-3 {
			break
		}
		sb.WriteRune(r)
		used += w
	}
	return sb.String() + "..."
}

func pad(s string, n int) string {
	if c := cells(s); c < n {
		return s + strings.Repeat(" ", n-c)
	}
	return s
}
