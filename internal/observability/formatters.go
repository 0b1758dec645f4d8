// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/stack-scout/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 20
)

// Printer handles formatted output for verbose mode
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
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len([]rune(line)) > boxWidth-4 {
			line = string([]rune(line)[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintRunSummary outputs the counters of one orchestrator run.
func (p *Printer) PrintRunSummary(s *types.RunSummary) {
	if s == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:         %s\n", s.RunID))
	sb.WriteString(fmt.Sprintf("Final state: %s", s.FinalState))
	switch {
	case s.Aborted:
		sb.WriteString(" (aborted)")
	case s.Cancelled:
		sb.WriteString(" (cancelled)")
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Duration:    %s\n", s.Duration().Round(time.Millisecond)))
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("Terms processed:      %d\n", s.TermsProcessed))
	sb.WriteString(fmt.Sprintf("Postings fetched:     %d\n", s.PostingsFetched))
	sb.WriteString(fmt.Sprintf("Postings new:         %d\n", s.PostingsNew))
	sb.WriteString(fmt.Sprintf("Postings analyzed:    %d\n", s.PostingsAnalyzed))
	sb.WriteString(fmt.Sprintf("Postings skipped:     %d\n", s.PostingsSkipped))
	sb.WriteString(fmt.Sprintf("Pending retried:      %d\n", s.PendingRetried))
	sb.WriteString(fmt.Sprintf("Companies identified: %d\n", s.CompaniesIdentified))

	if s.Errors.Total() > 0 {
		sb.WriteString("\nErrors:\n")
		sb.WriteString(fmt.Sprintf("  • scrape:     %d\n", s.Errors.Scrape))
		sb.WriteString(fmt.Sprintf("  • analysis:   %d\n", s.Errors.Analysis))
		sb.WriteString(fmt.Sprintf("  • storage:    %d\n", s.Errors.Storage))
		sb.WriteString(fmt.Sprintf("  • validation: %d\n", s.Errors.Validation))
	}

	p.printBox("RUN SUMMARY", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintVerdict outputs a single analysis result.
func (p *Printer) PrintVerdict(company, title string, v types.AnalysisVerdict) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Company:  %s\n", company))
	sb.WriteString(fmt.Sprintf("Role:     %s\n", title))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Uses tool: %t\n", v.UsesTool))
	sb.WriteString(fmt.Sprintf("Tool:      %s\n", v.ToolDetected))
	sb.WriteString(fmt.Sprintf("Signal:    %s", v.SignalType))
	if v.Context != "" {
		sb.WriteString("\n\nContext:\n")
		sb.WriteString(wrap(v.Context, boxWidth-6, "  "))
	}

	p.printBox("ANALYSIS VERDICT", sb.String())
}

// PrintTerms lists search terms with their scrape state. A term is marked
// due when it would be picked by the next run.
func (p *Printer) PrintTerms(terms []types.SearchTermState, now time.Time, interval time.Duration) {
	if len(terms) == 0 {
		p.printBox("SEARCH TERMS", "No search terms configured.")
		return
	}

	var sb strings.Builder
	count := min(len(terms), maxItemsToShow)
	for i := 0; i < count; i++ {
		t := terms[i]
		status := "active"
		if !t.IsActive {
			status = "inactive"
		} else if t.IsDue(now, interval) {
			status = "due"
		}
		last := "never"
		if t.LastScrapedAt != nil {
			last = t.LastScrapedAt.Format("2006-01-02 15:04")
		}
		sb.WriteString(fmt.Sprintf("%-22s %-8s %-16s %4d\n", t.SearchTerm, status, last, t.JobsFoundCount))
	}
	if len(terms) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(terms)-maxItemsToShow))
	}

	p.printBox("SEARCH TERMS", strings.TrimSuffix(sb.String(), "\n"))
}

// wrap breaks text into lines of at most width runes, each prefixed by indent.
func wrap(text string, width int, indent string) string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && len([]rune(line.String()))+1+len([]rune(word)) > width {
			lines = append(lines, indent+line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, indent+line.String())
	}
	return strings.Join(lines, "\n")
}
