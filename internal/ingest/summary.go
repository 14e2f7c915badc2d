package ingest

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Outcome is the result of processing one candidate file.
type Outcome struct {
	Candidate Candidate
	RowsAdded int64
	Err       error
}

// Summary aggregates a full pipeline run for final reporting. The process
// exits zero as long as the run itself completed; per-file failures and
// cancellation are reported here rather than through the exit code.
type Summary struct {
	Dataset       string
	Table         string
	Candidates    int
	Loaded        int
	Errored       int
	RowsAdded     int64
	RowsTruncated int64
	Failures      []Outcome
	Cancelled     bool
}

func (s *Summary) record(o Outcome) {
	if o.Err != nil {
		s.Errored++
		s.Failures = append(s.Failures, o)
		return
	}
	s.Loaded++
	s.RowsAdded += o.RowsAdded
}

var (
	summaryTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	summaryLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(16)
	summaryWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	summaryErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	summaryBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Render formats the summary for the terminal.
func (s *Summary) Render() string {
	var b strings.Builder
	b.WriteString(summaryTitleStyle.Render(fmt.Sprintf("Ingest %s", s.Dataset)))
	b.WriteString("\n")
	row := func(label, value string) {
		b.WriteString(summaryLabelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}
	row("Table", s.Table)
	row("Candidates", fmt.Sprintf("%d", s.Candidates))
	row("Loaded", fmt.Sprintf("%d", s.Loaded))
	if s.Errored > 0 {
		row("Errored", summaryErrStyle.Render(fmt.Sprintf("%d", s.Errored)))
	} else {
		row("Errored", "0")
	}
	row("Rows added", fmt.Sprintf("%d", s.RowsAdded))
	if s.RowsTruncated > 0 {
		row("Rows truncated", fmt.Sprintf("%d", s.RowsTruncated))
	}
	if s.Cancelled {
		row("Status", summaryWarnStyle.Render("cancelled, partial progress kept"))
	} else {
		row("Status", "complete")
	}
	for _, f := range s.Failures {
		b.WriteString(summaryErrStyle.Render(fmt.Sprintf("  %s: %v", f.Candidate.Name, f.Err)))
		b.WriteString("\n")
	}
	return summaryBoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
