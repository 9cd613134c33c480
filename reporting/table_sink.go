package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

// TableFormat selects how TableSink renders
type TableFormat string

const (
	TableFormatText     TableFormat = "text"
	TableFormatMarkdown TableFormat = "markdown"
)

// ParseTableFormat validates a user supplied table format
func ParseTableFormat(raw string) (TableFormat, error) {
	switch f := TableFormat(strings.ToLower(strings.TrimSpace(raw))); f {
	case "", TableFormatText:
		return TableFormatText, nil
	case TableFormatMarkdown:
		return f, nil
	}
	return "", fmt.Errorf("unknown table format %q", raw)
}

const maxErrorWidth = 80

// TableSink renders a human readable run report
type TableSink struct {
	Out    io.Writer
	Format TableFormat
	Color  bool
}

func (s *TableSink) Name() string { return "table" }

func (s *TableSink) Emit(run *Run) error {
	var b strings.Builder
	b.WriteString(s.render(s.summaryTable(run)))
	b.WriteString("\n")

	if len(run.Summary.Failures) > 0 {
		b.WriteString(s.render(s.failuresTable(run)))
		b.WriteString("\n")
	}
	if len(run.Summary.SlowestTests) > 0 {
		b.WriteString(s.render(s.slowestTable(run)))
		b.WriteString("\n")
	}

	if _, err := io.WriteString(s.Out, b.String()); err != nil {
		return fmt.Errorf("failed to write table: %w", err)
	}
	return nil
}

func (s *TableSink) render(t table.Writer) string {
	if s.Format == TableFormatMarkdown {
		return t.RenderMarkdown() + "\n"
	}
	return t.Render() + "\n"
}

func (s *TableSink) style(t table.Writer, run *Run) {
	if !s.Color || s.Format == TableFormatMarkdown {
		t.SetStyle(table.StyleLight)
		return
	}
	switch {
	case run.Summary.HasFailures():
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case run.Summary.SkippedCount > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}
}

func (s *TableSink) summaryTable(run *Run) table.Writer {
	sum := run.Summary
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Test Run Summary (%s)", run.ID))
	t.AppendHeader(table.Row{"TESTS", "PASSED", "FAILED", "SKIPPED", "FLAKY", "PASS RATE", "DURATION", "AVERAGE", "STATUS"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "TESTS", Align: text.AlignRight},
		{Name: "PASSED", Align: text.AlignRight},
		{Name: "FAILED", Align: text.AlignRight},
		{Name: "SKIPPED", Align: text.AlignRight},
		{Name: "FLAKY", Align: text.AlignRight},
		{Name: "PASS RATE", Align: text.AlignRight},
		{Name: "DURATION", Align: text.AlignRight},
		{Name: "AVERAGE", Align: text.AlignRight},
	})
	t.AppendRow(table.Row{
		sum.TestCount,
		sum.PassedCount,
		sum.FailedCount,
		sum.SkippedCount,
		len(run.Flaky),
		fmt.Sprintf("%.2f%%", sum.PassRate),
		formatSeconds(sum.TotalDuration),
		formatSeconds(sum.AverageTime),
		strings.ToUpper(string(run.Status())),
	})
	if n := len(run.Comparison.NewlyFailing) + len(run.Comparison.Fixed); n > 0 {
		t.AppendFooter(table.Row{
			"NEWLY FAILING", len(run.Comparison.NewlyFailing),
			"FIXED", len(run.Comparison.Fixed),
		})
	}
	s.style(t, run)
	return t
}

func (s *TableSink) failuresTable(run *Run) table.Writer {
	t := table.NewWriter()
	t.SetTitle("Failures")
	t.AppendHeader(table.Row{"TEST", "TEAM", "CATEGORY", "DURATION", "NEW", "ERROR"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "TEST", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "TEAM", AutoMerge: true},
		{Name: "DURATION", Align: text.AlignRight},
		{Name: "ERROR", WidthMax: maxErrorWidth, WidthMaxEnforcer: text.WrapSoft},
	})
	for _, f := range run.Summary.Failures {
		name := types.DisplayName(f.Suite, f.Title)
		newMarker := ""
		if run.IsNewlyFailing(f.Key()) {
			newMarker = "NEW"
		}
		t.AppendRow(table.Row{
			name,
			f.Team,
			f.ErrorCategory,
			formatSeconds(f.Duration),
			newMarker,
			firstLine(f.ErrorMessage),
		})
	}
	s.style(t, run)
	return t
}

func (s *TableSink) slowestTable(run *Run) table.Writer {
	t := table.NewWriter()
	t.SetTitle("Slowest Tests")
	t.AppendHeader(table.Row{"#", "TEST", "DURATION"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "#", Align: text.AlignRight},
		{Name: "DURATION", Align: text.AlignRight},
	})
	for i, st := range run.Summary.SlowestTests {
		t.AppendRow(table.Row{i + 1, st.Title, formatSeconds(st.Duration)})
	}
	s.style(t, run)
	return t
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
