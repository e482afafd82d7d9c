package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"visualdiff/internal/core/domain"
)

var (
	colorCyan   = lipgloss.Color("36")
	colorGreen  = lipgloss.Color("35")
	colorYellow = lipgloss.Color("220")
	colorRed    = lipgloss.Color("167")
	colorDim    = lipgloss.Color("240")
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
	styleNumber  = lipgloss.NewStyle().Foreground(colorCyan)
	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleError   = lipgloss.NewStyle().Foreground(colorRed)
	styleLabel   = lipgloss.NewStyle().Width(14).Foreground(colorDim)
)

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "!"
	iconInfo    = "›"
)

func (c *CLI) printSuccess(format string, args ...any) {
	fmt.Fprintln(c.Out, styleSuccess.Render(iconSuccess)+" "+fmt.Sprintf(format, args...))
}

func (c *CLI) printWarning(format string, args ...any) {
	fmt.Fprintln(c.Out, styleWarning.Render(iconWarning)+" "+styleWarning.Render(fmt.Sprintf(format, args...)))
}

func (c *CLI) printError(format string, args ...any) {
	fmt.Fprintln(c.Out, styleError.Render(iconError)+" "+fmt.Sprintf(format, args...))
}

func (c *CLI) printInfo(format string, args ...any) {
	fmt.Fprintln(c.Out, styleDim.Render(iconInfo)+" "+fmt.Sprintf(format, args...))
}

func (c *CLI) printField(label, value string) {
	fmt.Fprintln(c.Out, "  "+styleLabel.Render(label)+value)
}

// printJob prints a job header followed by one line per page result.
func (c *CLI) printJob(job *domain.Job) {
	fmt.Fprintln(c.Out, styleTitle.Render("Job "+job.ID))
	c.printField("Status", string(job.Status))
	c.printField("Base A", job.BaseURLA)
	c.printField("Base B", job.BaseURLB)
	c.printField("Threshold", fmt.Sprintf("%g%%", job.Threshold))
	c.printField("Created", job.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
	if job.CompletedAt != nil {
		c.printField("Completed", job.CompletedAt.Format("2006-01-02 15:04:05 UTC"))
	}
	if len(job.Results) == 0 {
		c.printField("Pages", strings.Join(job.Pages, ", "))
		return
	}
	fmt.Fprintln(c.Out)
	c.printResults(job.Results)
}

func (c *CLI) printResults(results []domain.PageResult) {
	for _, r := range results {
		switch {
		case r.Failed():
			c.printError("%s %s", r.Path, styleDim.Render(r.Error))
		case r.HasDifference:
			c.printWarning("%s %.4f%%", r.Path, r.DifferencePercentage)
		default:
			c.printSuccess("%s %s", r.Path, styleNumber.Render(fmt.Sprintf("%.4f%%", r.DifferencePercentage)))
		}
	}
}

// printSummary prints the one-line outcome of a run.
func (c *CLI) printSummary(s domain.Summary) {
	line := fmt.Sprintf("Visual diff job %s completed: %d pages compared, %d with differences",
		s.JobID, s.Compared, s.IssueCount)
	if s.IssueCount > 0 {
		c.printWarning("%s", line)
		return
	}
	c.printSuccess("%s", line)
}
