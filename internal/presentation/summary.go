package presentation

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/arbor/internal/deploy"
	"github.com/zjrosen/arbor/internal/network"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	deployedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#73F59F"))
	skippedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#BBBBBB"))
	actionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#54A0FF"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FECA57"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8787")).Bold(true)
	nameStyle     = lipgloss.NewStyle().Width(18)
	outcomeStyle  = lipgloss.NewStyle().Width(10)
)

// RenderSummary renders a human-readable report of a finished run.
func RenderSummary(result *deploy.Result, policy network.Policy, dryRun bool) string {
	var b strings.Builder

	title := fmt.Sprintf("%s (chain %d)", policy.Name, policy.ChainID)
	if dryRun {
		title += " [dry run]"
	}
	b.WriteString(titleStyle.Render(title))
	if result.RunID != "" {
		b.WriteString("  run " + result.RunID)
	}
	b.WriteString("\n")

	for _, rec := range result.Records {
		outcome, style := string(deploy.OutcomeSkipped), skippedStyle
		if slices.Contains(result.Deployed, rec.Name) {
			outcome, style = string(deploy.OutcomeDeployed), deployedStyle
		}
		b.WriteString("  " + style.Render(outcomeStyle.Render(outcome)) + nameStyle.Render(rec.Name) + rec.Address.Hex() + "\n")
	}
	for _, name := range result.Actions {
		b.WriteString("  " + actionStyle.Render(outcomeStyle.Render(string(deploy.OutcomePerformed))) + name + "\n")
	}

	for _, d := range result.Drifts {
		b.WriteString(warnStyle.Render(fmt.Sprintf("drift: %s was deployed with [%s], would now use [%s]",
			d.Step, strings.Join(d.Recorded, ", "), strings.Join(d.Current, ", "))) + "\n")
	}
	for _, f := range result.VerificationFailures {
		b.WriteString(warnStyle.Render("verification failed: "+f.Error()) + "\n")
	}

	b.WriteString(fmt.Sprintf("%d deployed, %d skipped, %d actions\n", len(result.Deployed), len(result.Skipped), len(result.Actions)))
	return b.String()
}

// RenderFailure renders a run error, naming where a rerun resumes.
func RenderFailure(err error) string {
	var runErr *deploy.RunError
	if !errors.As(err, &runErr) {
		return errorStyle.Render("error: "+err.Error()) + "\n"
	}
	last := runErr.LastCompleted
	if last == "" {
		last = "none"
	}
	return errorStyle.Render(fmt.Sprintf("step %s failed: %v", runErr.Step, runErr.Err)) + "\n" +
		fmt.Sprintf("last completed step: %s\nrerun the same command to resume; completed deployments are skipped\n", last)
}
