package escalate

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/joseguzman1337/autopilot/internal/models"
)

// BuildReport composes the Markdown incident report for a fatally failed
// cycle. The report is the structured alert body; chat and e-mail channels
// receive it rendered to HTML.
func BuildReport(rec *models.CycleRecord, consecutiveFailures int) string {
	var sb strings.Builder

	sb.WriteString("# Pipeline escalation\n\n")
	fmt.Fprintf(&sb, "Cycle `%s` failed; this is failure %d in a row.\n\n", rec.ID, consecutiveFailures)

	fmt.Fprintf(&sb, "- **Overall**: %s\n", rec.Overall)
	if rec.FailedStage != "" {
		fmt.Fprintf(&sb, "- **Failed stage**: %s\n", rec.FailedStage)
	}
	fmt.Fprintf(&sb, "- **Started**: %s\n", rec.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "- **Duration**: %s\n", rec.Duration().Round(time.Second))
	fmt.Fprintf(&sb, "- **Deploy attempted**: %v\n\n", rec.DeployAttempted)

	if len(rec.AgentOutcomes) > 0 {
		sb.WriteString("## Agent outcomes\n\n")
		sb.WriteString("| Agent | Outcome |\n|-------|---------|\n")
		names := make([]string, 0, len(rec.AgentOutcomes))
		for name := range rec.AgentOutcomes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&sb, "| %s | %s |\n", name, rec.AgentOutcomes[name])
		}
	}

	return sb.String()
}

// RenderHTML converts a Markdown report to HTML for rich notification
// channels. On a render error the raw Markdown is returned so the alert is
// never lost to formatting.
func RenderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return markdown
	}
	return buf.String()
}
