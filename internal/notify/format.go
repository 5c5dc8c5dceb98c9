package notify

import (
	"fmt"
	"strings"

	"buildwatch/internal/domain"
)

// FormatResult renders the full diagnosis: root cause, fix steps in a code
// block, prevention notes and a link to the build.
func FormatResult(ev domain.BuildEvent, res domain.AnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *%s #%d* finished with *%s*\n\n", ev.Job, ev.Number, resultLabel(ev.Result))
	fmt.Fprintf(&b, "*Root cause:* %s\n", res.RootCause)

	if len(res.FixSteps) > 0 {
		b.WriteString("\n*Fix steps:*\n```\n")
		for i, step := range res.FixSteps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
		b.WriteString("```\n")
	}
	if res.Prevention != "" {
		fmt.Fprintf(&b, "\n*Prevention:* %s\n", res.Prevention)
	}
	if ev.URL != "" {
		fmt.Fprintf(&b, "\nBuild: %s", ev.URL)
	}
	return b.String()
}

// FormatSummary is the condensed variant for the summary channel: one line
// of diagnosis, no code snippets.
func FormatSummary(ev domain.BuildEvent, res domain.AnalysisResult) string {
	summary := res.Summary
	if summary == "" {
		summary = res.RootCause
	}
	return fmt.Sprintf("%s #%d %s — %s", ev.Job, ev.Number, resultLabel(ev.Result), summary)
}

// FormatDegraded is the fallback when analysis is unavailable; it keeps the
// failure visible and hands the operator the raw log link.
func FormatDegraded(ev domain.BuildEvent, analysisErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":warning: *%s #%d* finished with *%s*\n\n", ev.Job, ev.Number, resultLabel(ev.Result))
	b.WriteString("Automated analysis is unavailable for this build")
	if analysisErr != nil {
		fmt.Fprintf(&b, " (%v)", analysisErr)
	}
	b.WriteString(".\n")
	if ev.URL != "" {
		fmt.Fprintf(&b, "Raw log: %s/console", strings.TrimSuffix(ev.URL, "/"))
	}
	return b.String()
}

func resultLabel(r domain.Result) string {
	if r == domain.ResultUnknown {
		return "UNKNOWN"
	}
	return string(r)
}
