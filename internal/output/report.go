package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/clearspan/lcaflow/internal/model"
)

// renderReport produces the human-readable markdown report. The narrative
// and insight sections come verbatim from synthesis; the assembler adds the
// header, the validation summary, and the per-document appendix.
func renderReport(in Inputs, analysis *Analysis) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# LCA Analysis Report\n\n")
	fmt.Fprintf(&b, "Job `%s`, generated %s.\n\n", in.Job.ID, analysis.GeneratedAt.Format(time.RFC3339))
	if analysis.Partial {
		b.WriteString("> **Partial results.** Some documents could not be processed; " +
			"sections below may be incomplete.\n\n")
	}

	if in.Synthesis != nil && in.Synthesis.InsightsMarkdown != "" {
		b.WriteString("## Key Insights\n\n")
		b.WriteString(strings.TrimSpace(in.Synthesis.InsightsMarkdown))
		b.WriteString("\n\n")
	}

	if in.Synthesis != nil && in.Synthesis.CrossDocNarrative != "" {
		b.WriteString(strings.TrimSpace(in.Synthesis.CrossDocNarrative))
		b.WriteString("\n\n")
	}

	b.WriteString("## Validation Summary\n\n")
	fmt.Fprintf(&b, "| Outcome | Files |\n| --- | --- |\n")
	fmt.Fprintf(&b, "| Passed | %d |\n", analysis.Validation.Passed)
	fmt.Fprintf(&b, "| Passed with warnings | %d |\n", analysis.Validation.Warnings)
	fmt.Fprintf(&b, "| Failed | %d |\n", analysis.Validation.Failed)
	fmt.Fprintf(&b, "| Quarantined | %d |\n\n", analysis.Validation.Quarantined)

	if findings := collectFindings(in.Reports); len(findings) > 0 {
		b.WriteString("### Findings\n\n")
		for _, f := range findings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}

	if in.Synthesis != nil && len(in.Synthesis.DocSummaries) > 0 {
		b.WriteString("## Appendix: Document Summaries\n\n")
		for _, s := range in.Synthesis.DocSummaries {
			fmt.Fprintf(&b, "### %s\n\n", s.Filename)
			if s.Err != "" {
				fmt.Fprintf(&b, "_Summary unavailable: %s_\n\n", s.Err)
				continue
			}
			fmt.Fprintf(&b, "Extracted via `%s`, confidence %.2f.\n\n", s.Procedure, s.Confidence)
			b.WriteString(strings.TrimSpace(s.Summary))
			b.WriteString("\n\n")
		}
	}

	return b.String()
}

// collectFindings flattens report findings into attributed bullet lines.
// Cross-document conflicts are job-wide and listed once.
func collectFindings(reports []model.ValidationReport) []string {
	var findings []string
	seenConflicts := map[string]bool{}
	for _, r := range reports {
		for _, e := range r.RuleErrors {
			findings = append(findings, fmt.Sprintf("**%s**: %s", r.Filename, e))
		}
		for _, w := range r.RuleWarnings {
			findings = append(findings, fmt.Sprintf("%s: %s", r.Filename, w))
		}
		for _, issue := range r.TaxonomyIssues {
			findings = append(findings, fmt.Sprintf("%s: %s", r.Filename, issue))
		}
		for _, flag := range r.PlausibilityFlags {
			findings = append(findings, fmt.Sprintf("%s: %s", r.Filename, flag))
		}
		for _, c := range r.CrossDocConflicts {
			if !seenConflicts[c] {
				seenConflicts[c] = true
				findings = append(findings, c)
			}
		}
	}
	return findings
}
