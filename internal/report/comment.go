package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/autopatch-dev/autopatch/internal/findings"
	"github.com/autopatch-dev/autopatch/internal/rail"
)

// commentMarker anchors comment upsert. The head SHA is embedded so a new
// push gets a new comment while reruns on the same head update in place.
const commentMarker = "<!-- autopatch:run:%s -->"

// CommentMarkerFor returns the hidden marker for a head SHA.
func CommentMarkerFor(headSHA string) string {
	return fmt.Sprintf(commentMarker, headSHA)
}

// BuildComment renders the run summary comment. previews maps finding ID to
// a rendered unified diff, for applied patches and for warn-mode proposals.
func BuildComment(result findings.RunResult, previews map[string]string, decisions []rail.Decision, headSHA string) string {
	var b strings.Builder
	b.WriteString(CommentMarkerFor(headSHA))
	b.WriteString("\n## Autopatch security report\n\n")

	if result.Empty() {
		b.WriteString("No actionable security findings on this change.\n")
		return b.String()
	}

	if len(result.PatchesApplied) > 0 {
		fmt.Fprintf(&b, "### Applied fixes (%d)\n\n", len(result.PatchesApplied))
		for _, p := range result.PatchesApplied {
			fmt.Fprintf(&b, "- `%s`: %s\n", p.FilePath, p.Summary)
			if preview, ok := previews[p.FindingID]; ok && preview != "" {
				b.WriteString("\n```diff\n")
				b.WriteString(strings.TrimRight(preview, "\n"))
				b.WriteString("\n```\n\n")
			}
		}
		if result.CommitSHA != "" {
			fmt.Fprintf(&b, "\nCommitted as `%s`.\n", shortSHA(result.CommitSHA))
		}
	}

	if len(result.FindingsSkipped) > 0 {
		skipped := append([]findings.SkippedFinding(nil), result.FindingsSkipped...)
		sort.SliceStable(skipped, func(i, j int) bool {
			if skipped[i].Finding.FilePath != skipped[j].Finding.FilePath {
				return skipped[i].Finding.FilePath < skipped[j].Finding.FilePath
			}
			return skipped[i].Finding.StartLine < skipped[j].Finding.StartLine
		})
		fmt.Fprintf(&b, "\n### Findings left open (%d)\n\n", len(skipped))
		for _, s := range skipped {
			fmt.Fprintf(&b, "- `%s:%d` %s (%s)", s.Finding.FilePath, s.Finding.StartLine, s.Finding.RuleID, s.Reason)
			if s.Guidance != "" {
				fmt.Fprintf(&b, ": %s", s.Guidance)
			}
			b.WriteString("\n")
			// Warn-mode findings carry the fix they would have received.
			if preview, ok := previews[s.Finding.ID]; ok && preview != "" {
				b.WriteString("\n```diff\n")
				b.WriteString(strings.TrimRight(preview, "\n"))
				b.WriteString("\n```\n\n")
			}
		}
	}

	if rejections := rejectedDecisions(decisions); len(rejections) > 0 {
		b.WriteString("\n### Safety rail\n\n")
		for _, d := range rejections {
			fmt.Fprintf(&b, "- %s rejected", d.Rule)
			if d.FilePath != "" {
				fmt.Fprintf(&b, " `%s`", d.FilePath)
			}
			if d.Detail != "" {
				fmt.Fprintf(&b, ": %s", d.Detail)
			}
			b.WriteString("\n")
		}
	}

	if len(result.Errors) > 0 {
		fmt.Fprintf(&b, "\n### Errors (%d)\n\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	return b.String()
}

func rejectedDecisions(decisions []rail.Decision) []rail.Decision {
	var out []rail.Decision
	for _, d := range decisions {
		if !d.Allowed {
			out = append(out, d)
		}
	}
	return out
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
