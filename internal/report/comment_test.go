package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-dev/autopatch/internal/findings"
	"github.com/autopatch-dev/autopatch/internal/rail"
)

func TestCommentMarkerEmbedsHeadSHA(t *testing.T) {
	marker := CommentMarkerFor("feedface00")
	assert.Equal(t, "<!-- autopatch:run:feedface00 -->", marker)
	assert.NotEqual(t, marker, CommentMarkerFor("cafebabe11"))
}

func TestBuildCommentCleanRun(t *testing.T) {
	body := BuildComment(findings.RunResult{RunID: "r1"}, nil, nil, "feedface00")

	assert.Contains(t, body, CommentMarkerFor("feedface00"))
	assert.Contains(t, body, "No actionable security findings")
}

func TestBuildCommentFullReport(t *testing.T) {
	result := findings.RunResult{
		RunID:     "r1",
		CommitSHA: "0123456789abcdef0123",
		PatchesApplied: []findings.Patch{
			{
				FindingID: "f1",
				FilePath:  "app/views.py",
				Summary:   "parameterized SQL query",
			},
		},
		FindingsSkipped: []findings.SkippedFinding{
			{
				Finding: findings.Finding{FilePath: "app/fetch.py", StartLine: 30, RuleID: "python.ssrf.user-url"},
				Reason:  findings.SkipNoSafeFix,
				Guidance: "Validate the URL against an allowlist of hosts before fetching; " +
					"a deterministic rewrite needs that allowlist.",
			},
			{
				Finding: findings.Finding{FilePath: "app/admin.py", StartLine: 12, RuleID: "python.sqli.format-string"},
				Reason:  findings.SkipWarnMode,
			},
		},
	}
	previews := map[string]string{
		"f1": "--- a/app/views.py\n+++ b/app/views.py\n@@ -1,1 +1,1 @@\n-bad\n+good\n",
	}
	decisions := []rail.Decision{
		{Rule: "guardrail", FilePath: "infra/deploy.py", Allowed: false, Detail: "path is in a protected directory: infra/deploy.py"},
		{Rule: "diff_budget", Allowed: true},
	}

	body := BuildComment(result, previews, decisions, "feedface00")

	assert.Contains(t, body, CommentMarkerFor("feedface00"))
	assert.Contains(t, body, "## Autopatch security report")
	assert.Contains(t, body, "### Applied fixes (1)")
	assert.Contains(t, body, "```diff")
	assert.Contains(t, body, "+good")
	assert.Contains(t, body, "Committed as `0123456789ab`.")

	assert.Contains(t, body, "### Findings left open (2)")
	// Sorted by file then line: admin.py before fetch.py.
	adminIdx := indexOf(t, body, "app/admin.py")
	fetchIdx := indexOf(t, body, "app/fetch.py")
	assert.Less(t, adminIdx, fetchIdx)
	assert.Contains(t, body, "allowlist")
	assert.Contains(t, body, string(findings.SkipWarnMode))

	// Only rejecting rail decisions appear.
	assert.Contains(t, body, "### Safety rail")
	assert.Contains(t, body, "guardrail rejected `infra/deploy.py`")
	assert.NotContains(t, body, "diff_budget rejected")
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	idx := strings.Index(haystack, needle)
	require.GreaterOrEqual(t, idx, 0, "expected %q in comment body", needle)
	return idx
}

func TestBuildCommentErrors(t *testing.T) {
	result := findings.RunResult{
		RunID:  "r1",
		Errors: []string{"clone: connection reset"},
	}

	body := BuildComment(result, nil, nil, "feedface00")
	assert.Contains(t, body, "### Errors (1)")
	assert.Contains(t, body, "clone: connection reset")
}

func TestBuildCommentRendersWarnModeProposal(t *testing.T) {
	result := findings.RunResult{
		FindingsSkipped: []findings.SkippedFinding{{
			Finding:  findings.Finding{ID: "w1", FilePath: "app/views.py", StartLine: 12, RuleID: "python.django.xss"},
			Reason:   findings.SkipWarnMode,
			Guidance: "rule runs in warn mode; the proposed fix below was not applied",
		}},
	}
	previews := map[string]string{
		"w1": "--- a/app/views.py\n+++ b/app/views.py\n@@ -12 +12 @@\n-    return mark_safe(user.bio)\n+    return escape(user.bio)\n",
	}

	body := BuildComment(result, previews, nil, "feedface00")
	assert.Contains(t, body, "warn_mode")
	assert.Contains(t, body, "```diff")
	assert.Contains(t, body, "+    return escape(user.bio)")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name       string
		result     findings.RunResult
		wantStatus Status
	}{
		{
			name:       "clean run",
			result:     findings.RunResult{},
			wantStatus: StatusSuccess,
		},
		{
			name: "fixes applied",
			result: findings.RunResult{
				PatchesApplied: []findings.Patch{{FindingID: "f1"}},
			},
			wantStatus: StatusSuccess,
		},
		{
			name: "policy-suppressed findings fail the status",
			result: findings.RunResult{
				FindingsSkipped: []findings.SkippedFinding{
					{Reason: findings.SkipLowSeverity},
					{Reason: findings.SkipBaseline},
				},
			},
			wantStatus: StatusFailure,
		},
		{
			name: "already-attempted findings stay green",
			result: findings.RunResult{
				FindingsSkipped: []findings.SkippedFinding{{Reason: findings.SkipAlreadyFixed}},
			},
			wantStatus: StatusSuccess,
		},
		{
			name: "open finding fails the status",
			result: findings.RunResult{
				FindingsSkipped: []findings.SkippedFinding{{Reason: findings.SkipNoSafeFix}},
			},
			wantStatus: StatusFailure,
		},
		{
			name: "warn mode fails the status",
			result: findings.RunResult{
				FindingsSkipped: []findings.SkippedFinding{{Reason: findings.SkipWarnMode}},
			},
			wantStatus: StatusFailure,
		},
		{
			name: "run error wins",
			result: findings.RunResult{
				PatchesApplied: []findings.Patch{{FindingID: "f1"}},
				Errors:         []string{"push rejected"},
			},
			wantStatus: StatusError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, description := StatusFor(tc.result)
			assert.Equal(t, tc.wantStatus, status)
			assert.NotEmpty(t, description)
		})
	}
}
