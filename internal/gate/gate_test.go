package gate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-dev/autopatch/internal/baseline"
	"github.com/autopatch-dev/autopatch/internal/config"
	"github.com/autopatch-dev/autopatch/internal/findings"
	"github.com/autopatch-dev/autopatch/internal/fixer"
)

func sqliFixer(t *testing.T) fixer.Fixer {
	t.Helper()
	fx, ok := fixer.NewRegistry().For(findings.FamilySQLi)
	require.True(t, ok)
	return fx
}

func admissibleFinding() findings.Finding {
	return findings.Finding{
		ID:         "f1",
		RuleID:     "python.sqli.format-string",
		Family:     findings.FamilySQLi,
		FilePath:   "app/views.py",
		StartLine:  10,
		EndLine:    10,
		Severity:   findings.SeverityHigh,
		Confidence: findings.ConfidenceHigh,
		Snippet:    `cursor.execute("SELECT * FROM users WHERE email = '%s'" % email)`,
	}
}

func TestAdmitPolicyChecks(t *testing.T) {
	fx := sqliFixer(t)

	tests := []struct {
		name       string
		cfg        func() *config.Config
		finding    func() findings.Finding
		wantAdmit  bool
		wantReason findings.SkipReason
	}{
		{
			name:      "defaults admit high severity high confidence",
			cfg:       config.Default,
			finding:   admissibleFinding,
			wantAdmit: true,
		},
		{
			name: "severity below threshold is skipped, not hidden",
			cfg:  config.Default,
			finding: func() findings.Finding {
				f := admissibleFinding()
				f.Severity = findings.SeverityLow
				return f
			},
			wantReason: findings.SkipLowSeverity,
		},
		{
			name: "confidence below fixer floor is skipped",
			cfg:  config.Default,
			finding: func() findings.Finding {
				f := admissibleFinding()
				f.Confidence = findings.ConfidenceLow
				return f
			},
			wantReason: findings.SkipLowConfidence,
		},
		{
			name: "disabled rule family is skipped",
			cfg: func() *config.Config {
				c := config.Default()
				c.Rules.Enabled = []string{string(findings.FamilyXSS)}
				return c
			},
			finding:    admissibleFinding,
			wantReason: findings.SkipRuleDisabled,
		},
		{
			name: "warn mode reports without patching",
			cfg: func() *config.Config {
				c := config.Default()
				c.Rules.EnforcePerRule = map[string]config.EnforceMode{
					string(findings.FamilySQLi): config.ModeWarn,
				}
				return c
			},
			finding:    admissibleFinding,
			wantReason: findings.SkipWarnMode,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := New(tc.cfg(), nil, hclog.NewNullLogger())
			ok, reason := g.Admit(tc.finding(), fx)
			assert.Equal(t, tc.wantAdmit, ok)
			assert.Equal(t, tc.wantReason, reason)
		})
	}
}

func baselineConfig(sha string) *config.Config {
	cfg := config.Default()
	cfg.BaselineMode = true
	cfg.BaselineSHA = sha
	return cfg
}

func TestAdmitBaselineSuppression(t *testing.T) {
	fx := sqliFixer(t)
	f := admissibleFinding()

	snap := baseline.New("abc123", []findings.Finding{f}, time.Now())
	g := New(baselineConfig("abc123"), snap, hclog.NewNullLogger())

	ok, reason := g.Admit(f, fx)
	assert.False(t, ok)
	assert.Equal(t, findings.SkipBaseline, reason)

	fresh := admissibleFinding()
	fresh.Snippet = `cursor.execute("DELETE FROM users WHERE id = '%s'" % uid)`
	ok, reason = g.Admit(fresh, fx)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestBaselineIgnoredWhenModeOff(t *testing.T) {
	fx := sqliFixer(t)
	f := admissibleFinding()

	// A leftover snapshot file must not suppress anything on its own.
	snap := baseline.New("abc123", []findings.Finding{f}, time.Now())
	g := New(config.Default(), snap, hclog.NewNullLogger())

	ok, reason := g.Admit(f, fx)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestBaselineIgnoredWhenCommitMismatches(t *testing.T) {
	fx := sqliFixer(t)
	f := admissibleFinding()

	snap := baseline.New("abc123", []findings.Finding{f}, time.Now())
	g := New(baselineConfig("def456"), snap, hclog.NewNullLogger())

	ok, reason := g.Admit(f, fx)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestExpiredBaselineStopsSuppressing(t *testing.T) {
	fx := sqliFixer(t)
	f := admissibleFinding()

	snap := baseline.New("abc123", []findings.Finding{f}, time.Now().Add(-40*24*time.Hour))
	cfg := baselineConfig("abc123")
	cfg.BaselineMaxAgeDays = 30

	g := New(cfg, snap, hclog.NewNullLogger())
	ok, reason := g.Admit(f, fx)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestAdmitHonorsDirectoryPolicyThreshold(t *testing.T) {
	fx := sqliFixer(t)

	repoPath := t.TempDir()
	raw := "directory_policies:\n  legacy/:\n    severity_threshold: critical\n"
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, ".autopatch.yml"), []byte(raw), 0o644))
	cfg, err := config.Load(repoPath)
	require.NoError(t, err)

	inLegacy := admissibleFinding()
	inLegacy.FilePath = "legacy/orders.py"

	g := New(cfg, nil, hclog.NewNullLogger())
	ok, reason := g.Admit(inLegacy, fx)
	assert.False(t, ok)
	assert.Equal(t, findings.SkipLowSeverity, reason)

	elsewhere := admissibleFinding()
	ok, _ = g.Admit(elsewhere, fx)
	assert.True(t, ok)
}
