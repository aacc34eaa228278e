package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-dev/autopatch/internal/findings"
)

func writeRepoConfig(t *testing.T, content string) string {
	t.Helper()
	repoPath := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, ".autopatch.yml"), []byte(content), 0o644))
	return repoPath
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxDiffLines, cfg.MaxDiffLines)
	assert.Equal(t, DefaultMaxFilesChanged, cfg.MaxFilesChanged)
	assert.Equal(t, findings.SeverityMedium, cfg.EffectiveSeverityThreshold("app.py"))
	assert.True(t, cfg.RuleEnabled(findings.FamilySQLi, "app.py"))
	assert.False(t, cfg.TestBeforeCommit)
}

func TestLoadRepoConfig(t *testing.T) {
	repoPath := writeRepoConfig(t, `
max_diff_lines: 120
max_files_changed: 3
severity_threshold: high
rules:
  enabled:
    - sqli
    - secrets
  enforce_per_rule:
    secrets: warn
test_before_commit: true
test_command: pytest -x
`)

	cfg, err := Load(repoPath)
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.MaxDiffLines)
	assert.Equal(t, 3, cfg.MaxFilesChanged)
	assert.Equal(t, findings.SeverityHigh, cfg.EffectiveSeverityThreshold("app.py"))
	assert.True(t, cfg.RuleEnabled(findings.FamilySQLi, "app.py"))
	assert.False(t, cfg.RuleEnabled(findings.FamilyXSS, "app.py"))
	assert.Equal(t, ModeWarn, cfg.EnforceModeFor(findings.FamilySecrets))
	assert.Equal(t, ModeEnforce, cfg.EnforceModeFor(findings.FamilySQLi))
	assert.True(t, cfg.TestBeforeCommit)
	assert.Equal(t, "pytest -x", cfg.TestCommand)
}

func TestLoadDirectoryPoliciesLongestPrefixWins(t *testing.T) {
	repoPath := writeRepoConfig(t, `
severity_threshold: medium
directory_policies:
  src/:
    severity_threshold: low
  src/payments/:
    severity_threshold: critical
    rules_enabled:
      - sqli
`)

	cfg, err := Load(repoPath)
	require.NoError(t, err)

	assert.Equal(t, findings.SeverityCritical, cfg.EffectiveSeverityThreshold("src/payments/charge.py"))
	assert.Equal(t, findings.SeverityLow, cfg.EffectiveSeverityThreshold("src/web/views.py"))
	assert.Equal(t, findings.SeverityMedium, cfg.EffectiveSeverityThreshold("tools/cleanup.py"))

	assert.True(t, cfg.RuleEnabled(findings.FamilySQLi, "src/payments/charge.py"))
	assert.False(t, cfg.RuleEnabled(findings.FamilyXSS, "src/payments/charge.py"))
	assert.True(t, cfg.RuleEnabled(findings.FamilyXSS, "src/web/views.py"))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUTOPATCH_MAX_DIFF_LINES", "42")
	t.Setenv("AUTOPATCH_TEST_BEFORE_COMMIT", "true")
	t.Setenv("AUTOPATCH_TEST_COMMAND", "make test")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.MaxDiffLines)
	assert.True(t, cfg.TestBeforeCommit)
	assert.Equal(t, "make test", cfg.TestCommand)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "non-positive diff budget",
			mutate:  func(c *Config) { c.MaxDiffLines = 0 },
			wantErr: "max_diff_lines",
		},
		{
			name:    "non-positive file budget",
			mutate:  func(c *Config) { c.MaxFilesChanged = -1 },
			wantErr: "max_files_changed",
		},
		{
			name: "unknown enforce mode",
			mutate: func(c *Config) {
				c.Rules.EnforcePerRule = map[string]EnforceMode{"sqli": "audit"}
			},
			wantErr: "enforce mode",
		},
		{
			name:    "baseline mode without sha",
			mutate:  func(c *Config) { c.BaselineMode = true },
			wantErr: "baseline_sha",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestIgnorePatterns(t *testing.T) {
	repoPath := t.TempDir()
	raw := "# generated assets\nvendor/\n*.min.js\nsrc/legacy\n**/*.lock\n\n"
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, IgnoreFileName), []byte(raw), 0o644))

	patterns, err := ReadIgnorePatterns(repoPath)
	require.NoError(t, err)
	require.Len(t, patterns, 4)

	tests := []struct {
		path string
		want bool
	}{
		{"vendor/lib/dep.py", true},
		{"assets/app.min.js", true},
		{"src/legacy/old.py", true},
		{"poetry.lock", true},
		{"src/app.py", false},
		{"src/legacy_new.py", false},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldIgnore(tc.path, patterns))
		})
	}

	kept := FilterIgnored([]string{"src/app.py", "vendor/lib/dep.py"}, patterns)
	assert.Equal(t, []string{"src/app.py"}, kept)
}

func TestReadIgnorePatternsMissingFile(t *testing.T) {
	patterns, err := ReadIgnorePatterns(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, patterns)
}
