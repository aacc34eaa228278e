package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v2"

	"github.com/autopatch-dev/autopatch/internal/findings"
)

// Default ceilings applied when the repository does not configure its own.
const (
	DefaultMaxDiffLines    = 500
	DefaultMaxFilesChanged = 10
	DefaultTestCommand     = "pytest"
)

// repoConfigNames are searched in order at the repository root.
var repoConfigNames = []string{".autopatch.yml", ".autopatch.yaml"}

// EnforceMode controls whether an enabled rule's fixes are applied or only
// reported.
type EnforceMode string

const (
	ModeEnforce EnforceMode = "enforce"
	ModeWarn    EnforceMode = "warn"
)

// PolicyOverride is a partial configuration scoped to a path prefix. Nil
// fields fall back to the surrounding (global) configuration.
type PolicyOverride struct {
	SeverityThreshold *string  `yaml:"severity_threshold"`
	RulesEnabled      []string `yaml:"rules_enabled"`
}

// DirectoryPolicy pairs a path prefix with its override. Resolution uses
// longest-prefix match at lookup time.
type DirectoryPolicy struct {
	Prefix   string
	Override PolicyOverride
}

// Rules holds the per-family enablement and enforcement configuration.
type Rules struct {
	Enabled        []string               `yaml:"enabled"`
	EnforcePerRule map[string]EnforceMode `yaml:"enforce_per_rule"`
}

// Config is the repository-scoped configuration, loaded once per run from
// the target repository root.
type Config struct {
	MaxDiffLines       int      `yaml:"max_diff_lines"`
	MaxFilesChanged    int      `yaml:"max_files_changed"`
	SeverityThreshold  string   `yaml:"severity_threshold"`
	Rules              Rules    `yaml:"rules"`
	BaselineMode       bool     `yaml:"baseline_mode"`
	BaselineSHA        string   `yaml:"baseline_sha"`
	BaselineMaxAgeDays int      `yaml:"baseline_max_age_days"`
	TestBeforeCommit   bool     `yaml:"test_before_commit"`
	TestCommand        string   `yaml:"test_command"`
	SensitiveAllowlist []string `yaml:"sensitive_paths_allowlist"`
	AllowDependencies  bool     `yaml:"allow_dependency_changes"`

	// yaml.v2 MapSlice preserves the declared order of directory policies.
	RawDirectoryPolicies yaml.MapSlice `yaml:"directory_policies"`

	policies []DirectoryPolicy
}

// Default returns the configuration used when the repository carries no
// config file: every family enabled in enforce mode, medium threshold.
func Default() *Config {
	c := &Config{
		MaxDiffLines:      DefaultMaxDiffLines,
		MaxFilesChanged:   DefaultMaxFilesChanged,
		SeverityThreshold: "medium",
		TestCommand:       DefaultTestCommand,
		Rules: Rules{
			Enabled: []string{
				string(findings.FamilySQLi),
				string(findings.FamilySecrets),
				string(findings.FamilyXSS),
				string(findings.FamilyCommandInjection),
				string(findings.FamilyPathTraversal),
				string(findings.FamilySSRF),
				string(findings.FamilyEval),
				string(findings.FamilyDOMXSS),
			},
		},
	}
	return c
}

// Load reads the repository configuration from repoPath, applying defaults
// and environment overrides. A missing config file yields the defaults.
func Load(repoPath string) (*Config, error) {
	cfg := Default()

	for _, name := range repoConfigNames {
		path := filepath.Join(repoPath, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
		}
		break
	}

	applyEnvOverrides(cfg)

	if err := cfg.buildPolicies(); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUTOPATCH_MAX_DIFF_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxDiffLines = n
		}
	}
	switch strings.ToLower(os.Getenv("AUTOPATCH_TEST_BEFORE_COMMIT")) {
	case "1", "true", "yes":
		cfg.TestBeforeCommit = true
	case "0", "false", "no":
		cfg.TestBeforeCommit = false
	}
	if v := strings.TrimSpace(os.Getenv("AUTOPATCH_TEST_COMMAND")); v != "" {
		cfg.TestCommand = v
	}
}

func (c *Config) buildPolicies() error {
	c.policies = c.policies[:0]
	for _, item := range c.RawDirectoryPolicies {
		prefix, ok := item.Key.(string)
		if !ok {
			return fmt.Errorf("directory policy key %v is not a string", item.Key)
		}
		raw, err := yaml.Marshal(item.Value)
		if err != nil {
			return fmt.Errorf("failed to re-encode policy for %q: %w", prefix, err)
		}
		var override PolicyOverride
		if err := yaml.Unmarshal(raw, &override); err != nil {
			return fmt.Errorf("failed to parse policy for %q: %w", prefix, err)
		}
		c.policies = append(c.policies, DirectoryPolicy{Prefix: prefix, Override: override})
	}
	// Longest prefixes first so the first match wins at lookup time.
	sort.SliceStable(c.policies, func(i, j int) bool {
		return len(c.policies[i].Prefix) > len(c.policies[j].Prefix)
	})
	return nil
}

// DirectoryPolicies returns the parsed, longest-first policy list.
func (c *Config) DirectoryPolicies() []DirectoryPolicy {
	return c.policies
}

// EffectiveSeverityThreshold resolves the severity threshold for a path by
// longest-prefix match over directory policies, falling back to the global
// threshold.
func (c *Config) EffectiveSeverityThreshold(path string) findings.Severity {
	normalized := filepath.ToSlash(path)
	for _, p := range c.policies {
		if strings.HasPrefix(normalized, p.Prefix) && p.Override.SeverityThreshold != nil {
			return findings.ParseSeverity(*p.Override.SeverityThreshold)
		}
	}
	return findings.ParseSeverity(c.SeverityThreshold)
}

// EffectiveRulesEnabled resolves the enabled rule set for a path.
func (c *Config) EffectiveRulesEnabled(path string) []string {
	normalized := filepath.ToSlash(path)
	for _, p := range c.policies {
		if strings.HasPrefix(normalized, p.Prefix) && p.Override.RulesEnabled != nil {
			return p.Override.RulesEnabled
		}
	}
	return c.Rules.Enabled
}

// RuleEnabled reports whether a rule family is enabled for a path.
func (c *Config) RuleEnabled(family findings.RuleFamily, path string) bool {
	for _, name := range c.EffectiveRulesEnabled(path) {
		if strings.EqualFold(name, string(family)) {
			return true
		}
	}
	return false
}

// EnforceModeFor returns the enforcement mode for a rule family. Families
// without an explicit entry default to enforce.
func (c *Config) EnforceModeFor(family findings.RuleFamily) EnforceMode {
	if mode, ok := c.Rules.EnforcePerRule[string(family)]; ok {
		if mode == ModeWarn {
			return ModeWarn
		}
	}
	return ModeEnforce
}

// Validate rejects configurations with out-of-range ceilings or unknown rule
// names.
func Validate(cfg *Config) error {
	if cfg.MaxDiffLines <= 0 {
		return fmt.Errorf("max_diff_lines must be positive, got %d", cfg.MaxDiffLines)
	}
	if cfg.MaxFilesChanged <= 0 {
		return fmt.Errorf("max_files_changed must be positive, got %d", cfg.MaxFilesChanged)
	}
	if cfg.BaselineMaxAgeDays < 0 {
		return fmt.Errorf("baseline_max_age_days must not be negative, got %d", cfg.BaselineMaxAgeDays)
	}
	for rule, mode := range cfg.Rules.EnforcePerRule {
		if mode != ModeEnforce && mode != ModeWarn {
			return fmt.Errorf("rule %q has unknown enforce mode %q", rule, mode)
		}
	}
	if cfg.BaselineMode && cfg.BaselineSHA == "" {
		return fmt.Errorf("baseline_mode requires baseline_sha")
	}
	return nil
}
