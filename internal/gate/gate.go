// Package gate decides, per finding, whether a fix attempt is admitted.
// Policy checks run before any fixer touches source: severity threshold,
// fixer confidence floor, rule enablement, enforcement mode, and baseline
// suppression. Every rejection carries a reason that is reported downstream.
package gate

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/autopatch-dev/autopatch/internal/baseline"
	"github.com/autopatch-dev/autopatch/internal/config"
	"github.com/autopatch-dev/autopatch/internal/findings"
	"github.com/autopatch-dev/autopatch/internal/fixer"
)

// Gate applies repository policy to routed findings.
type Gate struct {
	cfg      *config.Config
	snapshot *baseline.Snapshot
	now      func() time.Time
	logger   hclog.Logger
}

// New builds a Gate. The snapshot may be nil when the repository carries no
// baseline. Suppression only activates when baseline_mode is on, the
// snapshot matches the configured baseline commit, and it has not expired.
func New(cfg *config.Config, snapshot *baseline.Snapshot, logger hclog.Logger) *Gate {
	g := &Gate{cfg: cfg, snapshot: snapshot, now: time.Now, logger: logger}
	switch {
	case snapshot == nil:
	case !cfg.BaselineMode:
		logger.Debug("baseline snapshot present but baseline_mode is off, suppression disabled")
		g.snapshot = nil
	case cfg.BaselineSHA != "" && cfg.BaselineSHA != snapshot.Commit:
		logger.Warn("baseline snapshot does not match baseline_sha, suppression disabled",
			"snapshot_commit", snapshot.Commit, "configured", cfg.BaselineSHA)
		g.snapshot = nil
	case snapshot.Expired(g.now(), cfg.BaselineMaxAgeDays):
		logger.Info("baseline snapshot expired, suppression disabled",
			"commit", snapshot.Commit, "created_at", snapshot.CreatedAt, "max_age_days", cfg.BaselineMaxAgeDays)
		g.snapshot = nil
	}
	return g
}

// Admit reports whether the finding may proceed to its fixer. A false return
// carries the policy reason; admitted findings return an empty reason.
func (g *Gate) Admit(f findings.Finding, fx fixer.Fixer) (bool, findings.SkipReason) {
	if g.snapshot.Contains(f) {
		g.logger.Debug("finding suppressed by baseline", "rule", f.RuleID, "file", f.FilePath, "line", f.StartLine)
		return false, findings.SkipBaseline
	}
	if !g.cfg.RuleEnabled(f.Family, f.FilePath) {
		return false, findings.SkipRuleDisabled
	}
	if f.Severity < g.cfg.EffectiveSeverityThreshold(f.FilePath) {
		return false, findings.SkipLowSeverity
	}
	if f.Confidence < fx.MinConfidence() {
		return false, findings.SkipLowConfidence
	}
	if g.cfg.EnforceModeFor(f.Family) == config.ModeWarn {
		return false, findings.SkipWarnMode
	}
	return true, ""
}
