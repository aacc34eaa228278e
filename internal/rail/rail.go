// Package rail is the last stop before a batch of patches is committed. It
// enforces the repository's diff budget, blocks writes to sensitive and
// dependency files, and optionally verifies the patched tree with the
// configured test command. Rejection is all-or-nothing: one bad patch sinks
// the whole batch and the run degrades to report-only.
package rail

import (
	"path"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/autopatch-dev/autopatch/internal/config"
	"github.com/autopatch-dev/autopatch/internal/findings"
	sharedErrors "github.com/autopatch-dev/autopatch/pkg/shared/errors"
)

// sensitivePrefixes are directories whose contents the pipeline refuses to
// modify unless the repository allowlists them.
var sensitivePrefixes = []string{
	"migrations/",
	"infra/",
	"auth/",
	"security/",
}

// dependencyFiles are manifest and lock files that pin third party code.
var dependencyFiles = map[string]struct{}{
	"requirements.txt":  {},
	"pipfile":           {},
	"pipfile.lock":      {},
	"poetry.lock":       {},
	"pyproject.toml":    {},
	"setup.py":          {},
	"package.json":      {},
	"package-lock.json": {},
	"yarn.lock":         {},
	"go.mod":            {},
	"go.sum":            {},
	"gemfile":           {},
	"gemfile.lock":      {},
}

// GuardrailError rejects a batch that touches a protected or dependency
// path.
type GuardrailError struct {
	Path   string
	Reason string
}

func (e *GuardrailError) Error() string {
	return e.Reason
}

// Decision records the rail's verdict on one patch or on the batch.
type Decision struct {
	FilePath string `json:"file_path,omitempty"`
	Rule     string `json:"rule"`
	Allowed  bool   `json:"allowed"`
	Detail   string `json:"detail,omitempty"`
}

// Rail validates aggregated patch batches against repository policy.
type Rail struct {
	cfg    *config.Config
	logger hclog.Logger

	decisions []Decision
}

// New builds a Rail for one run. The Rail accumulates its decisions so the
// reporter can include them in the run record.
func New(cfg *config.Config, logger hclog.Logger) *Rail {
	return &Rail{cfg: cfg, logger: logger}
}

// Decisions returns every verdict recorded so far, in order.
func (r *Rail) Decisions() []Decision {
	return r.decisions
}

func (r *Rail) record(d Decision) {
	r.decisions = append(r.decisions, d)
	if d.Allowed {
		r.logger.Debug("rail decision", "rule", d.Rule, "file", d.FilePath, "allowed", true)
	} else {
		r.logger.Warn("rail rejected batch", "rule", d.Rule, "file", d.FilePath, "detail", d.Detail)
	}
}

// Validate checks the whole batch. A non-nil error means the batch must not
// be committed; the error type carries the reason for reporting.
func (r *Rail) Validate(patches []findings.Patch) error {
	if err := r.checkGuardrails(patches); err != nil {
		return err
	}
	return r.checkBudget(patches)
}

func (r *Rail) checkBudget(patches []findings.Patch) error {
	total := 0
	files := make(map[string]struct{})
	for _, p := range patches {
		total += p.AddedLines + p.RemovedLines
		files[p.FilePath] = struct{}{}
	}
	if total > r.cfg.MaxDiffLines || len(files) > r.cfg.MaxFilesChanged {
		err := sharedErrors.NewDiffBudgetError(total, len(files), r.cfg.MaxDiffLines, r.cfg.MaxFilesChanged)
		r.record(Decision{Rule: "diff_budget", Allowed: false, Detail: err.Error()})
		return err
	}
	r.record(Decision{Rule: "diff_budget", Allowed: true})
	return nil
}

func (r *Rail) checkGuardrails(patches []findings.Patch) error {
	for _, p := range patches {
		if reason := r.blockedPath(p.FilePath); reason != "" {
			r.record(Decision{FilePath: p.FilePath, Rule: "guardrail", Allowed: false, Detail: reason})
			return &GuardrailError{Path: p.FilePath, Reason: reason}
		}
		r.record(Decision{FilePath: p.FilePath, Rule: "guardrail", Allowed: true})
	}
	return nil
}

// blockedPath returns a non-empty reason when the path must not be modified.
func (r *Rail) blockedPath(filePath string) string {
	normalized := strings.ToLower(path.Clean(strings.ReplaceAll(filePath, "\\", "/")))

	if !r.cfg.AllowDependencies {
		if _, ok := dependencyFiles[path.Base(normalized)]; ok {
			return "dependency file changes are not applied automatically: " + filePath
		}
	}

	for _, prefix := range sensitivePrefixes {
		if !strings.HasPrefix(normalized, prefix) && !strings.Contains(normalized, "/"+prefix) {
			continue
		}
		if r.allowlisted(normalized) {
			break
		}
		return "path is in a protected directory: " + filePath
	}
	return ""
}

func (r *Rail) allowlisted(normalized string) bool {
	for _, allowed := range r.cfg.SensitiveAllowlist {
		a := strings.ToLower(strings.TrimSuffix(strings.ReplaceAll(allowed, "\\", "/"), "/"))
		if normalized == a || strings.HasPrefix(normalized, a+"/") {
			return true
		}
	}
	return false
}
