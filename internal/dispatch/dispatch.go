// Package dispatch normalizes the scanner's raw findings into a routed work
// list: overlapping findings collapse into one, and every finding maps to
// exactly one fixer or is surfaced as unroutable.
package dispatch

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/autopatch-dev/autopatch/internal/findings"
	"github.com/autopatch-dev/autopatch/internal/fixer"
)

// UnroutableFindingError marks a finding whose rule family has no registered
// fixer. Such findings are surfaced as guidance, never silently dropped.
type UnroutableFindingError struct {
	Finding findings.Finding
}

func (e *UnroutableFindingError) Error() string {
	return fmt.Sprintf("no fixer registered for rule family %q (rule %s)", e.Finding.Family, e.Finding.RuleID)
}

// Dispatcher dedups raw findings and routes each to its fixer.
type Dispatcher struct {
	registry *fixer.Registry
	logger   hclog.Logger
}

// New creates a Dispatcher over the closed fixer registry.
func New(registry *fixer.Registry, logger hclog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, logger: logger}
}

// Routed pairs a deduplicated finding with its fixer.
type Routed struct {
	Finding findings.Finding
	Fixer   fixer.Fixer
}

// Dispatch collapses overlapping findings and routes the survivors. The
// second return value lists findings without a registered fixer.
func (d *Dispatcher) Dispatch(raw []findings.Finding) ([]Routed, []findings.Finding) {
	deduped := Dedup(raw)

	var routed []Routed
	var unroutable []findings.Finding
	for _, f := range deduped {
		fx, ok := d.registry.For(f.Family)
		if !ok {
			d.logger.Warn("finding has no registered fixer", "rule", f.RuleID, "family", f.Family, "file", f.FilePath)
			unroutable = append(unroutable, f)
			continue
		}
		routed = append(routed, Routed{Finding: f, Fixer: fx})
	}

	d.logger.Debug("dispatched findings", "raw", len(raw), "deduped", len(deduped), "routed", len(routed), "unroutable", len(unroutable))
	return routed, unroutable
}

// Dedup collapses raw findings that reference overlapping spans in the same
// file under the same rule family. The higher severity wins; ties go to the
// earliest start line. Output ordering is deterministic: file, then start
// line, then family.
func Dedup(raw []findings.Finding) []findings.Finding {
	var out []findings.Finding

	for _, candidate := range raw {
		merged := false
		for i, kept := range out {
			if kept.Family != candidate.Family || !kept.Overlaps(candidate) {
				continue
			}
			if wins(candidate, kept) {
				out[i] = candidate
			}
			merged = true
			break
		}
		if !merged {
			out = append(out, candidate)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FilePath != out[j].FilePath {
			return out[i].FilePath < out[j].FilePath
		}
		if out[i].StartLine != out[j].StartLine {
			return out[i].StartLine < out[j].StartLine
		}
		return out[i].Family < out[j].Family
	})
	return out
}

func wins(a, b findings.Finding) bool {
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	return a.StartLine < b.StartLine
}
