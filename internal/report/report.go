// Package report publishes run outcomes back to the hosting provider: one
// summary comment per head commit, upserted rather than duplicated, plus a
// commit status so the change request surface shows the verdict at a glance.
package report

import (
	"context"

	"github.com/autopatch-dev/autopatch/internal/findings"
)

// Status is the commit status verdict attached under the autopatch/security
// context.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusError   Status = "error"
)

// StatusContext is the commit status context name used on every provider.
const StatusContext = "autopatch/security"

// Target identifies the change request a report is published to.
type Target struct {
	Owner         string
	Repo          string
	ChangeRequest int
	HeadSHA       string
}

// Reporter publishes run outcomes to a hosting provider.
type Reporter interface {
	// UpsertComment creates the run summary comment for the head SHA, or
	// updates the existing one when the same run already commented.
	UpsertComment(ctx context.Context, target Target, body string) error
	// SetStatus attaches a commit status under StatusContext.
	SetStatus(ctx context.Context, target Target, status Status, description string) error
}

// StatusFor derives the commit status from the run outcome. Applied patches
// and clean runs are success; any finding left open, whatever suppressed it,
// is failure; run errors are error. Only already-attempted findings do not
// count as open: the earlier run for the same head already reported them.
func StatusFor(result findings.RunResult) (Status, string) {
	if len(result.Errors) > 0 {
		return StatusError, "run finished with errors"
	}
	open := 0
	for _, s := range result.FindingsSkipped {
		if s.Reason != findings.SkipAlreadyFixed {
			open++
		}
	}
	if open > 0 {
		return StatusFailure, "security findings need attention"
	}
	if len(result.PatchesApplied) > 0 {
		return StatusSuccess, "fixes applied"
	}
	return StatusSuccess, "no actionable findings"
}
