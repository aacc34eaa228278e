package fixer

import (
	"github.com/autopatch-dev/autopatch/internal/findings"
)

// DetectionOnlyFixer covers vulnerability classes with no deterministic,
// enumerable rewrite. It never produces a patch; every finding becomes
// guidance for the report.
type DetectionOnlyFixer struct {
	family   findings.RuleFamily
	guidance string
}

// NewDetectionOnlyFixer registers a detection-only class with its fixed
// guidance text.
func NewDetectionOnlyFixer(family findings.RuleFamily, guidance string) *DetectionOnlyFixer {
	return &DetectionOnlyFixer{family: family, guidance: guidance}
}

func (f *DetectionOnlyFixer) Family() findings.RuleFamily { return f.family }

func (f *DetectionOnlyFixer) MinConfidence() findings.Confidence { return findings.ConfidenceHigh }

func (f *DetectionOnlyFixer) Propose(src []byte, finding findings.Finding) (*findings.Patch, error) {
	return nil, NoSafeFix(f.guidance)
}
