package findings

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// RuleFamily identifies the vulnerability class a finding belongs to. Each
// family maps to exactly one fixer.
type RuleFamily string

const (
	FamilySQLi             RuleFamily = "sqli"
	FamilySecrets          RuleFamily = "secrets"
	FamilyXSS              RuleFamily = "xss"
	FamilyCommandInjection RuleFamily = "command-injection"
	FamilyPathTraversal    RuleFamily = "path-traversal"
	FamilySSRF             RuleFamily = "ssrf"
	FamilyEval             RuleFamily = "eval"
	FamilyDOMXSS           RuleFamily = "dom-xss"
)

// Severity is an ordered scale; higher values outrank lower ones when
// deduplicating overlapping findings.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	case SeverityLow:
		return "low"
	default:
		return "info"
	}
}

// ParseSeverity maps scanner severity labels onto the ordered scale.
// Unrecognized labels fall back to info.
func ParseSeverity(value string) Severity {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "critical":
		return SeverityCritical
	case "high", "error":
		return SeverityHigh
	case "medium", "warning":
		return SeverityMedium
	case "low", "note":
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Confidence is the scanner's declared confidence tier for a finding.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParseConfidence maps scanner confidence labels onto the tier scale.
func ParseConfidence(value string) Confidence {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "high":
		return ConfidenceHigh
	case "medium":
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Property is a simple name/value pair used for tags or custom metadata.
type Property struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Finding is a normalized, immutable vulnerability report tied to a file span.
type Finding struct {
	ID         string     `json:"id"`
	RuleID     string     `json:"rule_id"`
	Family     RuleFamily `json:"rule_family"`
	FilePath   string     `json:"file_path"`
	StartLine  int        `json:"start_line"`
	EndLine    int        `json:"end_line"`
	Severity   Severity   `json:"severity"`
	Confidence Confidence `json:"confidence"`
	Message    string     `json:"message"`
	Tags       []Property `json:"tags,omitempty"`
	Snippet    string     `json:"snippet,omitempty"`
}

// Overlaps reports whether two findings reference overlapping line spans in
// the same file.
func (f Finding) Overlaps(other Finding) bool {
	if f.FilePath != other.FilePath {
		return false
	}
	return f.StartLine <= other.EndLine && other.StartLine <= f.EndLine
}

// Fingerprint is a stable hash of (file path, rule family, normalized span
// content). It identifies "this issue at this place" across commits as long
// as the offending code does not change.
func (f Finding) Fingerprint() string {
	normalized := strings.Join(strings.Fields(f.Snippet), " ")
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", f.FilePath, f.Family, normalized)
	return hex.EncodeToString(h.Sum(nil))
}

// Hunk is a contiguous replacement of original lines [Start, End) (0-based,
// end-exclusive) with Lines. Start == End denotes a pure insertion before
// line Start.
type Hunk struct {
	Start int      `json:"start"`
	End   int      `json:"end"`
	Lines []string `json:"lines"`
}

// Patch is the output of exactly one fixer invocation. It is never mutated
// after creation. A patch may carry more than one hunk (e.g. the rewritten
// statement plus an inserted import), all within a single file.
type Patch struct {
	FindingID    string `json:"finding_id"`
	FilePath     string `json:"file_path"`
	Hunks        []Hunk `json:"hunks"`
	AddedLines   int    `json:"added_lines"`
	RemovedLines int    `json:"removed_lines"`
	Summary      string `json:"summary"`
}

// Apply rewrites source lines with the patch hunks. Hunks must not overlap;
// they are applied bottom-up so earlier offsets stay valid. A pure insertion
// at index i sorts before a replacement starting at i, so an import inserted
// directly above a rewritten line composes. Lines outside the hunks are
// preserved byte for byte.
func (p Patch) Apply(lines []string) ([]string, error) {
	hunks := make([]Hunk, len(p.Hunks))
	copy(hunks, p.Hunks)
	for i := 0; i < len(hunks); i++ {
		for j := i + 1; j < len(hunks); j++ {
			if hunks[j].Start < hunks[i].Start ||
				(hunks[j].Start == hunks[i].Start && hunks[j].End < hunks[i].End) {
				hunks[i], hunks[j] = hunks[j], hunks[i]
			}
		}
	}
	for i := 1; i < len(hunks); i++ {
		if hunks[i].Start < hunks[i-1].End {
			return nil, fmt.Errorf("overlapping hunks at line %d", hunks[i].Start)
		}
	}

	out := lines
	for i := len(hunks) - 1; i >= 0; i-- {
		h := hunks[i]
		if h.Start < 0 || h.End > len(out) || h.Start > h.End {
			return nil, fmt.Errorf("hunk span [%d,%d) out of range for %d lines", h.Start, h.End, len(out))
		}
		merged := make([]string, 0, len(out)-(h.End-h.Start)+len(h.Lines))
		merged = append(merged, out[:h.Start]...)
		merged = append(merged, h.Lines...)
		merged = append(merged, out[h.End:]...)
		out = merged
	}
	return out, nil
}

// ApplyAll applies every patch for one file in a single pass. All hunk
// coordinates reference the original lines, so patches produced
// independently against the same source compose without offset shifting.
// Identical hunks proposed by more than one patch, such as two fixes both
// inserting the same import, collapse into one; any other overlap is an
// error.
func ApplyAll(lines []string, patches []Patch) ([]string, error) {
	combined := Patch{}
	for _, p := range patches {
		for _, h := range p.Hunks {
			if containsHunk(combined.Hunks, h) {
				continue
			}
			combined.Hunks = append(combined.Hunks, h)
		}
	}
	return combined.Apply(lines)
}

func containsHunk(hunks []Hunk, h Hunk) bool {
	for _, existing := range hunks {
		if existing.Start != h.Start || existing.End != h.End || len(existing.Lines) != len(h.Lines) {
			continue
		}
		same := true
		for i := range h.Lines {
			if existing.Lines[i] != h.Lines[i] {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

// SkipReason explains why a finding produced no applied patch.
type SkipReason string

const (
	SkipNoSafeFix          SkipReason = "no_safe_fix"
	SkipAlreadyFixed       SkipReason = "already_fixed"
	SkipLowSeverity        SkipReason = "low_severity"
	SkipLowConfidence      SkipReason = "low_confidence"
	SkipRuleDisabled       SkipReason = "rule_disabled"
	SkipWarnMode           SkipReason = "warn_mode"
	SkipBaseline           SkipReason = "baseline"
	SkipUnroutable         SkipReason = "unroutable"
	SkipUnparseableSource  SkipReason = "unparseable_source"
	SkipDiffBudgetExceeded SkipReason = "diff_budget_exceeded"
	SkipVerificationFailed SkipReason = "verification_failed"
)

// SkippedFinding pairs a finding left open with the reason it was skipped and
// optional guidance for the report.
type SkippedFinding struct {
	Finding  Finding    `json:"finding"`
	Reason   SkipReason `json:"reason"`
	Guidance string     `json:"guidance,omitempty"`
}

// RunResult is scoped to one triggering event: one head commit of one change
// request.
type RunResult struct {
	RunID           string           `json:"run_id"`
	PatchesApplied  []Patch          `json:"patches_applied"`
	FindingsSkipped []SkippedFinding `json:"findings_skipped"`
	Errors          []string         `json:"errors"`
	CommitSHA       string           `json:"commit_sha,omitempty"`
}

// Empty reports whether the run produced nothing worth publishing: no
// applied patches, no findings left open, no errors.
func (r RunResult) Empty() bool {
	return len(r.PatchesApplied) == 0 && len(r.FindingsSkipped) == 0 && len(r.Errors) == 0
}

// IdempotencyKey is a deterministic hash of (change request id, head commit,
// finding fingerprint). At most one patch is ever applied for a given key.
func IdempotencyKey(changeRequestID int, headSHA string, fingerprint string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\x00%s\x00%s", changeRequestID, headSHA, fingerprint)
	return hex.EncodeToString(h.Sum(nil))
}
