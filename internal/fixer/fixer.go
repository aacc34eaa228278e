// Package fixer holds one deterministic fixer per vulnerability class. A
// fixer maps (source text, finding) to either a patch or a "no safe fix"
// outcome; it never guesses intent and never touches bytes outside the
// matched construct.
package fixer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/autopatch-dev/autopatch/internal/findings"
)

// NoSafeFixError signals that a fixer declined to produce a patch. It always
// carries guidance usable in the report.
type NoSafeFixError struct {
	Reason   findings.SkipReason
	Guidance string
}

func (e *NoSafeFixError) Error() string {
	return fmt.Sprintf("no safe fix (%s): %s", e.Reason, e.Guidance)
}

// NoSafeFix creates a NoSafeFixError with the generic reason.
func NoSafeFix(guidance string) error {
	return &NoSafeFixError{Reason: findings.SkipNoSafeFix, Guidance: guidance}
}

// AlreadyFixed creates a NoSafeFixError for constructs that are already in
// their fixed form.
func AlreadyFixed(guidance string) error {
	return &NoSafeFixError{Reason: findings.SkipAlreadyFixed, Guidance: guidance}
}

// AsNoSafeFix unwraps a NoSafeFixError if err is one.
func AsNoSafeFix(err error) (*NoSafeFixError, bool) {
	var nsf *NoSafeFixError
	if errors.As(err, &nsf) {
		return nsf, true
	}
	return nil, false
}

// Fixer is the shared capability of all vulnerability-class fixers.
type Fixer interface {
	// Family is the single rule family this fixer handles.
	Family() findings.RuleFamily
	// MinConfidence is the lowest scanner confidence the safety gate will
	// admit for automatic application of this fixer's patches.
	MinConfidence() findings.Confidence
	// Propose maps source text and a finding to a patch. It returns a
	// NoSafeFixError when the construct does not match the fixer's narrow
	// shape or is already fixed.
	Propose(src []byte, finding findings.Finding) (*findings.Patch, error)
}

// Registry is the closed set of fixers, keyed by rule family.
type Registry struct {
	byFamily map[findings.RuleFamily]Fixer
}

// NewRegistry builds the default registry covering every supported family.
func NewRegistry() *Registry {
	r := &Registry{byFamily: make(map[findings.RuleFamily]Fixer)}
	for _, f := range []Fixer{
		&SQLiFixer{},
		&SecretsFixer{},
		&XSSFixer{},
		&CommandInjectionFixer{},
		&PathTraversalFixer{},
		NewDetectionOnlyFixer(findings.FamilySSRF,
			"Outbound request URL is attacker influenced. Validate the URL against an allowlist of hosts before fetching; a deterministic rewrite needs that allowlist."),
		NewDetectionOnlyFixer(findings.FamilyEval,
			"Dynamic code evaluation of untrusted input has no safe mechanical replacement. Use a data-only format such as JSON.parse for JSON payloads."),
		&DOMXSSFixer{},
	} {
		r.byFamily[f.Family()] = f
	}
	return r
}

// For returns the fixer registered for a family.
func (r *Registry) For(family findings.RuleFamily) (Fixer, bool) {
	f, ok := r.byFamily[family]
	return f, ok
}

// Families lists the registered rule families.
func (r *Registry) Families() []findings.RuleFamily {
	out := make([]findings.RuleFamily, 0, len(r.byFamily))
	for fam := range r.byFamily {
		out = append(out, fam)
	}
	return out
}

// splitLines splits source into lines without line terminators. The final
// newline does not create a phantom empty element unless the file genuinely
// ends without one.
func splitLines(src []byte) []string {
	s := string(src)
	if s == "" {
		return nil
	}
	trailing := strings.HasSuffix(s, "\n")
	if trailing {
		s = s[:len(s)-1]
	}
	return strings.Split(s, "\n")
}

// indentOf returns the leading whitespace of a line.
func indentOf(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	return line[:len(line)-len(trimmed)]
}

// countDiff computes added/removed line counts for a hunk, ignoring lines
// that are common to the original span and the replacement (prefix/suffix
// runs only, which is exact for the narrow edits fixers make).
func countDiff(original, replacement []string) (added, removed int) {
	for len(original) > 0 && len(replacement) > 0 && original[0] == replacement[0] {
		original = original[1:]
		replacement = replacement[1:]
	}
	for len(original) > 0 && len(replacement) > 0 &&
		original[len(original)-1] == replacement[len(replacement)-1] {
		original = original[:len(original)-1]
		replacement = replacement[:len(replacement)-1]
	}
	return len(replacement), len(original)
}

// finishPatch fills in the aggregate added/removed counts from the hunks.
func finishPatch(p *findings.Patch, lines []string) *findings.Patch {
	for _, h := range p.Hunks {
		added, removed := countDiff(lines[h.Start:h.End], h.Lines)
		p.AddedLines += added
		p.RemovedLines += removed
	}
	return p
}

// importInsertionIndex finds the 0-based line index after the last top-level
// import, skipping leading comments, blank lines, and a module docstring.
func importInsertionIndex(lines []string) int {
	insert := 0
	inDocstring := false
	docDelim := ""
	lastImport := -1

	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		if inDocstring {
			if strings.Contains(stripped, docDelim) {
				inDocstring = false
				insert = i + 1
			}
			continue
		}
		switch {
		case stripped == "" || strings.HasPrefix(stripped, "#"):
			continue
		case strings.HasPrefix(stripped, `"""`) || strings.HasPrefix(stripped, "'''"):
			docDelim = stripped[:3]
			if len(stripped) >= 6 && strings.HasSuffix(stripped, docDelim) {
				insert = i + 1
				continue
			}
			inDocstring = true
			continue
		case strings.HasPrefix(stripped, "import ") || strings.HasPrefix(stripped, "from "):
			lastImport = i
		default:
			if lastImport >= 0 {
				return lastImport + 1
			}
			if insert > 0 {
				return insert
			}
			return i
		}
	}
	if lastImport >= 0 {
		return lastImport + 1
	}
	return insert
}

// hasImport reports whether the module already imports the given module at
// top level, either plain or via a from-import.
func hasImport(lines []string, module string) bool {
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "import "+module ||
			strings.HasPrefix(stripped, "import "+module+" ") ||
			strings.HasPrefix(stripped, "import "+module+",") ||
			strings.HasPrefix(stripped, "from "+module+" import") {
			return true
		}
	}
	return false
}
