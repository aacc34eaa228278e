package fixer

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/autopatch-dev/autopatch/internal/findings"
)

var (
	safeFilterRe    = regexp.MustCompile(`(\{\{\s*[^}|]+?)\s*\|\s*safe\s*(\}\})`)
	autoescapeOffRe = regexp.MustCompile(`(?i)\{%\s*autoescape\s+(off|false)\s*%\}`)
	endAutoescapeRe = regexp.MustCompile(`(?i)\{%\s*endautoescape\s*%\}`)
	markSafeRe      = regexp.MustCompile(`mark_safe\(([^)]+)\)`)
)

var templateExtensions = map[string]bool{
	".html": true, ".jinja": true, ".jinja2": true, ".j2": true, ".djhtml": true,
}

// XSSFixer removes explicit trust-this-content constructs: |safe filters and
// autoescape-off blocks in templates, mark_safe wrappers in Python code.
type XSSFixer struct{}

func (f *XSSFixer) Family() findings.RuleFamily { return findings.FamilyXSS }

func (f *XSSFixer) MinConfidence() findings.Confidence { return findings.ConfidenceMedium }

func (f *XSSFixer) Propose(src []byte, finding findings.Finding) (*findings.Patch, error) {
	ext := strings.ToLower(filepath.Ext(finding.FilePath))
	if templateExtensions[ext] {
		return f.proposeTemplate(src, finding)
	}
	return f.proposePython(src, finding)
}

func (f *XSSFixer) proposeTemplate(src []byte, finding findings.Finding) (*findings.Patch, error) {
	lines := splitLines(src)

	// A construct is either a single |safe filter line or an autoescape-off
	// block together with its closing tag.
	type construct struct {
		start, end int // 0-based inclusive span
		hunks      []findings.Hunk
		summary    string
	}
	var constructs []construct

	consumedEnds := map[int]bool{}
	for i, line := range lines {
		newLine := safeFilterRe.ReplaceAllString(line, "$1 $2")
		if newLine != line {
			constructs = append(constructs, construct{
				start:   i,
				end:     i,
				hunks:   []findings.Hunk{{Start: i, End: i + 1, Lines: []string{newLine}}},
				summary: "removed the |safe filter; the value is escaped again",
			})
			continue
		}

		if !autoescapeOffRe.MatchString(line) {
			continue
		}
		c := construct{
			start:   i,
			end:     i,
			hunks:   []findings.Hunk{tagRemovalHunk(i, line, autoescapeOffRe)},
			summary: "removed the autoescape-off block; its body is escaped again",
		}
		for j := i + 1; j < len(lines); j++ {
			if consumedEnds[j] || !endAutoescapeRe.MatchString(lines[j]) {
				continue
			}
			consumedEnds[j] = true
			c.end = j
			c.hunks = append(c.hunks, tagRemovalHunk(j, lines[j], endAutoescapeRe))
			break
		}
		constructs = append(constructs, c)
	}

	if len(constructs) == 0 {
		return nil, AlreadyFixed("template contains no |safe filter or autoescape-off block")
	}

	chosen := constructs[0]
	for _, c := range constructs {
		if finding.StartLine-1 <= c.end && finding.EndLine-1 >= c.start {
			chosen = c
			break
		}
	}

	patch := &findings.Patch{
		FindingID: finding.ID,
		FilePath:  finding.FilePath,
		Hunks:     chosen.hunks,
		Summary:   chosen.summary,
	}
	return finishPatch(patch, lines), nil
}

// tagRemovalHunk strips a template tag from its line. When the tag is the
// whole line the hunk drops the line and keeps the block body.
func tagRemovalHunk(i int, line string, re *regexp.Regexp) findings.Hunk {
	stripped := re.ReplaceAllString(line, "")
	if strings.TrimSpace(stripped) == "" {
		return findings.Hunk{Start: i, End: i + 1, Lines: nil}
	}
	return findings.Hunk{Start: i, End: i + 1, Lines: []string{stripped}}
}

func (f *XSSFixer) proposePython(src []byte, finding findings.Finding) (*findings.Patch, error) {
	lines := splitLines(src)

	type candidate struct {
		line        int // 0-based
		newLine     string
		needsImport bool
	}
	var candidates []candidate

	for i, line := range lines {
		if !markSafeRe.MatchString(line) {
			continue
		}
		c := candidate{line: i}
		if strings.Contains(line, "escape(") {
			// Expression is already escaped; unwrapping mark_safe is enough.
			c.newLine = markSafeRe.ReplaceAllString(line, "$1")
		} else {
			c.newLine = markSafeRe.ReplaceAllString(line, "escape($1)")
			c.needsImport = true
		}
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return nil, AlreadyFixed("no mark_safe wrapper remains in this file")
	}

	chosen := candidates[0]
	for _, c := range candidates {
		if c.line >= finding.StartLine-1 && c.line <= finding.EndLine-1 {
			chosen = c
			break
		}
	}

	patch := &findings.Patch{
		FindingID: finding.ID,
		FilePath:  finding.FilePath,
		Hunks: []findings.Hunk{
			{Start: chosen.line, End: chosen.line + 1, Lines: []string{chosen.newLine}},
		},
		Summary: "replaced mark_safe with explicit escaping",
	}

	if chosen.needsImport && !hasEscapeImport(lines) {
		idx := importInsertionIndex(lines)
		if idx > chosen.line {
			return nil, NoSafeFix("cannot insert the escape import above the rewritten expression")
		}
		patch.Hunks = append(patch.Hunks, findings.Hunk{
			Start: idx, End: idx, Lines: []string{"from django.utils.html import escape"},
		})
	}
	return finishPatch(patch, lines), nil
}

func hasEscapeImport(lines []string) bool {
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if (strings.HasPrefix(stripped, "from django.utils.html import") && strings.Contains(stripped, "escape")) ||
			stripped == "from markupsafe import escape" ||
			stripped == "from html import escape" {
			return true
		}
	}
	return false
}
