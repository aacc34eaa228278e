package fixer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/autopatch-dev/autopatch/internal/findings"
)

var jsExtensions = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
}

// jsSecretRe matches a credential-looking property or assignment with a
// quoted literal of at least eight characters.
var jsSecretRe = regexp.MustCompile(`(\b(?:api_key|apiKey|access_token|accessToken|secret|password)\s*[:=]\s*)["']([^"']{8,})["']`)

// proposeJavaScript replaces a hardcoded credential literal in a JavaScript
// or TypeScript source with a process.env lookup.
func (f *SecretsFixer) proposeJavaScript(src []byte, finding findings.Finding) (*findings.Patch, error) {
	lines := splitLines(src)

	type candidate struct {
		line    int // 0-based
		newLine string
		name    string
		envKey  string
	}
	var candidates []candidate

	for i, line := range lines {
		m := jsSecretRe.FindStringSubmatchIndex(line)
		if m == nil {
			continue
		}
		prefix := line[m[2]:m[3]]
		value := line[m[4]:m[5]]
		if placeholderValues[strings.ToLower(value)] {
			continue
		}
		envKey := jsEnvKey(prefix)
		newLine := line[:m[0]] + prefix + fmt.Sprintf(`process.env.%s || ""`, envKey) + line[m[1]:]
		candidates = append(candidates, candidate{
			line:    i,
			newLine: newLine,
			name:    strings.TrimRight(prefix, ":= \t"),
			envKey:  envKey,
		})
	}

	if len(candidates) == 0 {
		start := finding.StartLine - 1
		if start >= 0 && start < len(lines) && strings.Contains(lines[start], "process.env") {
			return nil, AlreadyFixed("credential is already read from the environment")
		}
		return nil, NoSafeFix("no hardcoded credential literal matched; move the secret to configuration manually")
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
		Summary: fmt.Sprintf("moved hardcoded %s into the %s environment variable", chosen.name, chosen.envKey),
	}
	return finishPatch(patch, lines), nil
}

// jsEnvKey picks the environment variable name from the matched identifier.
func jsEnvKey(prefix string) string {
	lower := strings.ToLower(prefix)
	switch {
	case strings.Contains(lower, "token"):
		return "ACCESS_TOKEN"
	case strings.Contains(lower, "password"):
		return "PASSWORD"
	case strings.Contains(lower, "secret"):
		return "SECRET"
	default:
		return "API_KEY"
	}
}

// innerHTMLAssignRe matches an innerHTML assignment while leaving equality
// comparisons alone.
var innerHTMLAssignRe = regexp.MustCompile(`\.innerHTML(\s*)=([^=]|$)`)

// DOMXSSFixer swaps an innerHTML assignment for textContent so untrusted
// content stops being interpreted as markup. Files outside the JavaScript
// family get guidance only.
type DOMXSSFixer struct{}

func (f *DOMXSSFixer) Family() findings.RuleFamily { return findings.FamilyDOMXSS }

func (f *DOMXSSFixer) MinConfidence() findings.Confidence { return findings.ConfidenceHigh }

func (f *DOMXSSFixer) Propose(src []byte, finding findings.Finding) (*findings.Patch, error) {
	ext := strings.ToLower(filepath.Ext(finding.FilePath))
	if !jsExtensions[ext] {
		return nil, NoSafeFix("Assigning untrusted content to innerHTML executes markup. Prefer textContent, or sanitize explicitly where markup is required.")
	}

	lines := splitLines(src)

	type candidate struct {
		line    int // 0-based
		newLine string
	}
	var candidates []candidate
	for i, line := range lines {
		newLine := innerHTMLAssignRe.ReplaceAllString(line, ".textContent$1=$2")
		if newLine != line {
			candidates = append(candidates, candidate{line: i, newLine: newLine})
		}
	}

	if len(candidates) == 0 {
		return nil, AlreadyFixed("no innerHTML assignment remains in this file")
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
		Summary: "replaced the innerHTML sink with textContent",
	}
	return finishPatch(patch, lines), nil
}
