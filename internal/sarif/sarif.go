package sarif

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/autopatch-dev/autopatch/internal/findings"
)

// Report wraps a parsed SARIF document together with the logger used while
// normalizing it.
type Report struct {
	*sarif.Report
	logger hclog.Logger
}

func readSarifReport(r io.Reader) (*sarif.Report, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var report sarif.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("failed to decode sarif document: %w", err)
	}
	return &report, nil
}

// ReadReport parses a SARIF file produced by the scanner collaborator.
func ReadReport(inputPath string, logger hclog.Logger) (*Report, error) {
	jsonFile, err := os.Open(inputPath)
	if err != nil {
		return nil, err
	}
	defer jsonFile.Close()

	report, err := readSarifReport(jsonFile)
	if err != nil {
		return nil, err
	}
	return &Report{Report: report, logger: logger}, nil
}

// FromReader parses a SARIF document from an in-memory reader.
func FromReader(r io.Reader, logger hclog.Logger) (*Report, error) {
	report, err := readSarifReport(r)
	if err != nil {
		return nil, err
	}
	return &Report{Report: report, logger: logger}, nil
}

// ruleFamilyAliases maps substrings of scanner rule ids onto rule families.
// Order matters: more specific aliases are checked before generic ones.
var ruleFamilyAliases = []struct {
	family  findings.RuleFamily
	aliases []string
}{
	{findings.FamilySQLi, []string{"sql-injection", "sqli"}},
	{findings.FamilyDOMXSS, []string{"dom-xss", "innerhtml", "document-write"}},
	{findings.FamilyXSS, []string{"xss", "mark-safe", "safe-filter", "autoescape"}},
	{findings.FamilyCommandInjection, []string{"command-injection", "os-system", "subprocess-shell"}},
	{findings.FamilyPathTraversal, []string{"path-traversal"}},
	{findings.FamilySSRF, []string{"ssrf"}},
	{findings.FamilyEval, []string{"eval"}},
	{findings.FamilySecrets, []string{"secret", "token", "password", "access-key", "private-key", "database-uri", "hardcoded-credential"}},
}

// RuleFamilyFor derives the rule family from a scanner rule id. The empty
// family means the finding cannot be routed to a fixer.
func RuleFamilyFor(ruleID string) findings.RuleFamily {
	lowered := strings.ToLower(ruleID)
	for _, entry := range ruleFamilyAliases {
		for _, alias := range entry.aliases {
			if strings.Contains(lowered, alias) {
				return entry.family
			}
		}
	}
	return ""
}

func resultProperty(result *sarif.Result, key string) string {
	if result.Properties == nil {
		return ""
	}
	if v, ok := result.Properties[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func resultSeverity(result *sarif.Result) findings.Severity {
	if s := resultProperty(result, "severity"); s != "" {
		return findings.ParseSeverity(s)
	}
	if result.Level != nil {
		return findings.ParseSeverity(*result.Level)
	}
	return findings.SeverityInfo
}

func resultConfidence(result *sarif.Result) findings.Confidence {
	return findings.ParseConfidence(resultProperty(result, "confidence"))
}

func resultTags(result *sarif.Result) []findings.Property {
	if result.Properties == nil {
		return nil
	}
	raw, ok := result.Properties["tags"]
	if !ok {
		return nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var tags []findings.Property
	for _, item := range items {
		if s, ok := item.(string); ok {
			tags = append(tags, findings.Property{Name: "tag", Value: s})
		}
	}
	return tags
}

// Findings normalizes the report's results into the internal finding model.
// Results without a physical location, and suppressed results, are skipped.
// Snippets are taken from file contents so fingerprints stay stable.
func (r *Report) Findings(fileContents map[string][]string) []findings.Finding {
	var out []findings.Finding

	for _, run := range r.Runs {
		for _, result := range run.Results {
			if len(result.Suppressions) > 0 {
				continue
			}
			if len(result.Locations) == 0 || result.Locations[0].PhysicalLocation == nil {
				continue
			}

			loc := result.Locations[0].PhysicalLocation
			if loc.ArtifactLocation == nil || loc.ArtifactLocation.URI == nil || loc.Region == nil {
				continue
			}

			path := strings.TrimPrefix(*loc.ArtifactLocation.URI, "file://")
			startLine := 1
			if loc.Region.StartLine != nil {
				startLine = *loc.Region.StartLine
			}
			endLine := startLine
			if loc.Region.EndLine != nil {
				endLine = *loc.Region.EndLine
			}

			ruleID := ""
			if result.RuleID != nil {
				ruleID = *result.RuleID
			}

			message := ""
			if result.Message.Text != nil {
				message = *result.Message.Text
			}

			f := findings.Finding{
				ID:         fmt.Sprintf("%s:%s:%d", ruleID, path, startLine),
				RuleID:     ruleID,
				Family:     RuleFamilyFor(ruleID),
				FilePath:   path,
				StartLine:  startLine,
				EndLine:    endLine,
				Severity:   resultSeverity(result),
				Confidence: resultConfidence(result),
				Message:    message,
				Tags:       resultTags(result),
				Snippet:    snippetFor(fileContents, path, startLine, endLine),
			}
			out = append(out, f)
		}
	}

	r.logger.Debug("normalized sarif results", "findings", len(out))
	return out
}

func snippetFor(fileContents map[string][]string, path string, start, end int) string {
	lines, ok := fileContents[path]
	if !ok {
		return ""
	}
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}
