package fixer

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/autopatch-dev/autopatch/internal/findings"
	"github.com/autopatch-dev/autopatch/internal/fixer/pyast"
)

// secretVarNames flag an assignment regardless of the literal's shape.
var secretVarNames = map[string]bool{
	"password": true, "passwd": true, "pwd": true,
	"secret": true, "secret_key": true, "secretkey": true,
	"api_key": true, "apikey": true, "api_secret": true,
	"access_key": true, "accesskey": true,
	"private_key": true, "privatekey": true,
	"auth_token": true, "authtoken": true, "token": true,
	"credentials": true, "creds": true,
	"db_password": true, "database_password": true,
	"encryption_key": true, "signing_key": true,
	"client_secret": true, "app_secret": true,
	"database_url": true, "database_uri": true, "db_url": true, "dsn": true,
}

// secretShapeRes flag a literal regardless of the variable name: provider
// key prefixes, token shapes, and connection strings with inline passwords.
var secretShapeRes = []*regexp.Regexp{
	regexp.MustCompile(`^AKIA[0-9A-Z]{16}$`),
	regexp.MustCompile(`^gh[pousr]_[A-Za-z0-9_]{20,}$`),
	regexp.MustCompile(`^sk_live_[0-9a-zA-Z]{8,}$`),
	regexp.MustCompile(`^rk_live_[0-9a-zA-Z]{8,}$`),
	regexp.MustCompile(`^xox[baprs]-[0-9A-Za-z-]{10,}$`),
	regexp.MustCompile(`^AIza[0-9A-Za-z_-]{35}$`),
	regexp.MustCompile(`^SG\.[A-Za-z0-9_-]{16,}\.[A-Za-z0-9_-]{16,}$`),
	regexp.MustCompile(`^key-[0-9a-zA-Z]{32}$`),
	regexp.MustCompile(`^(postgres(ql)?|mysql|mongodb(\+srv)?)://[^:\s]+:[^@\s]+@`),
	regexp.MustCompile(`^-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`),
}

// placeholderValues never count as real secrets.
var placeholderValues = map[string]bool{
	"": true, "changeme": true, "change-me": true, "placeholder": true,
	"example": true, "xxx": true, "xxxx": true, "dummy": true, "test": true,
	"fake": true, "none": true, "todo": true, "your-api-key": true,
	"your_api_key": true, "secret": true, "password": true,
}

// SecretsFixer replaces a hardcoded credential literal with an environment
// lookup keyed by a name derived from the variable.
type SecretsFixer struct{}

func (f *SecretsFixer) Family() findings.RuleFamily { return findings.FamilySecrets }

func (f *SecretsFixer) MinConfidence() findings.Confidence { return findings.ConfidenceMedium }

func (f *SecretsFixer) Propose(src []byte, finding findings.Finding) (*findings.Patch, error) {
	if jsExtensions[strings.ToLower(filepath.Ext(finding.FilePath))] {
		return f.proposeJavaScript(src, finding)
	}

	tree, err := pyast.Parse(context.Background(), src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	if tree.Root().HasError() {
		return nil, &NoSafeFixError{Reason: findings.SkipUnparseableSource, Guidance: "source file does not parse as Python"}
	}

	lines := splitLines(src)

	type candidate struct {
		line    int // 0-based
		varName string
		literal string // quoted, exactly as written
	}
	var candidates []candidate

	pyast.Walk(tree.Root(), func(n *sitter.Node) bool {
		if n.Type() != "assignment" || !pyast.SingleLine(n) {
			return true
		}
		left := n.ChildByFieldName("left")
		right := n.ChildByFieldName("right")
		if left == nil || right == nil || left.Type() != "identifier" || right.Type() != "string" {
			return true
		}
		value, ok := pyast.StringLiteralValue(right, src)
		if !ok {
			return true
		}
		varName := left.Content(src)
		if !looksLikeSecret(varName, value) {
			return true
		}
		candidates = append(candidates, candidate{
			line:    pyast.Line(n),
			varName: varName,
			literal: tree.Text(right),
		})
		return true
	})

	if len(candidates) == 0 {
		if environLookupPresent(lines, finding) {
			return nil, AlreadyFixed("credential is already read from the environment")
		}
		return nil, NoSafeFix("no hardcoded credential literal matched; move the secret to configuration manually")
	}

	// Prefer the candidate on the finding's line; otherwise the first one.
	chosen := candidates[0]
	for _, c := range candidates {
		if c.line == finding.StartLine-1 {
			chosen = c
			break
		}
	}

	envKey := deriveEnvKey(chosen.varName)
	oldLine := lines[chosen.line]
	newLine := strings.Replace(oldLine, chosen.literal, fmt.Sprintf("os.environ.get(%q)", envKey), 1)
	if newLine == oldLine {
		return nil, NoSafeFix("could not locate the credential literal on its line")
	}

	patch := &findings.Patch{
		FindingID: finding.ID,
		FilePath:  finding.FilePath,
		Hunks: []findings.Hunk{
			{Start: chosen.line, End: chosen.line + 1, Lines: []string{newLine}},
		},
		Summary: fmt.Sprintf("moved hardcoded %s into the %s environment variable", chosen.varName, envKey),
	}

	if !hasImport(lines, "os") {
		idx := importInsertionIndex(lines)
		if idx > chosen.line {
			return nil, NoSafeFix("cannot insert the os import above the credential assignment")
		}
		patch.Hunks = append(patch.Hunks, findings.Hunk{Start: idx, End: idx, Lines: []string{"import os"}})
	}
	return finishPatch(patch, lines), nil
}

func looksLikeSecret(varName, value string) bool {
	if placeholderValues[strings.ToLower(value)] {
		return false
	}
	if secretVarNames[strings.ToLower(varName)] {
		return len(value) > 0
	}
	for _, re := range secretShapeRes {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

// deriveEnvKey uppercases the variable name into an environment key:
// api_key -> API_KEY, apiKey -> API_KEY.
func deriveEnvKey(varName string) string {
	var sb strings.Builder
	var prev rune
	for i, r := range varName {
		boundary := (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9')
		if r >= 'A' && r <= 'Z' && i > 0 && boundary {
			sb.WriteByte('_')
		}
		switch {
		case r >= 'a' && r <= 'z':
			sb.WriteRune(r - 32)
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
		prev = r
	}
	return sb.String()
}

func environLookupPresent(lines []string, finding findings.Finding) bool {
	start := finding.StartLine - 1
	if start < 0 || start >= len(lines) {
		return false
	}
	line := lines[start]
	return strings.Contains(line, "os.environ") || strings.Contains(line, "os.getenv")
}
