package fixer

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/autopatch-dev/autopatch/internal/findings"
	"github.com/autopatch-dev/autopatch/internal/fixer/pyast"
)

var subprocessFuncs = map[string]bool{
	"run": true, "call": true, "check_call": true, "check_output": true, "Popen": true,
}

// CommandInjectionFixer rewrites shell-string invocations into tokenized
// argument lists with shell interpretation disabled. String literals are
// tokenized at fix time; dynamic commands are split with shlex at runtime.
type CommandInjectionFixer struct{}

func (f *CommandInjectionFixer) Family() findings.RuleFamily {
	return findings.FamilyCommandInjection
}

func (f *CommandInjectionFixer) MinConfidence() findings.Confidence {
	return findings.ConfidenceHigh
}

func (f *CommandInjectionFixer) Propose(src []byte, finding findings.Finding) (*findings.Patch, error) {
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
		line      int // 0-based
		newLine   string
		usesShlex bool
	}
	var candidates []candidate
	seenLines := map[int]bool{}

	pyast.Walk(tree.Root(), func(n *sitter.Node) bool {
		if n.Type() != "call" || !pyast.SingleLine(n) {
			return true
		}
		name, ok := pyast.CallName(n, src)
		if !ok {
			return true
		}

		var oldCall, newCall string
		var usesShlex bool
		switch {
		case name == "os.system":
			pos, _ := pyast.CallArgs(n)
			if len(pos) == 0 {
				return true
			}
			var tokenized string
			_, tokenized, usesShlex = tokenizedArg(pos[0], src)
			oldCall = n.Content(src)
			newCall = fmt.Sprintf("subprocess.run(%s, shell=False)", tokenized)

		case strings.HasPrefix(name, "subprocess.") && subprocessFuncs[strings.TrimPrefix(name, "subprocess.")]:
			pos, kws := pyast.CallArgs(n)
			if len(pos) == 0 {
				return true
			}
			shellTrue := false
			for _, kw := range kws {
				kwName, value := pyast.KeywordArg(kw, src)
				if kwName == "shell" && value != nil && value.Type() == "true" {
					shellTrue = true
				}
			}
			if !shellTrue {
				return true
			}
			var argText, tokenized string
			argText, tokenized, usesShlex = tokenizedArg(pos[0], src)
			oldCall = n.Content(src)
			newCall = strings.Replace(oldCall, argText, tokenized, 1)
			newCall = strings.Replace(newCall, "shell=True", "shell=False", 1)
			newCall = strings.Replace(newCall, "shell = True", "shell=False", 1)

		default:
			return true
		}

		line := pyast.Line(n)
		if seenLines[line] {
			return true
		}
		oldLine := lines[line]
		newLine := strings.Replace(oldLine, oldCall, newCall, 1)
		if newLine == oldLine {
			return true
		}
		seenLines[line] = true
		candidates = append(candidates, candidate{line: line, newLine: newLine, usesShlex: usesShlex})
		return true
	})

	if len(candidates) == 0 {
		return nil, AlreadyFixed("no shell-string invocation remains; calls already use argument lists")
	}

	// Rewrite the call on the finding's line; fall back to the first match
	// when the scanner's span does not land on one.
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
	}

	var imports []string
	if !hasImport(lines, "subprocess") {
		imports = append(imports, "import subprocess")
	}
	if chosen.usesShlex && !hasImport(lines, "shlex") {
		imports = append(imports, "import shlex")
	}
	if len(imports) > 0 {
		idx := importInsertionIndex(lines)
		if idx > chosen.line {
			return nil, NoSafeFix("cannot insert required imports above the rewritten call")
		}
		patch.Hunks = append(patch.Hunks, findings.Hunk{Start: idx, End: idx, Lines: imports})
	}

	patch.Summary = "disabled shell interpretation; the command now runs as a tokenized argument list"
	return finishPatch(patch, lines), nil
}

// tokenizedArg renders the safe replacement for a command argument. Plain
// string literals are split into a Python list right here; anything dynamic
// is deferred to shlex.split at runtime.
func tokenizedArg(arg *sitter.Node, src []byte) (argText, replacement string, usesShlex bool) {
	argText = arg.Content(src)
	if value, ok := pyast.StringLiteralValue(arg, src); ok {
		words := splitShellWords(value)
		if len(words) > 0 {
			quoted := make([]string, len(words))
			for i, w := range words {
				quoted[i] = fmt.Sprintf("%q", w)
			}
			return argText, "[" + strings.Join(quoted, ", ") + "]", false
		}
	}
	if arg.Type() == "list" {
		return argText, argText, false
	}
	return argText, fmt.Sprintf("shlex.split(%s)", argText), true
}

// splitShellWords tokenizes a command string following shell word-splitting
// rules: whitespace separates words, single quotes are literal, double
// quotes allow backslash escapes.
func splitShellWords(s string) []string {
	var words []string
	var cur strings.Builder
	inWord := false
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
			i++
		case c == '\'':
			inWord = true
			i++
			for i < len(s) && s[i] != '\'' {
				cur.WriteByte(s[i])
				i++
			}
			if i >= len(s) {
				return nil // unterminated quote
			}
			i++
		case c == '"':
			inWord = true
			i++
			for i < len(s) && s[i] != '"' {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				cur.WriteByte(s[i])
				i++
			}
			if i >= len(s) {
				return nil
			}
			i++
		case c == '\\':
			inWord = true
			if i+1 < len(s) {
				cur.WriteByte(s[i+1])
				i += 2
			} else {
				i++
			}
		default:
			inWord = true
			cur.WriteByte(c)
			i++
		}
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words
}
