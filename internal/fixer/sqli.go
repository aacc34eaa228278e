package fixer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/autopatch-dev/autopatch/internal/findings"
	"github.com/autopatch-dev/autopatch/internal/fixer/pyast"
)

// sqlVarNames are assignment targets treated as query-like variables.
var sqlVarNames = map[string]bool{
	"query": true, "sql": true, "stmt": true, "statement": true,
	"command": true, "cmd": true, "sql_query": true, "sql_stmt": true,
	"sql_command": true, "raw_sql": true, "select_query": true,
	"insert_query": true, "update_query": true, "delete_query": true,
}

// cursorNames are receiver names accepted for execution calls.
var cursorNames = map[string]bool{
	"cursor": true, "cur": true, "c": true, "db": true, "conn": true,
	"connection": true, "db_cursor": true, "sql_cursor": true, "mycursor": true,
}

var executeMethods = map[string]bool{
	"execute": true, "executemany": true, "executescript": true,
}

var sqlKeywordRe = regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|FROM|WHERE|JOIN|INTO|VALUES|SET)\b`)

// maxExecDistance is the largest allowed gap, in lines, between the query
// assignment and its execution call.
const maxExecDistance = 20

type sqliPattern struct {
	kind       string // "fstring", "concat", "percent", "format"
	varName    string
	assignLine int // 0-based
	execLine   int // 0-based
	execObj    string
	execMethod string
	vars       []string
	template   string
}

// SQLiFixer rewrites a string-built query immediately followed by its
// execution into a parameterized query with an ordered argument tuple.
type SQLiFixer struct{}

func (f *SQLiFixer) Family() findings.RuleFamily { return findings.FamilySQLi }

func (f *SQLiFixer) MinConfidence() findings.Confidence { return findings.ConfidenceHigh }

func (f *SQLiFixer) Propose(src []byte, finding findings.Finding) (*findings.Patch, error) {
	tree, err := pyast.Parse(context.Background(), src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	if tree.Root().HasError() {
		return nil, &NoSafeFixError{Reason: findings.SkipUnparseableSource, Guidance: "source file does not parse as Python"}
	}

	lines := splitLines(src)
	patterns := findSQLiPatterns(tree, src)
	if len(patterns) == 0 {
		if queryAlreadyParameterized(tree, src) {
			return nil, AlreadyFixed("query is already parameterized")
		}
		return nil, NoSafeFix("no string-built query followed by an execution call was found; parameterize the query manually")
	}

	p := pickPattern(patterns, finding)

	paramSQL := parameterize(p)
	quote := `"`
	if strings.Contains(paramSQL, `"`) {
		quote = `'`
	}

	queryLine := lines[p.assignLine]
	execLine := lines[p.execLine]
	newQuery := fmt.Sprintf("%s%s = %s%s%s", indentOf(queryLine), p.varName, quote, paramSQL, quote)
	newExec := fmt.Sprintf("%s%s.%s(%s, (%s,))",
		indentOf(execLine), p.execObj, p.execMethod, p.varName, strings.Join(p.vars, ", "))

	if queryLine == newQuery && execLine == newExec {
		return nil, AlreadyFixed("query and execution call already match the parameterized form")
	}

	patch := &findings.Patch{
		FindingID: finding.ID,
		FilePath:  finding.FilePath,
		Hunks: []findings.Hunk{
			{Start: p.assignLine, End: p.assignLine + 1, Lines: []string{newQuery}},
			{Start: p.execLine, End: p.execLine + 1, Lines: []string{newExec}},
		},
		Summary: fmt.Sprintf("parameterized %s query; values passed as an ordered tuple (%s)",
			p.varName, strings.Join(p.vars, ", ")),
	}
	return finishPatch(patch, lines), nil
}

func findSQLiPatterns(tree *pyast.Tree, src []byte) []sqliPattern {
	assignments := map[string]sqliPattern{}

	pyast.Walk(tree.Root(), func(n *sitter.Node) bool {
		if n.Type() != "assignment" {
			return true
		}
		left := n.ChildByFieldName("left")
		right := n.ChildByFieldName("right")
		if left == nil || right == nil || left.Type() != "identifier" {
			return true
		}
		varName := left.Content(src)
		if !sqlVarNames[strings.ToLower(varName)] || !pyast.SingleLine(n) {
			return true
		}

		kind, template, vars := matchStringBuild(right, src)
		if kind == "" || !sqlKeywordRe.MatchString(template) {
			return true
		}
		assignments[varName] = sqliPattern{
			kind:       kind,
			varName:    varName,
			assignLine: pyast.Line(n),
			vars:       vars,
			template:   template,
		}
		return true
	})

	var out []sqliPattern
	pyast.Walk(tree.Root(), func(n *sitter.Node) bool {
		if n.Type() != "call" || !pyast.SingleLine(n) {
			return true
		}
		name, ok := pyast.CallName(n, src)
		if !ok {
			return true
		}
		dot := strings.LastIndex(name, ".")
		if dot < 0 {
			return true
		}
		obj, method := name[:dot], name[dot+1:]
		objTail := obj
		if i := strings.LastIndex(obj, "."); i >= 0 {
			objTail = obj[i+1:]
		}
		if !executeMethods[method] || !cursorNames[strings.ToLower(objTail)] {
			return true
		}

		pos, _ := pyast.CallArgs(n)
		if len(pos) != 1 || pos[0].Type() != "identifier" {
			return true
		}
		argName := pos[0].Content(src)
		assign, tracked := assignments[argName]
		if !tracked {
			return true
		}

		execLine := pyast.Line(n)
		if execLine <= assign.assignLine || execLine-assign.assignLine > maxExecDistance {
			return true
		}
		assign.execLine = execLine
		assign.execObj = obj
		assign.execMethod = method
		out = append(out, assign)
		return true
	})
	return out
}

func matchStringBuild(n *sitter.Node, src []byte) (kind, template string, vars []string) {
	if t, v, ok := pyast.FStringParts(n, src); ok {
		return "fstring", t, v
	}
	if t, v, ok := pyast.ConcatParts(n, src); ok {
		return "concat", t, v
	}
	if t, v, ok := pyast.PercentParts(n, src); ok {
		return "percent", t, v
	}
	if t, v, ok := pyast.FormatParts(n, src); ok {
		return "format", t, v
	}
	return "", "", nil
}

// parameterize turns the reconstructed template into a %s-placeholder query.
func parameterize(p sqliPattern) string {
	switch p.kind {
	case "percent":
		return p.template
	case "format":
		return strings.ReplaceAll(p.template, "{}", "%s")
	default:
		out := p.template
		for _, v := range p.vars {
			marker := "{" + v + "}"
			out = strings.Replace(out, "'"+marker+"'", "%s", 1)
			out = strings.Replace(out, `"`+marker+`"`, "%s", 1)
			out = strings.Replace(out, marker, "%s", 1)
		}
		return out
	}
}

// pickPattern chooses the pattern whose span contains the finding, falling
// back to the first pattern in source order.
func pickPattern(patterns []sqliPattern, finding findings.Finding) sqliPattern {
	best := patterns[0]
	for _, p := range patterns {
		if p.assignLine < best.assignLine {
			best = p
		}
	}
	for _, p := range patterns {
		if finding.StartLine-1 >= p.assignLine && finding.StartLine-1 <= p.execLine {
			return p
		}
	}
	return best
}

// queryAlreadyParameterized detects the fixed form: an execution call that
// already passes a parameter tuple for a query-like variable.
func queryAlreadyParameterized(tree *pyast.Tree, src []byte) bool {
	found := false
	pyast.Walk(tree.Root(), func(n *sitter.Node) bool {
		if found || n.Type() != "call" {
			return !found
		}
		name, ok := pyast.CallName(n, src)
		if !ok {
			return true
		}
		dot := strings.LastIndex(name, ".")
		if dot < 0 || !executeMethods[name[dot+1:]] {
			return true
		}
		pos, _ := pyast.CallArgs(n)
		if len(pos) >= 2 && pos[0].Type() == "identifier" &&
			sqlVarNames[strings.ToLower(pos[0].Content(src))] {
			found = true
		}
		return !found
	})
	return found
}
