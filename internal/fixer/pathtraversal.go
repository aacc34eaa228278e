package fixer

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/autopatch-dev/autopatch/internal/findings"
	"github.com/autopatch-dev/autopatch/internal/fixer/pyast"
)

// PathTraversalFixer inserts a containment check after a path join of a
// trusted base directory with a variable segment: the joined path is
// resolved and must still live under the resolved base.
type PathTraversalFixer struct{}

func (f *PathTraversalFixer) Family() findings.RuleFamily { return findings.FamilyPathTraversal }

func (f *PathTraversalFixer) MinConfidence() findings.Confidence { return findings.ConfidenceHigh }

func (f *PathTraversalFixer) Propose(src []byte, finding findings.Finding) (*findings.Patch, error) {
	tree, err := pyast.Parse(context.Background(), src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	if tree.Root().HasError() {
		return nil, &NoSafeFixError{Reason: findings.SkipUnparseableSource, Guidance: "source file does not parse as Python"}
	}

	lines := splitLines(src)

	type joinSite struct {
		line    int // 0-based line of the assignment
		varName string
		base    string
	}
	var site *joinSite

	pyast.Walk(tree.Root(), func(n *sitter.Node) bool {
		if site != nil {
			return false
		}
		if n.Type() != "assignment" || !pyast.SingleLine(n) {
			return true
		}
		left := n.ChildByFieldName("left")
		right := n.ChildByFieldName("right")
		if left == nil || right == nil || left.Type() != "identifier" || right.Type() != "call" {
			return true
		}
		name, ok := pyast.CallName(right, src)
		if !ok || name != "os.path.join" {
			return true
		}
		pos, _ := pyast.CallArgs(right)
		if len(pos) < 2 {
			return true
		}
		// The final segment must be dynamic for the join to be a risk.
		last := pos[len(pos)-1]
		if _, isLiteral := pyast.StringLiteralValue(last, src); isLiteral {
			return true
		}
		site = &joinSite{
			line:    pyast.Line(n),
			varName: left.Content(src),
			base:    pos[0].Content(src),
		}
		return false
	})

	if site == nil {
		return nil, NoSafeFix("no path join of a base directory with a variable segment was found")
	}

	// Idempotence: skip when a containment check already follows the join.
	for i := site.line + 1; i < len(lines) && i <= site.line+3; i++ {
		if strings.Contains(lines[i], "os.path.realpath") ||
			strings.Contains(lines[i], "Path traversal denied") {
			return nil, AlreadyFixed("a containment check already follows the path join")
		}
	}

	indent := indentOf(lines[site.line])
	check := []string{
		fmt.Sprintf("%sif not os.path.realpath(%s).startswith(os.path.realpath(%s)):",
			indent, site.varName, site.base),
		fmt.Sprintf("%s    raise PermissionError(\"Path traversal denied\")", indent),
	}

	patch := &findings.Patch{
		FindingID: finding.ID,
		FilePath:  finding.FilePath,
		Hunks: []findings.Hunk{
			{Start: site.line + 1, End: site.line + 1, Lines: check},
		},
		Summary: fmt.Sprintf("added containment check: %s must resolve under %s", site.varName, site.base),
	}

	if !hasImport(lines, "os") {
		idx := importInsertionIndex(lines)
		if idx <= site.line {
			patch.Hunks = append(patch.Hunks, findings.Hunk{Start: idx, End: idx, Lines: []string{"import os"}})
		}
	}
	return finishPatch(patch, lines), nil
}
