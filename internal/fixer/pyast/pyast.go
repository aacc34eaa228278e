// Package pyast wraps the tree-sitter Python grammar with the narrow set of
// structural queries the fixers rely on. Fixers never inspect raw tree-sitter
// nodes outside this package's vocabulary: assignments, calls, dotted names,
// and the four string-building shapes that feed SQL injection.
package pyast

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Tree is a parsed Python source file.
type Tree struct {
	src  []byte
	tree *sitter.Tree
}

// Parse parses Python source. Tree-sitter always produces a tree; callers
// that need strictness should check Root().HasError().
func Parse(ctx context.Context, src []byte) (*Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, err
	}
	return &Tree{src: src, tree: tree}, nil
}

// Close releases the underlying tree.
func (t *Tree) Close() {
	t.tree.Close()
}

// Root returns the module node.
func (t *Tree) Root() *sitter.Node {
	return t.tree.RootNode()
}

// Text returns the source text covered by a node.
func (t *Tree) Text(n *sitter.Node) string {
	return n.Content(t.src)
}

// Line returns the 0-based line of the node's first byte.
func Line(n *sitter.Node) int {
	return int(n.StartPoint().Row)
}

// SingleLine reports whether the node starts and ends on the same line.
func SingleLine(n *sitter.Node) bool {
	return n.StartPoint().Row == n.EndPoint().Row
}

// Walk visits nodes in preorder. The callback returns false to prune the
// subtree.
func Walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		Walk(n.Child(i), fn)
	}
}

// DottedName returns the dotted form of an identifier or attribute chain
// ("user.email"). ok is false for anything else.
func DottedName(n *sitter.Node, src []byte) (string, bool) {
	switch n.Type() {
	case "identifier":
		return n.Content(src), true
	case "attribute":
		obj := n.ChildByFieldName("object")
		attr := n.ChildByFieldName("attribute")
		if obj == nil || attr == nil {
			return "", false
		}
		base, ok := DottedName(obj, src)
		if !ok {
			return "", false
		}
		return base + "." + attr.Content(src), true
	}
	return "", false
}

// CallName returns the dotted name of a call's function, e.g. "os.system" or
// "cursor.execute".
func CallName(call *sitter.Node, src []byte) (string, bool) {
	if call.Type() != "call" {
		return "", false
	}
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return "", false
	}
	return DottedName(fn, src)
}

// CallArgs returns the positional argument nodes of a call. Keyword
// arguments are returned separately as (name, value) pairs.
func CallArgs(call *sitter.Node) (positional []*sitter.Node, keywords []*sitter.Node) {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil, nil
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		child := args.NamedChild(i)
		if child.Type() == "keyword_argument" {
			keywords = append(keywords, child)
		} else {
			positional = append(positional, child)
		}
	}
	return positional, keywords
}

// KeywordArg splits a keyword_argument node into name and value.
func KeywordArg(kw *sitter.Node, src []byte) (name string, value *sitter.Node) {
	n := kw.ChildByFieldName("name")
	v := kw.ChildByFieldName("value")
	if n == nil || v == nil {
		return "", nil
	}
	return n.Content(src), v
}

// IsFString reports whether a string node carries an f prefix.
func IsFString(n *sitter.Node, src []byte) bool {
	if n.Type() != "string" {
		return false
	}
	text := n.Content(src)
	return strings.HasPrefix(strings.ToLower(text), "f")
}

// StringLiteralValue returns the unquoted value of a plain string literal.
// ok is false for f-strings and strings with interpolations.
func StringLiteralValue(n *sitter.Node, src []byte) (string, bool) {
	if n.Type() != "string" || IsFString(n, src) {
		return "", false
	}
	var sb strings.Builder
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "string_content", "escape_sequence":
			sb.WriteString(child.Content(src))
		case "interpolation":
			return "", false
		}
	}
	return sb.String(), true
}

// FStringParts reconstructs an f-string as a template with {var} markers for
// each interpolated identifier or attribute chain, returned in left-to-right
// order. ok is false when any interpolation is not a plain name.
func FStringParts(n *sitter.Node, src []byte) (template string, vars []string, ok bool) {
	if !IsFString(n, src) {
		return "", nil, false
	}
	var sb strings.Builder
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "string_content", "escape_sequence":
			sb.WriteString(child.Content(src))
		case "interpolation":
			expr := child.NamedChild(0)
			if expr == nil {
				return "", nil, false
			}
			name, isName := DottedName(expr, src)
			if !isName {
				return "", nil, false
			}
			vars = append(vars, name)
			sb.WriteString("{" + name + "}")
		}
	}
	if len(vars) == 0 {
		return "", nil, false
	}
	return sb.String(), vars, true
}

// ConcatParts reconstructs a "+"-built string as a template with {var}
// markers. Leaves may be plain string literals, names, attribute chains, or
// str(name) calls; anything else fails the match.
func ConcatParts(n *sitter.Node, src []byte) (template string, vars []string, ok bool) {
	if n.Type() != "binary_operator" {
		return "", nil, false
	}
	var sb strings.Builder
	if !walkConcat(n, src, &sb, &vars) {
		return "", nil, false
	}
	if len(vars) == 0 {
		return "", nil, false
	}
	return sb.String(), vars, true
}

func walkConcat(n *sitter.Node, src []byte, sb *strings.Builder, vars *[]string) bool {
	if n.Type() == "binary_operator" {
		op := n.ChildByFieldName("operator")
		if op == nil || op.Content(src) != "+" {
			return false
		}
		return walkConcat(n.ChildByFieldName("left"), src, sb, vars) &&
			walkConcat(n.ChildByFieldName("right"), src, sb, vars)
	}
	if n.Type() == "string" {
		value, ok := StringLiteralValue(n, src)
		if !ok {
			return false
		}
		sb.WriteString(value)
		return true
	}
	if name, ok := DottedName(n, src); ok {
		*vars = append(*vars, name)
		sb.WriteString("{" + name + "}")
		return true
	}
	if n.Type() == "call" {
		// str(x) is a common widening wrapper around an injected value.
		if fn, ok := CallName(n, src); ok && fn == "str" {
			pos, _ := CallArgs(n)
			if len(pos) == 1 {
				if name, ok := DottedName(pos[0], src); ok {
					*vars = append(*vars, name)
					sb.WriteString("{" + name + "}")
					return true
				}
			}
		}
	}
	return false
}

// PercentParts matches `"..." % var` and `"..." % (a, b)`. The returned
// template keeps its original %s markers.
func PercentParts(n *sitter.Node, src []byte) (template string, vars []string, ok bool) {
	if n.Type() != "binary_operator" {
		return "", nil, false
	}
	op := n.ChildByFieldName("operator")
	if op == nil || op.Content(src) != "%" {
		return "", nil, false
	}
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || right == nil {
		return "", nil, false
	}
	template, ok = StringLiteralValue(left, src)
	if !ok {
		return "", nil, false
	}

	if name, isName := DottedName(right, src); isName {
		return template, []string{name}, true
	}
	if right.Type() == "tuple" {
		for i := 0; i < int(right.NamedChildCount()); i++ {
			name, isName := DottedName(right.NamedChild(i), src)
			if !isName {
				return "", nil, false
			}
			vars = append(vars, name)
		}
		if len(vars) == 0 {
			return "", nil, false
		}
		return template, vars, true
	}
	return "", nil, false
}

// FormatParts matches `"...{}...".format(a, b)`. The returned template keeps
// its {} markers.
func FormatParts(n *sitter.Node, src []byte) (template string, vars []string, ok bool) {
	if n.Type() != "call" {
		return "", nil, false
	}
	fn := n.ChildByFieldName("function")
	if fn == nil || fn.Type() != "attribute" {
		return "", nil, false
	}
	attr := fn.ChildByFieldName("attribute")
	obj := fn.ChildByFieldName("object")
	if attr == nil || obj == nil || attr.Content(src) != "format" {
		return "", nil, false
	}
	template, ok = StringLiteralValue(obj, src)
	if !ok {
		return "", nil, false
	}

	pos, _ := CallArgs(n)
	for _, arg := range pos {
		name, isName := DottedName(arg, src)
		if !isName {
			return "", nil, false
		}
		vars = append(vars, name)
	}
	if len(vars) == 0 {
		return "", nil, false
	}
	return template, vars, true
}
