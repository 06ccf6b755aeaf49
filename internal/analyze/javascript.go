package analyze

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"weave/internal/depgraph"
)

// javascriptPairs walks a JavaScript AST and collects relation pairs.
func javascriptPairs(root *sitter.Node, content []byte) []depgraph.Pair {
	c := newCollector()

	iter := sitter.NewIterator(root, sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			break
		}
		switch n.Type() {
		case "import_statement":
			if src := firstChildOfType(n, "string"); src != nil {
				c.add(depgraph.RelationImports, strings.Trim(src.Content(content), `"'`), n)
			}
			for _, name := range jsImportedNames(n, content) {
				c.bound[name] = true
			}
		case "function_declaration", "class_declaration":
			if ident := firstChildOfType(n, "identifier"); ident != nil {
				c.add(depgraph.RelationDeclares, ident.Content(content), n)
			}
		case "lexical_declaration", "variable_declaration":
			if jsTopLevel(n) {
				for _, name := range jsDeclaredNames(n, content) {
					c.add(depgraph.RelationAssigns, name, n)
				}
			}
		case "assignment_expression":
			if jsTopLevelExpr(n) {
				if left := n.ChildByFieldName("left"); left != nil && left.Type() == "identifier" {
					c.add(depgraph.RelationAssigns, left.Content(content), n)
				}
			}
		case "identifier":
			if jsIsUse(n) {
				c.use(n.Content(content), n)
			}
		}
	}
	return c.finish()
}

func jsTopLevel(n *sitter.Node) bool {
	parent := n.Parent()
	return parent != nil && parent.Type() == "program"
}

func jsTopLevelExpr(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil || parent.Type() != "expression_statement" {
		return false
	}
	grandparent := parent.Parent()
	return grandparent != nil && grandparent.Type() == "program"
}

func jsDeclaredNames(n *sitter.Node, content []byte) []string {
	var names []string
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.Type() != "variable_declarator" {
			continue
		}
		if ident := firstChildOfType(child, "identifier"); ident != nil {
			names = append(names, ident.Content(content))
		}
	}
	return names
}

func jsImportedNames(n *sitter.Node, content []byte) []string {
	var names []string
	iter := sitter.NewIterator(n, sitter.DFSMode)
	for {
		child, err := iter.Next()
		if err != nil || child == nil {
			break
		}
		if child.Type() == "identifier" {
			names = append(names, child.Content(content))
		}
	}
	return dedupe(names)
}

// jsIsUse reports whether an identifier is a plain reference rather than
// a binding site or a member name.
func jsIsUse(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return true
	}
	switch parent.Type() {
	case "function_declaration", "class_declaration", "formal_parameters",
		"import_specifier", "import_clause", "namespace_import",
		"method_definition", "property_identifier":
		return false
	case "variable_declarator":
		return parent.ChildByFieldName("name") != n
	case "assignment_expression":
		return parent.ChildByFieldName("left") != n
	case "member_expression":
		return parent.ChildByFieldName("object") == n
	}
	return true
}
