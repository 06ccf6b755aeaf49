package analyze

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"weave/internal/depgraph"
)

// pythonPairs walks a Python AST and collects relation pairs.
func pythonPairs(root *sitter.Node, content []byte) []depgraph.Pair {
	c := newCollector()

	iter := sitter.NewIterator(root, sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			break
		}
		switch n.Type() {
		case "import_statement", "import_from_statement":
			for _, name := range pythonImportNames(n, content) {
				c.add(depgraph.RelationImports, name, n)
			}
		case "function_definition", "class_definition":
			if ident := firstChildOfType(n, "identifier"); ident != nil {
				c.add(depgraph.RelationDeclares, ident.Content(content), n)
			}
		case "assignment", "augmented_assignment":
			if pythonTopLevel(n) {
				for _, name := range pythonAssignTargets(n, content) {
					c.add(depgraph.RelationAssigns, name, n)
				}
			}
		case "call":
			pythonOpenCall(c, n, content)
		case "identifier":
			if pythonIsUse(n) {
				c.use(n.Content(content), n)
			}
		}
	}
	return c.finish()
}

// pythonTopLevel reports whether an assignment sits directly in the
// module body (wrapped in an expression_statement).
func pythonTopLevel(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil || parent.Type() != "expression_statement" {
		return false
	}
	grandparent := parent.Parent()
	return grandparent != nil && grandparent.Type() == "module"
}

func pythonAssignTargets(n *sitter.Node, content []byte) []string {
	var names []string
	left := n.Child(0)
	if left == nil {
		return nil
	}
	switch left.Type() {
	case "identifier":
		names = append(names, left.Content(content))
	case "pattern_list", "tuple_pattern":
		for i := 0; i < int(left.ChildCount()); i++ {
			if child := left.Child(i); child.Type() == "identifier" {
				names = append(names, child.Content(content))
			}
		}
	}
	return names
}

func pythonImportNames(n *sitter.Node, content []byte) []string {
	var names []string
	iter := sitter.NewIterator(n, sitter.DFSMode)
	for {
		child, err := iter.Next()
		if err != nil || child == nil {
			break
		}
		if child.Type() == "dotted_name" {
			// Only the top of the dotted path names the module.
			names = append(names, strings.SplitN(child.Content(content), ".", 2)[0])
		}
	}
	return dedupe(names)
}

// pythonOpenCall records file reads and writes from open(...) calls with
// a literal path argument.
func pythonOpenCall(c *collector, n *sitter.Node, content []byte) {
	fn := n.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" || fn.Content(content) != "open" {
		return
	}
	args := n.ChildByFieldName("arguments")
	if args == nil {
		return
	}
	var path, mode string
	argIdx := 0
	for i := 0; i < int(args.ChildCount()); i++ {
		child := args.Child(i)
		if child.Type() != "string" {
			continue
		}
		lit := strings.Trim(child.Content(content), `"'`)
		switch argIdx {
		case 0:
			path = lit
		case 1:
			mode = lit
		}
		argIdx++
	}
	if path == "" {
		return
	}
	if strings.ContainsAny(mode, "wax+") {
		c.add(depgraph.RelationWrites, path, n)
	} else {
		c.add(depgraph.RelationReads, path, n)
	}
}

// pythonIsUse reports whether an identifier is a plain reference rather
// than a binding site or an attribute name.
func pythonIsUse(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return true
	}
	switch parent.Type() {
	case "function_definition", "class_definition", "parameters",
		"default_parameter", "typed_parameter", "keyword_argument",
		"import_statement", "import_from_statement", "dotted_name",
		"aliased_import":
		return false
	case "attribute":
		// Only the object side of obj.attr is a use of a symbol.
		return parent.ChildByFieldName("object") == n
	case "assignment", "augmented_assignment":
		return parent.ChildByFieldName("left") != n
	case "pattern_list", "tuple_pattern":
		return false
	}
	return true
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
