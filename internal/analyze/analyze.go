// Package analyze extracts dependency relations from code using
// Tree-sitter. For each code node it reports which symbols the code
// declares, assigns, uses or imports, and which files it reads or writes;
// the dependency graph is built from these findings.
package analyze

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"

	"weave/internal/depgraph"
)

// Analyzer wraps Tree-sitter parsers for the supported languages.
type Analyzer struct {
	pyParser *sitter.Parser
	jsParser *sitter.Parser
}

// New creates an analyzer supporting Python and JavaScript.
func New() *Analyzer {
	pyParser := sitter.NewParser()
	pyParser.SetLanguage(python.GetLanguage())

	jsParser := sitter.NewParser()
	jsParser.SetLanguage(javascript.GetLanguage())

	return &Analyzer{pyParser: pyParser, jsParser: jsParser}
}

// Supported reports whether the language has an analyzer. Unsupported
// languages fall back to linear (document-order) execution.
func Supported(lang string) bool {
	switch normalizeLang(lang) {
	case "python", "javascript":
		return true
	}
	return false
}

func normalizeLang(lang string) string {
	switch strings.ToLower(lang) {
	case "py", "python", "python3":
		return "python"
	case "js", "javascript", "node":
		return "javascript"
	}
	return strings.ToLower(lang)
}

// Analyze parses code and returns its relation pairs. Unsupported
// languages return no pairs and no error.
func (a *Analyzer) Analyze(code, lang string) ([]depgraph.Pair, error) {
	content := []byte(code)
	switch normalizeLang(lang) {
	case "python":
		tree, err := a.pyParser.ParseCtx(context.Background(), nil, content)
		if err != nil {
			return nil, fmt.Errorf("parsing python: %w", err)
		}
		return pythonPairs(tree.RootNode(), content), nil
	case "javascript":
		tree, err := a.jsParser.ParseCtx(context.Background(), nil, content)
		if err != nil {
			return nil, fmt.Errorf("parsing javascript: %w", err)
		}
		return javascriptPairs(tree.RootNode(), content), nil
	}
	return nil, nil
}

// collector gathers pairs while tracking locally bound names so that a
// symbol assigned by the same snippet is not also reported as used.
type collector struct {
	pairs []depgraph.Pair
	bound map[string]bool
	used  map[string]bool
}

func newCollector() *collector {
	return &collector{bound: make(map[string]bool), used: make(map[string]bool)}
}

func (c *collector) add(kind depgraph.RelationKind, name string, n *sitter.Node) {
	if name == "" {
		return
	}
	c.pairs = append(c.pairs, depgraph.Pair{
		Relation: kind,
		Name:     name,
		Range:    nodeRange(n),
	})
	switch kind {
	case depgraph.RelationAssigns, depgraph.RelationDeclares, depgraph.RelationImports:
		c.bound[name] = true
	}
}

func (c *collector) use(name string, n *sitter.Node) {
	if name == "" || c.used[name] {
		return
	}
	c.used[name] = true
	c.pairs = append(c.pairs, depgraph.Pair{
		Relation: depgraph.RelationUses,
		Name:     name,
		Range:    nodeRange(n),
	})
}

// finish drops Uses pairs for names the snippet itself binds.
func (c *collector) finish() []depgraph.Pair {
	out := c.pairs[:0]
	for _, p := range c.pairs {
		if p.Relation == depgraph.RelationUses && c.bound[p.Name] {
			continue
		}
		out = append(out, p)
	}
	return out
}

func nodeRange(n *sitter.Node) []int {
	start := n.StartPoint()
	end := n.EndPoint()
	return []int{int(start.Row), int(start.Column), int(end.Row), int(end.Column)}
}

func firstChildOfType(n *sitter.Node, t string) *sitter.Node {
	for i := 0; i < int(n.ChildCount()); i++ {
		if child := n.Child(i); child.Type() == t {
			return child
		}
	}
	return nil
}
