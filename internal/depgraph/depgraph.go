// Package depgraph builds the dependency graph of a document's
// code-bearing nodes. Resources (code nodes, files, symbols) live in an
// arena addressed by integer index; relations are index pairs in an
// adjacency list, which sidesteps ownership cycles entirely.
package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"weave/internal/cas"
)

// ResourceKind identifies what a resource stands for.
type ResourceKind string

const (
	ResourceCode   ResourceKind = "Code"
	ResourceFile   ResourceKind = "File"
	ResourceSymbol ResourceKind = "Symbol"
)

// RelationKind types an edge between resources.
type RelationKind string

const (
	RelationUses     RelationKind = "Uses"
	RelationAssigns  RelationKind = "Assigns"
	RelationDeclares RelationKind = "Declares"
	RelationImports  RelationKind = "Imports"
	RelationReads    RelationKind = "Reads"
	RelationWrites   RelationKind = "Writes"
	RelationRequires RelationKind = "Requires"
)

// Resource is one node of the dependency graph.
type Resource struct {
	Kind ResourceKind
	// ID is the document node id for code resources, the path for files,
	// the name for symbols.
	ID       string
	Language string
	// ContentDigest hashes the code exactly as written.
	ContentDigest string
	// SemanticDigest hashes the code ignoring formatting; preferred over
	// ContentDigest for staleness comparisons when non-empty.
	SemanticDigest string
	// Unchanged is set when the semantic digest matches the previous
	// compile pass.
	Unchanged bool
}

// Digest returns the digest used for staleness comparisons.
func (r Resource) Digest() string {
	if r.SemanticDigest != "" {
		return r.SemanticDigest
	}
	return r.ContentDigest
}

// Relation is a typed edge between two arena indices.
type Relation struct {
	From int
	To   int
	Kind RelationKind
}

// Pair is one analyzer finding for a code node: a relation kind and the
// symbol or file it concerns.
type Pair struct {
	Relation RelationKind
	Name     string
	// Range is the optional source range [startLine, startCol, endLine,
	// endCol]; nil when unknown.
	Range []int
}

// CodeNode is the input to graph construction: one code-bearing document
// node and its analyzer findings.
type CodeNode struct {
	ID       string
	Language string
	Code     string
	Pairs    []Pair
}

// Graph is the compiled dependency graph.
type Graph struct {
	resources []Resource
	relations []Relation
	out       [][]int // adjacency: out[i] lists indices depending on i
	in        [][]int
	codeIndex map[string]int // code node id -> arena index
}

// CycleError reports a dependency cycle. Cycles are never silently
// broken; the affected compile pass fails while independent subgraphs
// still order.
type CycleError struct {
	// IDs are the resource ids participating in cycles.
	IDs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving: %s", strings.Join(e.IDs, ", "))
}

// Build constructs the graph in a single pass over the document's code
// nodes. Every code node becomes a resource even when it declares no
// relations. previous maps code node id to the semantic digest recorded
// by the prior compile pass and drives the Unchanged flag; pass nil on
// the first compile.
func Build(nodes []CodeNode, previous map[string]string) *Graph {
	g := &Graph{codeIndex: make(map[string]int, len(nodes))}

	for _, n := range nodes {
		idx := len(g.resources)
		res := Resource{
			Kind:           ResourceCode,
			ID:             n.ID,
			Language:       n.Language,
			ContentDigest:  cas.ContentDigest(n.Code),
			SemanticDigest: cas.SemanticDigest(n.Code),
		}
		if prev, ok := previous[n.ID]; ok && prev == res.SemanticDigest {
			res.Unchanged = true
		}
		g.resources = append(g.resources, res)
		g.codeIndex[n.ID] = idx
	}

	// Index producers: which code node assigns/declares/writes each
	// symbol or file. First producer in document order wins.
	producers := make(map[string]int)
	for _, n := range nodes {
		idx := g.codeIndex[n.ID]
		for _, p := range n.Pairs {
			switch p.Relation {
			case RelationAssigns, RelationDeclares:
				key := "sym:" + p.Name
				if _, ok := producers[key]; !ok {
					producers[key] = idx
				}
			case RelationWrites:
				key := "file:" + p.Name
				if _, ok := producers[key]; !ok {
					producers[key] = idx
				}
			}
		}
	}

	g.out = make([][]int, len(g.resources))
	g.in = make([][]int, len(g.resources))
	addEdge := func(from, to int, kind RelationKind) {
		if from == to {
			return
		}
		for _, existing := range g.out[from] {
			if existing == to {
				return
			}
		}
		g.relations = append(g.relations, Relation{From: from, To: to, Kind: kind})
		g.out[from] = append(g.out[from], to)
		g.in[to] = append(g.in[to], from)
	}

	for _, n := range nodes {
		idx := g.codeIndex[n.ID]
		for _, p := range n.Pairs {
			switch p.Relation {
			case RelationUses, RelationImports:
				if producer, ok := producers["sym:"+p.Name]; ok {
					addEdge(producer, idx, p.Relation)
				}
			case RelationReads:
				if producer, ok := producers["file:"+p.Name]; ok {
					addEdge(producer, idx, p.Relation)
				}
			case RelationRequires:
				if producer, ok := g.codeIndex[p.Name]; ok {
					addEdge(producer, idx, p.Relation)
				}
			}
		}
	}
	return g
}

// Len returns the number of resources.
func (g *Graph) Len() int {
	return len(g.resources)
}

// Resource returns the resource at an arena index.
func (g *Graph) Resource(i int) Resource {
	return g.resources[i]
}

// Lookup returns the arena index of a code node id.
func (g *Graph) Lookup(id string) (int, bool) {
	i, ok := g.codeIndex[id]
	return i, ok
}

// Dependencies returns the arena indices the given resource depends on.
func (g *Graph) Dependencies(i int) []int {
	return g.in[i]
}

// Dependents returns the arena indices depending on the given resource.
func (g *Graph) Dependents(i int) []int {
	return g.out[i]
}

// Relations returns all typed edges.
func (g *Graph) Relations() []Relation {
	return g.relations
}

// Digests returns the semantic digest of every code resource keyed by
// node id, for recording as the next compile's previous map.
func (g *Graph) Digests() map[string]string {
	out := make(map[string]string, len(g.resources))
	for _, r := range g.resources {
		if r.Kind == ResourceCode {
			out[r.ID] = r.SemanticDigest
		}
	}
	return out
}

// TopoSort returns the arena indices in dependency order (Kahn's
// algorithm, ties broken by arena index so output is deterministic). A
// cycle yields a *CycleError naming the resources left unordered.
func (g *Graph) TopoSort() ([]int, error) {
	indegree := make([]int, len(g.resources))
	for i := range g.resources {
		indegree[i] = len(g.in[i])
	}
	var ready []int
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	var order []int
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dep := range g.out[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(order) != len(g.resources) {
		var ids []string
		for i, d := range indegree {
			if d > 0 {
				ids = append(ids, g.resources[i].ID)
			}
		}
		sort.Strings(ids)
		return order, &CycleError{IDs: ids}
	}
	return order, nil
}
