// Package session owns the canonical document tree of one editing
// session and coordinates diffing, patching, compilation and execution
// over it.
package session

import (
	"context"
	"fmt"
	"sync"

	"weave/internal/analyze"
	"weave/internal/cas"
	"weave/internal/depgraph"
	"weave/internal/diff"
	"weave/internal/node"
	"weave/internal/patch"
	"weave/internal/schedule"
	"weave/internal/schema"
	"weave/internal/store"
)

// Format selects a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Session is the single owner of a document tree. All mutation goes
// through Apply, so readers always see a tree that a whole patch has
// been applied to.
type Session struct {
	id       string
	analyzer *analyze.Analyzer
	sched    *schedule.Scheduler
	// baseMode is the configured planning mode; compilation may override
	// it to linear when a language has no analyzer.
	baseMode schedule.Mode
	db       *store.DB // optional

	mu   sync.RWMutex
	root node.Node
	seq  int64

	// Compile products, consumed by Execute.
	graph *depgraph.Graph
	code  []depgraph.CodeNode

	subMu   sync.Mutex
	subs    map[int]chan patch.Patch
	nextSub int
}

// New creates a session around an empty document. runner is typically a
// *kernel.Manager; db may be nil to skip persistence.
func New(id string, runner schedule.Runner, opts schedule.Options, db *store.DB) *Session {
	mode := opts.Mode
	if mode == "" {
		mode = schedule.ModeDependency
	}
	return &Session{
		id:       id,
		analyzer: analyze.New(),
		sched:    schedule.New(runner, opts),
		baseMode: mode,
		db:       db,
		root:     node.Null(),
		subs:     make(map[int]chan patch.Patch),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Seq returns the number of patches applied so far.
func (s *Session) Seq() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Load replaces the document with a decoded tree.
func (s *Session) Load(data []byte, format Format) error {
	var root node.Node
	var err error
	switch format {
	case FormatJSON:
		root, err = node.FromJSON(data)
	case FormatYAML:
		root, err = node.FromYAML(data)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}

	s.mu.Lock()
	s.root = root
	s.graph = nil
	s.code = nil
	s.mu.Unlock()

	if s.db != nil {
		if _, err := s.db.SaveSnapshot(s.id, root); err != nil {
			return fmt.Errorf("persisting snapshot: %w", err)
		}
	}
	return nil
}

// Root returns an independent copy of the current tree.
func (s *Session) Root() node.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root.Clone()
}

// Apply applies a patch to the tree, bumps the sequence number, records
// the patch and feeds it to subscribers. A failed operation leaves
// earlier operations of the same patch applied.
func (s *Session) Apply(p patch.Patch) error {
	if p.IsEmpty() {
		return nil
	}
	s.mu.Lock()
	err := patch.Apply(&s.root, p)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if s.db != nil {
		if err := s.db.AppendPatch(s.id, seq, p); err != nil {
			return fmt.Errorf("persisting patch: %w", err)
		}
	}
	s.publish(p)
	return nil
}

// Diff computes the patch that would turn the current tree into the
// incoming one, without applying it.
func (s *Session) Diff(incoming node.Node) patch.Patch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return diff.Diff(s.root, incoming)
}

// Update diffs the incoming tree against the current one and applies
// the resulting patch, returning it. This is the entry point for
// external edits: subscribers receive the minimal patch rather than the
// whole tree.
func (s *Session) Update(incoming node.Node) (patch.Patch, error) {
	s.mu.Lock()
	p := diff.Diff(s.root, incoming)
	if p.IsEmpty() {
		s.mu.Unlock()
		return p, nil
	}
	if err := patch.Apply(&s.root, p); err != nil {
		s.mu.Unlock()
		return p, err
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if s.db != nil {
		if err := s.db.AppendPatch(s.id, seq, p); err != nil {
			return p, fmt.Errorf("persisting patch: %w", err)
		}
	}
	s.publish(p)
	return p, nil
}

// Snapshot persists the current tree and returns its content id.
func (s *Session) Snapshot() ([]byte, error) {
	if s.db == nil {
		return nil, fmt.Errorf("session has no store")
	}
	s.mu.RLock()
	root := s.root.Clone()
	s.mu.RUnlock()
	return s.db.SaveSnapshot(s.id, root)
}

// Compile walks the tree for executable nodes, analyzes their code and
// rebuilds the dependency graph, then refreshes per-node staleness.
// When any node's language has no analyzer the pass plans in linear
// document order instead of dependency order.
// The returned error may be a *depgraph.CycleError; nodes outside the
// cycle are still compiled and schedulable.
func (s *Session) Compile() error {
	s.mu.Lock()
	var previous map[string]string
	if s.graph != nil {
		previous = s.graph.Digests()
	}
	root := s.root.Clone()
	s.mu.Unlock()

	code := collectCode(root)
	mode := s.baseMode
	for i := range code {
		pairs, err := s.analyzer.Analyze(code[i].Code, code[i].Language)
		if err != nil {
			return fmt.Errorf("analyzing node %s: %w", code[i].ID, err)
		}
		code[i].Pairs = pairs
		// A language without an analyzer has unknown dependencies, so
		// the whole pass runs in document order.
		if !analyze.Supported(code[i].Language) {
			mode = schedule.ModeLinear
		}
	}
	g := depgraph.Build(code, previous)
	s.sched.SetMode(mode)

	s.mu.Lock()
	s.graph = g
	s.code = code
	s.mu.Unlock()

	return s.sched.Refresh(g)
}

// Graph returns the last compiled dependency graph, nil before Compile.
func (s *Session) Graph() *depgraph.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph
}

// Status returns a code node's execution status.
func (s *Session) Status(nodeID string) schedule.Status {
	return s.sched.Status(nodeID)
}

// Mode returns the planning mode selected by the last compile.
func (s *Session) Mode() schedule.Mode {
	return s.sched.Mode()
}

// Cancel cancels a code node's live task.
func (s *Session) Cancel(nodeID string) {
	s.sched.Cancel(nodeID)
}

// Execute compiles if needed, plans and runs all stale or never-run
// code nodes, then writes outputs, errors and statuses back into the
// tree as a patch. Each run is recorded in the store when one is
// attached. When any code node's language has no analyzer the whole
// pass falls back to linear document order.
func (s *Session) Execute(ctx context.Context) (map[string]schedule.Status, error) {
	s.mu.RLock()
	compiled := s.graph != nil
	s.mu.RUnlock()
	if !compiled {
		if err := s.Compile(); err != nil {
			if _, ok := err.(*depgraph.CycleError); !ok {
				return nil, err
			}
		}
	}

	s.mu.RLock()
	g := s.graph
	code := s.code
	s.mu.RUnlock()

	plan, err := s.sched.BuildPlan(g)
	if err != nil {
		if _, ok := err.(*depgraph.CycleError); !ok {
			return nil, err
		}
	}
	started := cas.NowMs()
	terminal := s.sched.Execute(ctx, g, code, plan)

	if s.db != nil {
		ended := cas.NowMs()
		for id, st := range terminal {
			var digest string
			if idx, ok := g.Lookup(id); ok {
				digest = g.Resource(idx).Digest()
			}
			rec := store.Execution{
				NodeID:    id,
				Digest:    digest,
				Status:    string(st),
				StartedAt: started,
				EndedAt:   ended,
			}
			if err := s.db.RecordExecution(rec); err != nil {
				return terminal, fmt.Errorf("recording execution: %w", err)
			}
		}
	}

	if p := s.resultPatch(terminal); !p.IsEmpty() {
		if err := s.Apply(p); err != nil {
			return terminal, fmt.Errorf("writing execution results: %w", err)
		}
	}
	return terminal, err
}

// resultPatch builds the patch recording statuses, outputs and errors
// on the executed nodes.
func (s *Session) resultPatch(terminal map[string]schedule.Status) patch.Patch {
	s.mu.RLock()
	root := s.root.Clone()
	g := s.graph
	s.mu.RUnlock()

	var ops []patch.Operation
	setProp := func(n node.Node, addr node.Address, name string, v node.Node) {
		propAddr := addr.Append(node.Prop(name))
		if _, ok := n.Prop(name); !ok {
			ops = append(ops, patch.Add(propAddr, v))
		} else {
			ops = append(ops, patch.Replace(propAddr, v))
		}
	}

	walkExecutable(root, nil, func(n node.Node, addr node.Address) {
		id := n.ID()
		if id == "" {
			id = addr.String()
		}
		st, ok := terminal[id]
		if !ok {
			return
		}
		setProp(n, addr, "executeStatus", node.Str(string(st)))

		switch st {
		case schedule.StatusSucceeded:
			if idx, ok := g.Lookup(id); ok {
				setProp(n, addr, "executeDigest", node.Str(g.Resource(idx).Digest()))
			}
			result := s.sched.Result(id)
			if result == nil {
				return
			}
			if n.Type() == "CodeExpression" {
				if len(result.Outputs) > 0 {
					setProp(n, addr, "output", result.Outputs[0])
				}
			} else {
				setProp(n, addr, "outputs", node.Arr(result.Outputs...))
			}
			setProp(n, addr, "errors", errorsValue(result.Errors))
		case schedule.StatusFailed:
			var msgs []string
			if terr := s.sched.Err(id); terr != nil {
				msgs = append(msgs, terr.Error())
			}
			setProp(n, addr, "errors", errorsValue(msgs))
		}
	})
	return patch.Patch{Ops: ops}
}

// errorsValue encodes execution error messages as a vector of CodeError
// nodes.
func errorsValue(msgs []string) node.Node {
	elems := make([]node.Node, 0, len(msgs))
	for _, msg := range msgs {
		elems = append(elems, node.Obj("CodeError", map[string]node.Node{
			"errorMessage": node.Str(msg),
		}))
	}
	return node.Arr(elems...)
}

// Subscribe returns a channel receiving every applied patch and a
// function to unsubscribe. Slow subscribers drop patches rather than
// block Apply.
func (s *Session) Subscribe() (<-chan patch.Patch, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan patch.Patch, 64)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
	}
}

func (s *Session) publish(p patch.Patch) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// collectCode gathers executable nodes in document order.
func collectCode(root node.Node) []depgraph.CodeNode {
	var out []depgraph.CodeNode
	walkExecutable(root, nil, func(n node.Node, addr node.Address) {
		id := n.ID()
		if id == "" {
			// Nodes without a stable id are addressed by path.
			id = addr.String()
		}
		var lang, text string
		if p, ok := n.Prop("programmingLanguage"); ok {
			lang = p.Str()
		}
		if p, ok := n.Prop("text"); ok {
			text = p.Str()
		}
		out = append(out, depgraph.CodeNode{ID: id, Language: lang, Code: text})
	})
	return out
}

// walkExecutable visits every executable node depth-first, in document
// order, with its address.
func walkExecutable(n node.Node, addr node.Address, visit func(node.Node, node.Address)) {
	switch n.Kind() {
	case node.KindArray:
		for i, elem := range n.Elems() {
			walkExecutable(elem, addr.Append(node.Idx(i)), visit)
		}
	case node.KindObject:
		if schema.Executable(n.Type()) {
			visit(n, addr)
		}
		for _, name := range n.PropNames() {
			if p, ok := n.Prop(name); ok {
				walkExecutable(p, addr.Append(node.Prop(name)), visit)
			}
		}
	}
}
