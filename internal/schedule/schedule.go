// Package schedule turns a dependency graph plus per-node digests into
// an ordered execution plan and drives it to completion across kernels.
package schedule

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"weave/internal/depgraph"
	"weave/internal/kernel"
)

// Status is the execution state of one code node.
type Status string

const (
	StatusNeverRun  Status = "NeverRun"
	StatusStale     Status = "Stale"
	StatusScheduled Status = "Scheduled"
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// Mode selects how the plan orders nodes.
type Mode string

const (
	// ModeDependency orders by the dependency graph; the default when
	// analysis is available.
	ModeDependency Mode = "dependency"
	// ModeLinear runs nodes in document order, one at a time; the
	// fallback when no analysis is available for a language.
	ModeLinear Mode = "linear"
)

// Options bound the scheduler.
type Options struct {
	// MaxConcurrency caps how many tasks run at once across kernels.
	MaxConcurrency int
	Mode           Mode
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{MaxConcurrency: 4, Mode: ModeDependency}
}

// Runner dispatches tasks to kernels. *kernel.Manager implements it.
type Runner interface {
	Dispatch(t *kernel.Task) error
	Interrupt(taskID string) error
}

// Plan is an ordered sequence of stages; nodes within a stage have no
// dependency path between them and may run concurrently.
type Plan struct {
	Mode   Mode
	Stages [][]string
}

// Nodes returns all planned node ids in stage order.
func (p Plan) Nodes() []string {
	var out []string
	for _, stage := range p.Stages {
		out = append(out, stage...)
	}
	return out
}

// Scheduler tracks per-node execution state across compile passes.
type Scheduler struct {
	runner Runner
	opts   Options

	mu sync.Mutex
	// status per node id.
	status map[string]Status
	// lastRun records the digest at the last successful execution.
	lastRun map[string]string
	errs    map[string]*kernel.TaskError
	results map[string]*kernel.Result
	// tasks holds the live task per node during an Execute call.
	tasks map[string]*kernel.Task
}

// New creates a scheduler dispatching through the runner.
func New(runner Runner, opts Options) *Scheduler {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultOptions().MaxConcurrency
	}
	if opts.Mode == "" {
		opts.Mode = ModeDependency
	}
	return &Scheduler{
		runner:  runner,
		opts:    opts,
		status:  make(map[string]Status),
		lastRun: make(map[string]string),
		errs:    make(map[string]*kernel.TaskError),
		results: make(map[string]*kernel.Result),
		tasks:   make(map[string]*kernel.Task),
	}
}

// SetMode switches how subsequent plans order nodes. Compilation calls
// this to fall back to linear order when a language has no analyzer.
func (s *Scheduler) SetMode(m Mode) {
	if m == "" {
		m = ModeDependency
	}
	s.mu.Lock()
	s.opts.Mode = m
	s.mu.Unlock()
}

// Mode returns the current planning mode.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Mode
}

// Status returns a node's current execution status. While a task is
// live the node tracks the task's own state.
func (s *Scheduler) Status(id string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		switch t.Status() {
		case kernel.TaskRunning:
			return StatusRunning
		case kernel.TaskScheduled:
			return StatusScheduled
		}
	}
	if st, ok := s.status[id]; ok {
		return st
	}
	return StatusNeverRun
}

// Statuses returns a snapshot of all node statuses.
func (s *Scheduler) Statuses() map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Status, len(s.status))
	for id, st := range s.status {
		out[id] = st
	}
	return out
}

// Err returns the error recorded for a node's last execution, if any.
func (s *Scheduler) Err(id string) *kernel.TaskError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[id]
}

// Result returns the outputs of a node's last successful execution.
func (s *Scheduler) Result(id string) *kernel.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[id]
}

// Refresh recomputes staleness for every code node in the graph: a node
// is stale when its digest differs from the one recorded at its last
// successful execution, or when any upstream dependency is itself stale
// or failed. A cycle is reported but nodes outside it still refresh.
func (s *Scheduler) Refresh(g *depgraph.Graph) error {
	order, err := g.TopoSort()

	s.mu.Lock()
	defer s.mu.Unlock()
	needsRun := make(map[int]bool)
	for _, i := range order {
		r := g.Resource(i)
		if r.Kind != depgraph.ResourceCode {
			continue
		}
		last, ran := s.lastRun[r.ID]
		switch {
		case !ran:
			s.status[r.ID] = StatusNeverRun
			needsRun[i] = true
		case last != r.Digest():
			s.status[r.ID] = StatusStale
			needsRun[i] = true
		default:
			upstream := false
			for _, dep := range g.Dependencies(i) {
				if needsRun[dep] || s.status[g.Resource(dep).ID] == StatusFailed {
					upstream = true
					break
				}
			}
			if upstream {
				s.status[r.ID] = StatusStale
				needsRun[i] = true
			} else {
				s.status[r.ID] = StatusSucceeded
			}
		}
	}
	return err
}

// BuildPlan orders the nodes needing execution. In dependency mode the
// stages follow the graph's topological depth; in linear mode every
// node is its own stage, in document order. A cycle excludes its
// members from the plan and is returned as the error; independent
// subgraphs still schedule.
func (s *Scheduler) BuildPlan(g *depgraph.Graph) (Plan, error) {
	s.mu.Lock()
	needs := func(id string) bool {
		switch s.status[id] {
		case StatusNeverRun, StatusStale, StatusFailed, StatusCancelled, "":
			return true
		}
		return false
	}

	if s.opts.Mode == ModeLinear {
		var stages [][]string
		for i := 0; i < g.Len(); i++ {
			r := g.Resource(i)
			if r.Kind == depgraph.ResourceCode && needs(r.ID) {
				stages = append(stages, []string{r.ID})
			}
		}
		s.mu.Unlock()
		return Plan{Mode: ModeLinear, Stages: stages}, nil
	}

	order, err := g.TopoSort()
	depth := make(map[int]int)
	maxDepth := -1
	for _, i := range order {
		r := g.Resource(i)
		if r.Kind != depgraph.ResourceCode || !needs(r.ID) {
			continue
		}
		d := 0
		for _, dep := range g.Dependencies(i) {
			if dd, ok := depth[dep]; ok && dd+1 > d {
				d = dd + 1
			}
		}
		depth[i] = d
		if d > maxDepth {
			maxDepth = d
		}
	}
	s.mu.Unlock()

	stages := make([][]string, maxDepth+1)
	for _, i := range order {
		if d, ok := depth[i]; ok {
			stages[d] = append(stages[d], g.Resource(i).ID)
		}
	}
	return Plan{Mode: ModeDependency, Stages: stages}, err
}

// Cancel cancels a node's live task. A Scheduled task is removed from
// its queue; a Running one additionally gets a kernel interrupt.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	if t.Status() == kernel.TaskRunning {
		s.runner.Interrupt(t.ID)
	}
	t.Cancel()
}

type completion struct {
	id   string
	task *kernel.Task
}

// Execute dispatches the plan and blocks until every planned node is
// terminal. Dispatch is non-blocking per task; the loop reacts to
// whichever task completes first. A node whose upstream failed or was
// cancelled is marked Failed with reason DependenciesFailed and never
// dispatched. Cancelling the context cancels undispatched tasks and
// interrupts running ones.
func (s *Scheduler) Execute(ctx context.Context, g *depgraph.Graph, nodes []depgraph.CodeNode, plan Plan) map[string]Status {
	byID := make(map[string]depgraph.CodeNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	planned := plan.Nodes()
	inPlan := make(map[string]bool, len(planned))
	for _, id := range planned {
		inPlan[id] = true
	}

	// Upstream/downstream restricted to planned nodes.
	upstreams := make(map[string][]string)
	downstreams := make(map[string][]string)
	pendingDeps := make(map[string]int)
	for _, id := range planned {
		idx, ok := g.Lookup(id)
		if !ok {
			continue
		}
		for _, dep := range g.Dependencies(idx) {
			depID := g.Resource(dep).ID
			if !inPlan[depID] {
				continue
			}
			upstreams[id] = append(upstreams[id], depID)
			downstreams[depID] = append(downstreams[depID], id)
			pendingDeps[id]++
		}
	}

	var ready []string
	for _, id := range planned {
		if pendingDeps[id] == 0 {
			ready = append(ready, id)
		}
	}

	done := make(chan completion)
	ctxDone := ctx.Done()
	running := 0
	finished := 0
	total := len(planned)
	terminal := make(map[string]Status, total)

	release := func(id string) {
		for _, down := range downstreams[id] {
			pendingDeps[down]--
			if pendingDeps[down] == 0 {
				ready = append(ready, down)
			}
		}
	}
	finishLocal := func(id string, st Status, terr *kernel.TaskError) {
		terminal[id] = st
		finished++
		s.mu.Lock()
		s.status[id] = st
		if terr != nil {
			s.errs[id] = terr
		}
		delete(s.tasks, id)
		s.mu.Unlock()
		release(id)
	}

	maxConc := s.opts.MaxConcurrency
	if plan.Mode == ModeLinear {
		maxConc = 1
	}

	for finished < total {
		// Dispatch as many ready nodes as concurrency allows.
		for len(ready) > 0 && running < maxConc {
			id := ready[0]
			ready = ready[1:]

			if ctx.Err() != nil {
				finishLocal(id, StatusCancelled, &kernel.TaskError{Reason: kernel.ReasonCancelled})
				continue
			}
			if blocked, cause := s.upstreamFailure(upstreams[id], terminal); blocked {
				finishLocal(id, StatusFailed, &kernel.TaskError{
					Reason:  kernel.ReasonDependenciesFailed,
					Message: cause,
				})
				continue
			}

			n, ok := byID[id]
			if !ok {
				finishLocal(id, StatusFailed, &kernel.TaskError{
					Reason:  kernel.ReasonKernelUnavailable,
					Message: "unknown code node " + id,
				})
				continue
			}
			task := s.taskFor(n, g)
			s.mu.Lock()
			s.status[id] = StatusScheduled
			delete(s.errs, id)
			s.tasks[id] = task
			s.mu.Unlock()

			if err := s.runner.Dispatch(task); err != nil {
				finishLocal(id, StatusFailed, task.Err())
				continue
			}
			running++
			go func(id string, task *kernel.Task) {
				<-task.Done()
				done <- completion{id: id, task: task}
			}(id, task)
		}

		if running == 0 {
			if len(ready) == 0 && finished < total {
				// Unreachable nodes (cycle leftovers); nothing to wait on.
				break
			}
			continue
		}

		select {
		case c := <-done:
			running--
			s.settle(c, g, terminal)
			finished++
			release(c.id)
		case <-ctxDone:
			ctxDone = nil
			s.cancelLive()
		}
	}
	return terminal
}

// upstreamFailure reports whether any upstream ended Failed or
// Cancelled, naming the first offender.
func (s *Scheduler) upstreamFailure(ups []string, terminal map[string]Status) (bool, string) {
	for _, up := range ups {
		switch terminal[up] {
		case StatusFailed:
			return true, "dependency " + up + " failed"
		case StatusCancelled:
			return true, "dependency " + up + " was cancelled"
		}
	}
	return false, ""
}

func (s *Scheduler) taskFor(n depgraph.CodeNode, g *depgraph.Graph) *kernel.Task {
	task := kernel.NewTask(uuid.NewString(), n.ID, n.Language, n.Code)
	for _, p := range n.Pairs {
		switch p.Relation {
		case depgraph.RelationUses, depgraph.RelationImports:
			task.Uses = append(task.Uses, p.Name)
		case depgraph.RelationAssigns, depgraph.RelationDeclares:
			task.Assigns = append(task.Assigns, p.Name)
		}
	}
	return task
}

// settle records a completed task's outcome.
func (s *Scheduler) settle(c completion, g *depgraph.Graph, terminal map[string]Status) {
	var st Status
	switch c.task.Status() {
	case kernel.TaskSucceeded:
		st = StatusSucceeded
	case kernel.TaskCancelled:
		st = StatusCancelled
	default:
		st = StatusFailed
	}
	terminal[c.id] = st

	s.mu.Lock()
	s.status[c.id] = st
	delete(s.tasks, c.id)
	if st == StatusSucceeded {
		s.results[c.id] = c.task.Result()
		if idx, ok := g.Lookup(c.id); ok {
			s.lastRun[c.id] = g.Resource(idx).Digest()
		}
	} else if err := c.task.Err(); err != nil {
		s.errs[c.id] = err
		delete(s.results, c.id)
	}
	s.mu.Unlock()
}

// cancelLive cancels every live task: queued ones are just removed,
// running ones also get a kernel interrupt.
func (s *Scheduler) cancelLive() {
	s.mu.Lock()
	live := make([]*kernel.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		live = append(live, t)
	}
	s.mu.Unlock()
	for _, t := range live {
		if t.Status() == kernel.TaskRunning {
			s.runner.Interrupt(t.ID)
		}
		t.Cancel()
	}
}
