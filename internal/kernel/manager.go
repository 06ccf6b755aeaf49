package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"weave/internal/cas"
)

// ErrNoMatchingKernel means no registered kernel type can serve a
// language/tags combination.
var ErrNoMatchingKernel = errors.New("no matching kernel")

// Type describes one registered kernel: how to start it and what it can
// serve.
type Type struct {
	// Name identifies the type, e.g. "python3".
	Name string `yaml:"name"`
	// Languages the kernel executes, normalized lowercase.
	Languages []string `yaml:"languages"`
	// Command starts the kernel process.
	Command []string `yaml:"command"`
	// Tags the kernel advertises; tasks may require a subset.
	Tags []string `yaml:"tags"`
	// Fork reports whether the kernel supports forked sessions.
	Fork bool `yaml:"fork"`
	// ReadyTimeout bounds the wait for the readiness marker.
	ReadyTimeout time.Duration `yaml:"readyTimeout"`
}

func (t Type) serves(language string) bool {
	for _, l := range t.Languages {
		if l == language {
			return true
		}
	}
	return false
}

func (t Type) hasTags(tags []string) bool {
	for _, want := range tags {
		found := false
		for _, have := range t.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// owner records which session last assigned a symbol and the digest of
// its value at that time.
type owner struct {
	sessionID string
	digest    string
}

// Manager owns all kernel sessions. It selects kernels for tasks,
// mirrors variables between sessions and tracks symbol ownership.
type Manager struct {
	mu       sync.Mutex
	types    []Type
	sessions map[string]*Session
	// byType maps a type name to its live session, so repeated tasks
	// for one language reuse one kernel.
	byType map[string]*Session
	owners map[string]owner
	// mirrored tracks, per session, the digest of each symbol copied
	// into it; a matching digest skips the copy.
	mirrored map[string]map[string]string
	// tasks maps a live task id to the session it was dispatched to.
	tasks map[string]*Session

	// startTransport is replaceable in tests.
	startTransport func(Type) (transport, error)
}

// NewManager creates a manager with the given kernel types registered.
func NewManager(types []Type) *Manager {
	return &Manager{
		types:    types,
		sessions: make(map[string]*Session),
		byType:   make(map[string]*Session),
		owners:   make(map[string]owner),
		mirrored: make(map[string]map[string]string),
		tasks:    make(map[string]*Session),
		startTransport: func(t Type) (transport, error) {
			timeout := t.ReadyTimeout
			if timeout == 0 {
				timeout = 10 * time.Second
			}
			return startProc(t.Command, timeout)
		},
	}
}

// Types returns the registered kernel types.
func (m *Manager) Types() []Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Type, len(m.types))
	copy(out, m.types)
	return out
}

// Sessions returns all live sessions, ordered by id.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Select returns a session for the language and tags, starting a kernel
// when none is running. A session that previously failed is replaced by
// a fresh kernel.
func (m *Manager) Select(language string, tags []string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectLocked(language, tags)
}

func (m *Manager) selectLocked(language string, tags []string) (*Session, error) {
	for _, t := range m.types {
		if !t.serves(language) || !t.hasTags(tags) {
			continue
		}
		if s, ok := m.byType[t.Name]; ok {
			switch s.Status() {
			case SessionStopped, SessionFailed:
				m.dropLocked(s)
			default:
				return s, nil
			}
		}
		return m.startLocked(t)
	}
	return nil, fmt.Errorf("%w for language %q tags %v", ErrNoMatchingKernel, language, tags)
}

func (m *Manager) startLocked(t Type) (*Session, error) {
	tr, err := m.startTransport(t)
	if err != nil {
		return nil, fmt.Errorf("starting kernel %q: %w", t.Name, err)
	}
	s := newSession(uuid.NewString(), t.Name, t.Languages[0], t.Tags, t.Fork, tr)
	m.sessions[s.id] = s
	m.byType[t.Name] = s
	return s, nil
}

func (m *Manager) dropLocked(s *Session) {
	delete(m.sessions, s.id)
	if m.byType[s.typeName] == s {
		delete(m.byType, s.typeName)
	}
	delete(m.mirrored, s.id)
	for sym, o := range m.owners {
		if o.sessionID == s.id {
			delete(m.owners, sym)
		}
	}
}

// Dispatch selects a kernel for the task, mirrors the variables it
// uses, and enqueues it. Completion is reported through the task itself.
func (m *Manager) Dispatch(t *Task) error {
	m.mu.Lock()
	s, err := m.selectLocked(t.Language, t.Tags)
	if err != nil {
		m.mu.Unlock()
		t.Fail(&TaskError{Reason: ReasonKernelUnavailable, Message: err.Error()})
		return err
	}
	plan := m.mirrorPlanLocked(s, t.Uses)
	m.mu.Unlock()

	if err := m.mirror(s, plan); err != nil {
		t.Fail(&TaskError{Reason: ReasonKernelUnavailable, Message: err.Error()})
		return err
	}
	if err := s.Enqueue(t); err != nil {
		t.Fail(&TaskError{Reason: ReasonKernelUnavailable, Message: err.Error()})
		return err
	}
	m.mu.Lock()
	m.tasks[t.ID] = s
	m.mu.Unlock()
	go m.watch(s, t)
	return nil
}

// Interrupt signals the kernel running the given task to abort it.
func (m *Manager) Interrupt(taskID string) error {
	m.mu.Lock()
	s, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no session running task %q", taskID)
	}
	return s.Interrupt()
}

// mirrorStep is one symbol copy from its owning session into the target.
type mirrorStep struct {
	symbol string
	from   *Session
	digest string
}

func (m *Manager) mirrorPlanLocked(target *Session, uses []string) []mirrorStep {
	var plan []mirrorStep
	for _, sym := range uses {
		o, ok := m.owners[sym]
		if !ok || o.sessionID == target.id {
			continue
		}
		if m.mirrored[target.id][sym] == o.digest {
			// Already holds the current value.
			continue
		}
		from, ok := m.sessions[o.sessionID]
		if !ok {
			continue
		}
		plan = append(plan, mirrorStep{symbol: sym, from: from, digest: o.digest})
	}
	return plan
}

func (m *Manager) mirror(target *Session, plan []mirrorStep) error {
	for _, step := range plan {
		value, found, err := step.from.Get(step.symbol)
		if err != nil {
			return fmt.Errorf("mirroring %q from %s: %w", step.symbol, step.from.id, err)
		}
		if !found {
			continue
		}
		if err := target.Set(step.symbol, value); err != nil {
			return fmt.Errorf("mirroring %q into %s: %w", step.symbol, target.id, err)
		}
		m.mu.Lock()
		if m.mirrored[target.id] == nil {
			m.mirrored[target.id] = make(map[string]string)
		}
		m.mirrored[target.id][step.symbol] = step.digest
		m.mu.Unlock()
	}
	return nil
}

// watch waits for the task to finish and, on success, records the
// session as the new owner of every symbol the task assigned.
func (m *Manager) watch(s *Session, t *Task) {
	<-t.Done()
	m.mu.Lock()
	delete(m.tasks, t.ID)
	m.mu.Unlock()
	if t.Status() != TaskSucceeded {
		return
	}
	for _, sym := range t.Assigns {
		value, found, err := s.Get(sym)
		if err != nil || !found {
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			continue
		}
		digest := cas.ContentDigest(string(raw))
		m.mu.Lock()
		m.owners[sym] = owner{sessionID: s.id, digest: digest}
		if m.mirrored[s.id] == nil {
			m.mirrored[s.id] = make(map[string]string)
		}
		m.mirrored[s.id][sym] = digest
		m.mu.Unlock()
	}
}

// Fork starts a fresh session of the same type and copies the source
// session's variables into it. Only types declaring fork support can be
// forked.
func (m *Manager) Fork(sessionID string) (*Session, error) {
	m.mu.Lock()
	src, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	if !src.canFork {
		m.mu.Unlock()
		return nil, fmt.Errorf("kernel type %q does not support fork", src.typeName)
	}
	var typ Type
	found := false
	for _, t := range m.types {
		if t.Name == src.typeName {
			typ, found = t, true
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return nil, fmt.Errorf("kernel type %q not registered", src.typeName)
	}

	tr, err := m.startTransport(typ)
	if err != nil {
		return nil, fmt.Errorf("forking kernel %q: %w", typ.Name, err)
	}
	fork := newSession(uuid.NewString(), typ.Name, src.language, typ.Tags, typ.Fork, tr)

	names, err := src.List()
	if err != nil {
		fork.Shutdown()
		return nil, fmt.Errorf("listing variables of %s: %w", src.id, err)
	}
	for _, name := range names {
		value, ok, err := src.Get(name)
		if err != nil {
			fork.Shutdown()
			return nil, fmt.Errorf("copying %q: %w", name, err)
		}
		if !ok {
			continue
		}
		if err := fork.Set(name, value); err != nil {
			fork.Shutdown()
			return nil, fmt.Errorf("copying %q: %w", name, err)
		}
	}

	m.mu.Lock()
	m.sessions[fork.id] = fork
	m.mu.Unlock()
	return fork, nil
}

// Stop shuts down one session.
func (m *Manager) Stop(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		m.dropLocked(s)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}
	s.Shutdown()
	return nil
}

// Restart replaces a session with a fresh kernel of the same type.
func (m *Manager) Restart(sessionID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	typeName := s.typeName
	m.dropLocked(s)
	var typ Type
	found := false
	for _, t := range m.types {
		if t.Name == typeName {
			typ, found = t, true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return nil, fmt.Errorf("kernel type %q not registered", typeName)
	}
	fresh, err := m.startLocked(typ)
	m.mu.Unlock()
	s.Shutdown()
	return fresh, err
}

// ShutdownAll stops every session.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.byType = make(map[string]*Session)
	m.owners = make(map[string]owner)
	m.mirrored = make(map[string]map[string]string)
	m.tasks = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Shutdown()
	}
}
