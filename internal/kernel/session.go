package kernel

import (
	"encoding/json"
	"fmt"
	"sync"

	"weave/internal/node"
)

// SessionStatus is the lifecycle of one kernel process.
type SessionStatus string

const (
	SessionStarting SessionStatus = "Starting"
	SessionIdle     SessionStatus = "Idle"
	SessionBusy     SessionStatus = "Busy"
	SessionStopped  SessionStatus = "Stopped"
	SessionFailed   SessionStatus = "Failed"
)

// Session is one running kernel and its FIFO task queue. A single worker
// goroutine drains the queue, so at most one execution runs per kernel
// and queued tasks observe the side effects of earlier ones.
type Session struct {
	id       string
	typeName string
	language string
	tags     []string
	canFork  bool

	tr transport
	// ioMu serializes protocol exchanges; get/set/list calls issued
	// between tasks must not interleave with a running execution.
	ioMu   sync.Mutex
	reqSeq int

	mu       sync.Mutex
	status   SessionStatus
	queue    []*Task
	executed int
	wake     chan struct{}
	stop     chan struct{}
	stopped  sync.Once
}

func newSession(id, typeName, language string, tags []string, canFork bool, tr transport) *Session {
	s := &Session{
		id:       id,
		typeName: typeName,
		language: language,
		tags:     tags,
		canFork:  canFork,
		tr:       tr,
		status:   SessionIdle,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	go s.work()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Language returns the kernel's language.
func (s *Session) Language() string { return s.language }

// Status returns the session's current status.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Executed returns how many tasks this session has run to completion,
// successfully or not. Cancelled-while-queued tasks do not count.
func (s *Session) Executed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}

// Pending returns the number of queued tasks.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Enqueue appends a task to the FIFO queue. It fails when the session
// is no longer accepting work.
func (s *Session) Enqueue(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == SessionStopped || s.status == SessionFailed {
		return fmt.Errorf("session %s is %s", s.id, s.status)
	}
	s.queue = append(s.queue, t)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Interrupt asks the kernel to abort the currently running execution.
// Queued tasks are unaffected.
func (s *Session) Interrupt() error {
	return s.tr.interrupt()
}

// Shutdown stops the worker and kills the kernel process. Queued tasks
// are cancelled.
func (s *Session) Shutdown() {
	s.stopped.Do(func() { close(s.stop) })

	s.mu.Lock()
	if s.status != SessionFailed {
		s.status = SessionStopped
	}
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, t := range pending {
		t.Cancel()
	}
	s.tr.close()
}

func (s *Session) work() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
		for {
			t := s.pop()
			if t == nil {
				break
			}
			if !t.Start() {
				// Cancelled while queued.
				continue
			}
			s.run(t)
		}
	}
}

func (s *Session) pop() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 || s.status == SessionStopped || s.status == SessionFailed {
		return nil
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	s.status = SessionBusy
	return t
}

func (s *Session) run(t *Task) {
	resp, err := s.call(request{Op: "execute", Code: t.Code})

	s.mu.Lock()
	s.executed++
	if s.status == SessionBusy {
		s.status = SessionIdle
	}
	s.mu.Unlock()

	if err != nil {
		if resp.Error != "" {
			// The kernel itself replied, so the process is alive. An
			// interrupted or rejected execution settles only this task;
			// queued siblings still run.
			t.Fail(&TaskError{Reason: ReasonKernelProtocolError, Message: resp.Error})
			return
		}
		s.failKernel(t, err)
		return
	}
	result := &Result{Errors: resp.Errors}
	for _, raw := range resp.Outputs {
		n, err := node.FromJSON(raw)
		if err != nil {
			t.Fail(&TaskError{Reason: ReasonKernelProtocolError, Message: fmt.Sprintf("decoding output: %v", err)})
			return
		}
		result.Outputs = append(result.Outputs, n)
	}
	t.Succeed(result)
}

// failKernel marks the session failed and fails the given task plus all
// queued tasks; a dead kernel cannot serve any of them.
func (s *Session) failKernel(t *Task, cause error) {
	s.mu.Lock()
	s.status = SessionFailed
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	err := &TaskError{Reason: ReasonKernelUnavailable, Message: cause.Error()}
	if t != nil {
		t.Fail(err)
	}
	for _, qt := range pending {
		qt.Fail(err)
	}
	s.tr.close()
}

// call performs one request/response exchange under the io mutex.
func (s *Session) call(req request) (response, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	s.reqSeq++
	req.ID = fmt.Sprintf("%s-%d", s.id, s.reqSeq)
	if err := s.tr.send(req); err != nil {
		return response{}, fmt.Errorf("sending %s: %w", req.Op, err)
	}
	resp, err := s.tr.recv()
	if err != nil {
		return response{}, fmt.Errorf("reading %s response: %w", req.Op, err)
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("kernel error: %s", resp.Error)
	}
	return resp, nil
}

// Get fetches a variable's value from the kernel. The second return is
// false when the variable is not defined.
func (s *Session) Get(name string) (node.Node, bool, error) {
	resp, err := s.call(request{Op: "get", Name: name})
	if err != nil {
		return node.Node{}, false, err
	}
	if !resp.Found {
		return node.Node{}, false, nil
	}
	n, err := node.FromJSON(resp.Value)
	if err != nil {
		return node.Node{}, false, fmt.Errorf("decoding %q: %w", name, err)
	}
	return n, true, nil
}

// Set defines a variable in the kernel.
func (s *Session) Set(name string, value node.Node) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", name, err)
	}
	_, err = s.call(request{Op: "set", Name: name, Value: raw})
	return err
}

// List returns the names of variables defined in the kernel.
func (s *Session) List() ([]string, error) {
	resp, err := s.call(request{Op: "list"})
	if err != nil {
		return nil, err
	}
	return resp.Names, nil
}
