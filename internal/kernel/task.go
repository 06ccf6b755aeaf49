// Package kernel manages language kernel processes: their lifecycle, the
// per-kernel FIFO task queues, and variable mirroring between kernels.
//
// A kernel is an external process speaking a line-oriented JSON protocol
// on stdin/stdout (see proto.go). The Manager owns all sessions
// explicitly; there is no ambient global registry.
package kernel

import (
	"fmt"
	"sync"

	"weave/internal/node"
)

// TaskStatus is the state machine of one unit of work.
type TaskStatus string

const (
	// TaskScheduled means queued, not yet started.
	TaskScheduled TaskStatus = "Scheduled"
	TaskRunning   TaskStatus = "Running"
	TaskSucceeded TaskStatus = "Succeeded"
	TaskFailed    TaskStatus = "Failed"
	TaskCancelled TaskStatus = "Cancelled"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// ErrorReason classifies task failures.
type ErrorReason string

const (
	ReasonKernelUnavailable   ErrorReason = "KernelUnavailable"
	ReasonDependenciesFailed  ErrorReason = "DependenciesFailed"
	ReasonTimeout             ErrorReason = "Timeout"
	ReasonCancelled           ErrorReason = "Cancelled"
	ReasonKernelProtocolError ErrorReason = "KernelProtocolError"
)

// TaskError is the failure recorded on a task. One task's failure never
// aborts the session; it propagates only to the owning node's status.
type TaskError struct {
	Reason  ErrorReason
	Message string
}

func (e *TaskError) Error() string {
	if e.Message == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Result holds a completed execution's outputs.
type Result struct {
	Outputs []node.Node
	Errors  []string
}

// Task is one scheduled execution of a code node on a kernel.
type Task struct {
	// ID is the unique task id.
	ID string
	// NodeID is the document node this task executes.
	NodeID string
	// Language selects the kernel.
	Language string
	// Tags further constrain kernel selection.
	Tags []string
	// Code is the source to execute.
	Code string
	// Uses lists symbols the code reads; drives variable mirroring.
	Uses []string
	// Assigns lists symbols the code writes; drives ownership tracking.
	Assigns []string

	mu     sync.Mutex
	status TaskStatus
	result *Result
	err    *TaskError
	done   chan struct{}
}

// NewTask builds a Scheduled task.
func NewTask(id, nodeID, language, code string) *Task {
	return &Task{
		ID:       id,
		NodeID:   nodeID,
		Language: language,
		Code:     code,
		status:   TaskScheduled,
		done:     make(chan struct{}),
	}
}

// Status returns the current status.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Done is closed once the task reaches a terminal status.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the execution result, nil unless Succeeded.
func (t *Task) Result() *Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Err returns the recorded failure, nil unless Failed or Cancelled.
func (t *Task) Err() *TaskError {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Start transitions Scheduled -> Running. It returns false when the
// task was cancelled while queued, which tells the worker to skip it.
func (t *Task) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != TaskScheduled {
		return false
	}
	t.status = TaskRunning
	return true
}

// Succeed records the result and finishes the task.
func (t *Task) Succeed(r *Result) {
	t.finish(TaskSucceeded, r, nil)
}

// Fail records the error and finishes the task.
func (t *Task) Fail(err *TaskError) {
	t.finish(TaskFailed, nil, err)
}

// Cancel marks the task Cancelled unless it already finished. A task
// cancelled while Scheduled is skipped by its kernel's worker; a Running
// task's kernel-side execution needs a separate interrupt.
func (t *Task) Cancel() {
	t.finish(TaskCancelled, nil, &TaskError{Reason: ReasonCancelled})
}

func (t *Task) finish(status TaskStatus, r *Result, err *TaskError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = status
	t.result = r
	t.err = err
	close(t.done)
}
