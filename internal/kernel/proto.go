package kernel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// request is one protocol message to a kernel.
type request struct {
	ID   string          `json:"id"`
	Op   string          `json:"op"` // execute, get, set, list, interrupt, fork
	Code string          `json:"code,omitempty"`
	Name string          `json:"name,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// response is one protocol message from a kernel. A kernel announces
// readiness with {"ready":true} before accepting requests.
type response struct {
	ID      string            `json:"id"`
	Ready   bool              `json:"ready,omitempty"`
	Outputs []json.RawMessage `json:"outputs,omitempty"`
	Errors  []string          `json:"errors,omitempty"`
	Value   json.RawMessage   `json:"value,omitempty"`
	Found   bool              `json:"found,omitempty"`
	Names   []string          `json:"names,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// transport abstracts the kernel connection so tests can substitute an
// in-memory kernel.
type transport interface {
	send(req request) error
	recv() (response, error)
	// interrupt asks the kernel to abort the running execution.
	interrupt() error
	close() error
}

// procTransport speaks the protocol to a child process over stdio.
type procTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *json.Encoder
	dec    *json.Decoder
	reader *bufio.Reader
}

// startProc launches the kernel command and waits for the readiness
// marker.
func startProc(command []string, readyTimeout time.Duration) (*procTransport, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty kernel command")
	}
	cmd := exec.Command(command[0], command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening kernel stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening kernel stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting kernel %q: %w", command[0], err)
	}

	reader := bufio.NewReader(stdout)
	tr := &procTransport{
		cmd:    cmd,
		stdin:  stdin,
		enc:    json.NewEncoder(stdin),
		dec:    json.NewDecoder(reader),
		reader: reader,
	}

	readyCh := make(chan error, 1)
	go func() {
		resp, err := tr.recv()
		if err != nil {
			readyCh <- fmt.Errorf("reading readiness marker: %w", err)
			return
		}
		if !resp.Ready {
			readyCh <- fmt.Errorf("kernel sent %q before readiness marker", resp.ID)
			return
		}
		readyCh <- nil
	}()
	select {
	case err := <-readyCh:
		if err != nil {
			tr.close()
			return nil, err
		}
	case <-time.After(readyTimeout):
		tr.close()
		return nil, fmt.Errorf("kernel %q not ready after %s", command[0], readyTimeout)
	}
	return tr, nil
}

func (t *procTransport) send(req request) error {
	return t.enc.Encode(req)
}

func (t *procTransport) recv() (response, error) {
	var resp response
	if err := t.dec.Decode(&resp); err != nil {
		return response{}, err
	}
	return resp, nil
}

// interrupt signals the process; kernels trap SIGINT and abort the
// running execution, replying with an error response.
func (t *procTransport) interrupt() error {
	if t.cmd.Process == nil {
		return fmt.Errorf("kernel process not running")
	}
	return t.cmd.Process.Signal(syscall.SIGINT)
}

func (t *procTransport) close() error {
	t.stdin.Close()
	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	return t.cmd.Wait()
}
