package process

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Stream tags which output stream an event came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Output is the payload of one streaming callback event: a line in
// text mode, a raw chunk otherwise.
type Output struct {
	PID    int
	Stream Stream
	Data   string
	Binary bool
}

// ExitResult is the payload of the exit callback and the value
// returned by Wait. Code is -1 when the child died of a signal.
type ExitResult struct {
	PID    int
	Code   int
	Signal int
	Stdout string
	Stderr string
	Err    string
}

// Signaled reports whether the child was terminated by a signal.
func (r *ExitResult) Signaled() bool { return r.Signal != 0 }

// SignalName returns the conventional name of the terminating
// signal, or "" for a clean exit.
func (r *ExitResult) SignalName() string {
	for name, sig := range signals {
		if int(sig) == r.Signal {
			return name
		}
	}
	if r.Signal == 0 {
		return ""
	}
	return fmt.Sprintf("SIG%d", r.Signal)
}

var signals = map[string]syscall.Signal{
	"HUP":   syscall.SIGHUP,
	"INT":   syscall.SIGINT,
	"QUIT":  syscall.SIGQUIT,
	"KILL":  syscall.SIGKILL,
	"USR1":  syscall.SIGUSR1,
	"USR2":  syscall.SIGUSR2,
	"TERM":  syscall.SIGTERM,
	"CONT":  syscall.SIGCONT,
	"STOP":  syscall.SIGSTOP,
	"WINCH": syscall.SIGWINCH,
}

// ParseSignal resolves a signal name ("TERM", "SIGTERM") or number.
func ParseSignal(name string) (syscall.Signal, error) {
	upper := strings.TrimPrefix(strings.ToUpper(name), "SIG")
	if sig, ok := signals[upper]; ok {
		return sig, nil
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}

type stdinCmd struct {
	data  []byte
	close bool
}

// Proc is one tracked child process. All blocking I/O happens on its
// worker goroutines; script-facing methods only signal, poll, or
// enqueue.
type Proc struct {
	id   string
	pid  int
	opts SpawnOptions

	cmd  *exec.Cmd
	ptmx *os.File // nil unless PTY

	stdinCh chan stdinCmd

	closing  atomic.Bool
	escalate sync.Once

	stdoutBuf bytes.Buffer
	stderrBuf bytes.Buffer

	exitOnce sync.Once
	exitDone chan struct{}
	result   *ExitResult

	grace time.Duration
}

// PID returns the OS process ID.
func (p *Proc) PID() int { return p.pid }

// Done is closed once the exit result is available.
func (p *Proc) Done() <-chan struct{} { return p.exitDone }

// Result returns the exit result, or nil while the child runs.
func (p *Proc) Result() *ExitResult {
	select {
	case <-p.exitDone:
		return p.result
	default:
		return nil
	}
}

// IsClosing reports whether termination has been requested or the
// child has already exited.
func (p *Proc) IsClosing() bool {
	select {
	case <-p.exitDone:
		return true
	default:
	}
	return p.closing.Load()
}

// Write queues data for the child's stdin. Fails when stdin is not a
// pipe, the child exited, or the write backlog is full; it never
// blocks the caller.
func (p *Proc) Write(data []byte) error {
	if p.stdinCh == nil {
		return fmt.Errorf("stdin is not a pipe")
	}
	select {
	case <-p.exitDone:
		return fmt.Errorf("process %d already exited", p.pid)
	default:
	}
	select {
	case p.stdinCh <- stdinCmd{data: data}:
		return nil
	default:
		return fmt.Errorf("stdin backlog full for process %d", p.pid)
	}
}

// CloseStdin closes the child's stdin after pending writes drain.
func (p *Proc) CloseStdin() error {
	if p.stdinCh == nil {
		return fmt.Errorf("stdin is not a pipe")
	}
	select {
	case p.stdinCh <- stdinCmd{close: true}:
		return nil
	case <-p.exitDone:
		return nil
	default:
		return fmt.Errorf("stdin backlog full for process %d", p.pid)
	}
}

// Kill sends sig to the child. Termination signals mark the process
// closing; control signals like USR1 or CONT leave its lifecycle
// state alone. Fails once the child has exited.
func (p *Proc) Kill(sig syscall.Signal) error {
	select {
	case <-p.exitDone:
		return fmt.Errorf("process %d already exited", p.pid)
	default:
	}
	switch sig {
	case syscall.SIGTERM, syscall.SIGKILL, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP:
		p.closing.Store(true)
	}
	return p.cmd.Process.Signal(sig)
}

// Stop requests graceful termination: SIGTERM now, SIGKILL if the
// child is still alive after the grace period. Returns immediately.
func (p *Proc) Stop() {
	p.escalate.Do(func() {
		p.closing.Store(true)
		select {
		case <-p.exitDone:
			return
		default:
		}
		p.cmd.Process.Signal(syscall.SIGTERM)
		go func() {
			select {
			case <-p.exitDone:
			case <-time.After(p.grace):
				p.cmd.Process.Signal(syscall.SIGKILL)
			}
		}()
	})
}

// Wait blocks until the child exits or the timeout elapses. A
// negative timeout waits forever. Returns nil while the child is
// still running; it never signals the child.
func (p *Proc) Wait(timeout time.Duration) *ExitResult {
	if timeout < 0 {
		<-p.exitDone
		return p.result
	}
	select {
	case <-p.exitDone:
		return p.result
	case <-time.After(timeout):
		return nil
	}
}

// Shutdown waits up to timeout for a natural exit, then escalates:
// SIGTERM, the grace period, SIGKILL. Always returns the final exit
// result, reporting the terminating signal when escalation fired.
func (p *Proc) Shutdown(timeout time.Duration) *ExitResult {
	if res := p.Wait(timeout); res != nil {
		return res
	}
	p.Stop()
	<-p.exitDone
	return p.result
}

// Resize changes the pseudo-terminal dimensions. Fails for non-PTY
// processes.
func (p *Proc) Resize(cols, rows int) error {
	if p.ptmx == nil {
		return fmt.Errorf("process %d has no pty", p.pid)
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

// finish records the exit result exactly once and releases waiters.
func (p *Proc) finish(res *ExitResult) {
	p.exitOnce.Do(func() {
		p.result = res
		close(p.exitDone)
	})
}

func exitResultFrom(p *Proc, err error) *ExitResult {
	res := &ExitResult{PID: p.pid}
	if p.opts.CaptureStdout {
		res.Stdout = p.stdoutBuf.String()
	}
	if p.opts.CaptureStderr {
		res.Stderr = p.stderrBuf.String()
	}
	state := p.cmd.ProcessState
	if state == nil {
		res.Code = -1
		if err != nil {
			res.Err = err.Error()
		}
		return res
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		res.Code = -1
		res.Signal = int(ws.Signal())
		return res
	}
	res.Code = state.ExitCode()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		res.Err = err.Error()
	}
	return res
}
