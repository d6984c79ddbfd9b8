package process

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stratawm/strata/scripting/internal/callback"
	"github.com/stratawm/strata/scripting/internal/config"
	"github.com/stratawm/strata/scripting/internal/logging"
	"github.com/stratawm/strata/scripting/internal/monitoring"
	"github.com/stratawm/strata/scripting/internal/queue"
)

// Manager spawns and tracks child processes. Every observation a
// child produces (a line, a chunk, the exit result) is pushed onto
// the shared callback queue; nothing here ever invokes script code.
type Manager struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics
	queue   *queue.Events
	limiter *rate.Limiter

	chunkSize int
	grace     time.Duration

	mu    sync.Mutex
	procs map[int]*Proc
}

// NewManager creates a process manager pushing callback events onto q.
func NewManager(cfg config.ProcessConfig, q *queue.Events, metrics *monitoring.Metrics, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewNop()
	}
	return &Manager{
		logger:    logger.Named("process"),
		metrics:   metrics,
		queue:     q,
		limiter:   rate.NewLimiter(rate.Limit(cfg.SpawnPerSecond), cfg.SpawnBurst),
		chunkSize: cfg.ChunkSize,
		grace:     time.Duration(cfg.KillGraceMS) * time.Millisecond,
		procs:     make(map[int]*Proc),
	}
}

// Spawn starts argv[0] with the given options and begins its worker.
// The handle is always returned; callers that detach a child may
// simply drop it. All failures are returned, never panicked.
func (m *Manager) Spawn(argv []string, opts SpawnOptions) (*Proc, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("empty command")
	}
	if !m.limiter.Allow() {
		m.metrics.IncSpawnsFailed()
		return nil, fmt.Errorf("spawn rate limit exceeded")
	}
	if err := opts.validate(); err != nil {
		m.metrics.IncSpawnsFailed()
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Cwd
	cmd.Env = opts.environment()
	if opts.Detach {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	}

	p := &Proc{
		id:       uuid.NewString(),
		opts:     opts,
		cmd:      cmd,
		exitDone: make(chan struct{}),
		grace:    m.grace,
	}

	var stdout, stderr io.ReadCloser
	var stdin io.WriteCloser
	var err error

	if opts.PTY {
		p.ptmx, err = pty.StartWithSize(cmd, &pty.Winsize{
			Cols: uint16(opts.PTYCols),
			Rows: uint16(opts.PTYRows),
		})
		if err != nil {
			m.metrics.IncSpawnsFailed()
			return nil, fmt.Errorf("start pty: %w", err)
		}
	} else {
		if opts.wantsStdout() {
			if stdout, err = cmd.StdoutPipe(); err != nil {
				m.metrics.IncSpawnsFailed()
				return nil, err
			}
		}
		if opts.wantsStderr() {
			if stderr, err = cmd.StderrPipe(); err != nil {
				m.metrics.IncSpawnsFailed()
				return nil, err
			}
		}
		switch opts.Stdin {
		case StdinPipe, StdinData:
			if stdin, err = cmd.StdinPipe(); err != nil {
				m.metrics.IncSpawnsFailed()
				return nil, err
			}
		}
		if err := cmd.Start(); err != nil {
			m.metrics.IncSpawnsFailed()
			return nil, fmt.Errorf("start %s: %w", argv[0], err)
		}
	}

	p.pid = cmd.Process.Pid
	if stdin != nil || opts.PTY && opts.Stdin != StdinClosed {
		p.stdinCh = make(chan stdinCmd, 64)
	}

	m.mu.Lock()
	m.procs[p.pid] = p
	m.mu.Unlock()
	m.metrics.IncSpawns()
	m.metrics.SetProcessesActive(m.count())

	m.logger.Debug("spawned",
		zap.String("spawn_id", p.id),
		zap.Int("pid", p.pid),
		zap.String("cmd", strings.Join(argv, " ")),
		zap.Bool("pty", opts.PTY),
		zap.Bool("detach", opts.Detach))

	go m.worker(p, stdout, stderr, stdin)
	return p, nil
}

// Get looks up a tracked process by PID.
func (m *Manager) Get(pid int) (*Proc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[pid]
	return p, ok
}

// Count returns the number of children that have not exited.
func (m *Manager) Count() int { return m.count() }

// StopAll requests graceful termination of every tracked child and
// waits up to the grace period plus a margin for them to exit. Used
// at shutdown; detached children are left running in their own
// sessions.
func (m *Manager) StopAll() {
	m.mu.Lock()
	procs := make([]*Proc, 0, len(m.procs))
	for _, p := range m.procs {
		if p.opts.Detach {
			continue
		}
		procs = append(procs, p)
	}
	m.mu.Unlock()

	for _, p := range procs {
		p.Stop()
	}
	deadline := time.After(m.grace + 500*time.Millisecond)
	for _, p := range procs {
		select {
		case <-p.exitDone:
		case <-deadline:
			return
		}
	}
}

func (m *Manager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.procs)
}

// worker owns all blocking I/O for one child: it starts the stream
// readers, drains the stdin command channel, waits for exit, and
// pushes the exit event after every stream event. Panics surface as
// an exit event with an error, never to the host.
func (m *Manager) worker(p *Proc, stdout, stderr io.ReadCloser, stdin io.WriteCloser) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("worker panic",
				zap.Int("pid", p.pid), zap.Any("panic", r))
			p.finish(&ExitResult{PID: p.pid, Code: -1, Err: fmt.Sprintf("worker panic: %v", r)})
			m.reap(p)
		}
	}()

	var wg sync.WaitGroup
	if p.ptmx != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.readStream(p, p.ptmx, Stdout, p.opts.StdoutCB, p.opts.CaptureStdout)
		}()
		if p.stdinCh != nil {
			// The pty master stays open for the reader, so a close
			// command only stops accepting writes.
			go m.stdinLoop(p, p.ptmx, false)
		}
	} else {
		if stdout != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.readStream(p, stdout, Stdout, p.opts.StdoutCB, p.opts.CaptureStdout)
			}()
		}
		if stderr != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.readStream(p, stderr, Stderr, p.opts.StderrCB, p.opts.CaptureStderr)
			}()
		}
		if stdin != nil {
			go m.stdinLoop(p, stdin, true)
		}
	}
	if p.stdinCh != nil && p.opts.Stdin == StdinData {
		p.stdinCh <- stdinCmd{data: []byte(p.opts.StdinData)}
		p.stdinCh <- stdinCmd{close: true}
	}

	// Readers must drain before Wait closes the pipes under them.
	wg.Wait()
	err := p.cmd.Wait()
	if p.ptmx != nil {
		p.ptmx.Close()
	}

	res := exitResultFrom(p, err)
	p.finish(res)
	m.reap(p)

	if res.Signaled() {
		m.metrics.RecordKill(res.SignalName())
	}
	m.logger.Debug("exited",
		zap.String("spawn_id", p.id),
		zap.Int("pid", p.pid),
		zap.Int("code", res.Code),
		zap.Int("signal", res.Signal))

	// The exit event doubles as the release notice for stream
	// callbacks, so it is pushed whenever the spawn registered any.
	if p.opts.ExitCB != callback.None ||
		p.opts.StdoutCB != callback.None || p.opts.StderrCB != callback.None {
		m.queue.Push(queue.Event{Callback: p.opts.ExitCB, Payload: res})
	}
}

func (m *Manager) reap(p *Proc) {
	m.mu.Lock()
	delete(m.procs, p.pid)
	m.mu.Unlock()
	m.metrics.SetProcessesActive(m.count())
}

// readStream pumps one output stream until EOF, pushing a callback
// event per line or chunk and feeding the capture buffer. A pty
// master returns EIO when the child side closes; that is EOF here.
func (m *Manager) readStream(p *Proc, r io.Reader, stream Stream, cb callback.ID, capture bool) {
	buf := p.captureFor(stream)
	if p.opts.Text {
		br := bufio.NewReaderSize(r, m.chunkSize)
		for {
			line, err := br.ReadString('\n')
			if len(line) > 0 {
				if capture {
					buf.WriteString(line)
				}
				if cb != callback.None {
					m.queue.Push(queue.Event{Callback: cb, Payload: &Output{
						PID:    p.pid,
						Stream: stream,
						Data:   strings.TrimRight(line, "\n"),
					}})
				}
			}
			if err != nil {
				return
			}
		}
	}

	chunk := make([]byte, m.chunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if capture {
				buf.Write(chunk[:n])
			}
			if cb != callback.None {
				m.queue.Push(queue.Event{Callback: cb, Payload: &Output{
					PID:    p.pid,
					Stream: stream,
					Data:   string(chunk[:n]),
					Binary: true,
				}})
			}
		}
		if err != nil {
			return
		}
	}
}

// stdinLoop drains the stdin command channel. Write errors are
// logged once and further writes dropped so senders never stall.
func (m *Manager) stdinLoop(p *Proc, w io.Writer, closeOnDone bool) {
	var failed bool
	for {
		select {
		case c := <-p.stdinCh:
			if c.close {
				if closeOnDone {
					if wc, ok := w.(io.WriteCloser); ok {
						wc.Close()
					}
				}
				return
			}
			if failed {
				continue
			}
			if _, err := w.Write(c.data); err != nil {
				failed = true
				m.logger.Warn("stdin write failed",
					zap.Int("pid", p.pid), zap.Error(err))
			}
		case <-p.exitDone:
			return
		}
	}
}

func (p *Proc) captureFor(stream Stream) *bytes.Buffer {
	if stream == Stderr {
		return &p.stderrBuf
	}
	return &p.stdoutBuf
}
