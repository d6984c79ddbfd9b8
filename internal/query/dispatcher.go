package query

import (
	"errors"
	"sync"

	"github.com/stratawm/strata/scripting/internal/host"
	"github.com/stratawm/strata/scripting/internal/logging"
	"github.com/stratawm/strata/scripting/internal/monitoring"
	"github.com/stratawm/strata/scripting/internal/world"
)

var (
	// ErrClosed marks queries issued after runtime shutdown began.
	ErrClosed = errors.New("query: dispatcher closed")

	// ErrWouldDeadlock marks a live-state query from an invocation
	// the host is synchronously waiting on. Blocking there would
	// leave host and script waiting on each other; such invocations
	// must use their snapshot instead.
	ErrWouldDeadlock = errors.New("query: live-state query while host is waiting on this invocation")
)

// Ctx describes the execution context of one script invocation. The
// executor sets it before the invocation and clears it after,
// including on error paths.
type Ctx struct {
	// InEvent is true inside an event handler. Queries then read the
	// snapshot captured at emission time.
	InEvent bool
	// Snap is the snapshot captured before the event's first handler.
	Snap *world.Snapshot
	// HostSync is true when the host loop is blocked waiting for
	// this invocation to finish, which forbids the idle-reply path.
	HostSync bool
}

// Dispatcher serves state queries over two paths. In event context it
// answers from the pre-captured snapshot with no cross-goroutine
// work. Anywhere else it schedules a one-shot read of live state on
// the host's idle phase and blocks the calling goroutine (the
// executor) on a reply channel; this is safe precisely because those
// invocations were submitted without the host waiting on them.
//
// A snapshot answer reflects the moment its event was emitted, not
// mutations made since, including by the running handler itself.
// Scripts get an atomic point-in-time view, never a half-updated one.
type Dispatcher struct {
	sched   host.Scheduler
	source  world.Source
	metrics *monitoring.Metrics
	logger  *logging.Logger

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewDispatcher creates a dispatcher reading live state from source
// via sched's idle phase.
func NewDispatcher(sched host.Scheduler, source world.Source, metrics *monitoring.Metrics, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		sched:   sched,
		source:  source,
		metrics: metrics,
		logger:  logger.Named("query"),
		done:    make(chan struct{}),
	}
}

// Close unblocks pending live-state queries with ErrClosed and fails
// all future ones. Called during runtime shutdown, after which the
// host loop stops answering.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.done)
	}
}

// Snapshot resolves the state view for the current invocation
// context. Invocations that carry a snapshot answer from it;
// host-synchronous invocations without one are refused rather than
// deadlocked; everything else reads live state through the idle path.
func (d *Dispatcher) Snapshot(ctx *Ctx) (*world.Snapshot, error) {
	if ctx != nil && ctx.Snap != nil && (ctx.InEvent || ctx.HostSync) {
		return ctx.Snap, nil
	}
	if ctx != nil && ctx.HostSync {
		return nil, ErrWouldDeadlock
	}
	return d.live()
}

// live schedules a one-shot snapshot on the host idle phase and
// blocks until the reply arrives.
func (d *Dispatcher) live() (*world.Snapshot, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.mu.Unlock()

	reply := make(chan *world.Snapshot, 1)
	d.sched.RunOnIdle(func() {
		reply <- d.source.Snapshot()
	})

	select {
	case snap := <-reply:
		if snap == nil {
			return nil, errors.New("query: source returned no snapshot")
		}
		return snap, nil
	case <-d.done:
		return nil, ErrClosed
	}
}

// Windows returns all mapped windows.
func (d *Dispatcher) Windows(ctx *Ctx) ([]world.Window, error) {
	d.record("windows")
	snap, err := d.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Windows, nil
}

// Workspaces returns all workspaces.
func (d *Dispatcher) Workspaces(ctx *Ctx) ([]world.Workspace, error) {
	d.record("workspaces")
	snap, err := d.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Workspaces, nil
}

// Outputs returns all connected outputs.
func (d *Dispatcher) Outputs(ctx *Ctx) ([]world.Output, error) {
	d.record("outputs")
	snap, err := d.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Outputs, nil
}

// FocusedWindow returns the focused window, or nil when none has
// focus.
func (d *Dispatcher) FocusedWindow(ctx *Ctx) (*world.Window, error) {
	d.record("focused_window")
	snap, err := d.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Focused, nil
}

// CursorPosition returns the pointer position, or nil when no pointer
// exists.
func (d *Dispatcher) CursorPosition(ctx *Ctx) (*world.Cursor, error) {
	d.record("cursor_position")
	snap, err := d.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Cursor, nil
}

// ReservedSpace returns the reserved edges of the named output. The
// second result is false when the output does not exist.
func (d *Dispatcher) ReservedSpace(ctx *Ctx, output string) (world.Reserved, bool, error) {
	d.record("reserved_space")
	snap, err := d.Snapshot(ctx)
	if err != nil {
		return world.Reserved{}, false, err
	}
	out := snap.Output(output)
	if out == nil {
		return world.Reserved{}, false, nil
	}
	return out.Reserved, true, nil
}

// FocusMode returns the compositor's focus-assignment mode.
func (d *Dispatcher) FocusMode(ctx *Ctx) (world.FocusMode, error) {
	d.record("focus_mode")
	snap, err := d.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return snap.FocusMode, nil
}

func (d *Dispatcher) record(path string) {
	if d.metrics != nil {
		d.metrics.RecordQuery(path)
	}
}
