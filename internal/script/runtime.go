package script

import (
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/stratawm/strata/scripting/internal/callback"
	"github.com/stratawm/strata/scripting/internal/config"
	"github.com/stratawm/strata/scripting/internal/events"
	"github.com/stratawm/strata/scripting/internal/fetch"
	"github.com/stratawm/strata/scripting/internal/limits"
	"github.com/stratawm/strata/scripting/internal/logging"
	"github.com/stratawm/strata/scripting/internal/monitoring"
	"github.com/stratawm/strata/scripting/internal/process"
	"github.com/stratawm/strata/scripting/internal/query"
	"github.com/stratawm/strata/scripting/internal/queue"
	"github.com/stratawm/strata/scripting/internal/timers"
	"github.com/stratawm/strata/scripting/internal/world"
)

// ErrClosed marks work submitted after the runtime shut down.
var ErrClosed = errors.New("script: runtime closed")

type task struct {
	fn  func(*lua.LState) error
	err chan error
}

// Deps wires the runtime to its collaborators. All fields except
// Logger and Metrics are required.
type Deps struct {
	Callbacks  *callback.Registry
	Bus        *events.Bus
	Timers     *timers.Manager
	Processes  *process.Manager
	Fetch      *fetch.Client
	Queue      *queue.Events
	Deferred   *queue.Deferred
	Dispatcher *query.Dispatcher
	Source     world.Source
	Metrics    *monitoring.Metrics
	Logger     *logging.Logger
}

// Runtime owns the interpreter. A single executor goroutine performs
// every touch of the Lua state; the host and the debug surfaces talk
// to it only through submitted closures. Script code consequently
// runs strictly serialized no matter how much I/O happens around it.
type Runtime struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics

	state     *lua.LState
	callbacks *callback.Registry
	bus       *events.Bus
	timers    *timers.Manager
	procs     *process.Manager
	fetcher   *fetch.Client
	ioEvents  *queue.Events
	deferred  *queue.Deferred
	dispatch  *query.Dispatcher
	source    world.Source

	invokeLimit limits.Limits
	loadLimit   limits.Limits

	// qctx is the context of the invocation currently on the
	// interpreter. Executor goroutine only.
	qctx *query.Ctx

	// procCBs maps a child PID to the callback IDs registered at its
	// spawn, released when the exit event is delivered. Executor
	// goroutine only.
	procCBs map[int][]callback.ID

	work     chan task
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// New builds the sandboxed state, registers the strata API and starts
// the executor.
func New(cfg config.ScriptConfig, deps Deps) *Runtime {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = monitoring.NewNop()
	}
	logger = logger.Named("script")

	r := &Runtime{
		logger:      logger,
		metrics:     metrics,
		state:       newState(logger),
		callbacks:   deps.Callbacks,
		bus:         deps.Bus,
		timers:      deps.Timers,
		procs:       deps.Processes,
		fetcher:     deps.Fetch,
		ioEvents:    deps.Queue,
		deferred:    deps.Deferred,
		dispatch:    deps.Dispatcher,
		source:      deps.Source,
		invokeLimit: limits.Limits{Timeout: cfg.Timeout()},
		loadLimit:   limits.Limits{Timeout: cfg.LoadTimeout()},
		procCBs:     make(map[int][]callback.ID),
		work:        make(chan task, 64),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	r.register()
	go r.run()
	return r
}

func (r *Runtime) run() {
	defer close(r.stopped)
	for {
		select {
		case <-r.done:
			return
		case t := <-r.work:
			err := r.safeRun(t.fn)
			if t.err != nil {
				t.err <- err
			}
		}
	}
}

func (r *Runtime) safeRun(fn func(*lua.LState) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("script task panic: %v", rec)
			r.logger.Error("task panic", zap.Any("panic", rec))
		}
	}()
	return fn(r.state)
}

// Do runs fn on the executor and waits for it. fn receives the one
// Lua state and must not retain it.
func (r *Runtime) Do(fn func(*lua.LState) error) error {
	t := task{fn: fn, err: make(chan error, 1)}
	select {
	case r.work <- t:
	case <-r.done:
		return ErrClosed
	}
	select {
	case err := <-t.err:
		return err
	case <-r.done:
		return ErrClosed
	}
}

// Close stops the executor and frees the interpreter. Pending live
// queries are unparked first so the executor can drain.
func (r *Runtime) Close() {
	r.stopOnce.Do(func() {
		r.dispatch.Close()
		close(r.done)
		<-r.stopped
		r.state.Close()
	})
}

// EmitHost emits a compositor event into script code and waits for
// every handler to finish. Callers are host-side: the snapshot they
// get captured here answers all state queries made by the handlers,
// so none of them can park on the host that is waiting right now.
func (r *Runtime) EmitHost(event string, payload any) (int, error) {
	snap := r.source.Snapshot()
	invoked := 0
	err := r.Do(func(L *lua.LState) error {
		lp := r.normalizePayload(L, ToLua(L, payload))
		invoked = r.emit(L, event, lp, payload, &query.Ctx{
			InEvent:  true,
			Snap:     snap,
			HostSync: true,
		})
		return nil
	})
	return invoked, err
}

// HostTick is the per-refresh-cycle hook: it drains the callback
// queue, fires due timers and runs a slice of deferred work. The work
// is handed to the executor without waiting on it, so the loop stays
// free to answer any live-state queries those callbacks make; they run
// as plain invocations, not under an event snapshot. Cheap when idle.
func (r *Runtime) HostTick() {
	r.metrics.TickUptime()
	r.metrics.ObserveQueueDepth(r.ioEvents.Len())

	hasIO := r.ioEvents.Len() > 0
	hasDeferred := r.deferred.Len() > 0
	next, armed := r.timers.NextDeadline()
	hasDue := armed && !next.After(time.Now())
	if !hasIO && !hasDeferred && !hasDue {
		return
	}

	t := task{fn: func(L *lua.LState) error {
		r.tick(L)
		return nil
	}}
	select {
	case r.work <- t:
	case <-r.done:
	default:
		// Executor saturated. Nothing has been drained yet, so the
		// pending work is still queued and the next tick picks it up.
	}
}

func (r *Runtime) tick(L *lua.LState) {
	for _, ev := range r.ioEvents.Drain() {
		r.deliver(L, ev)
	}

	for _, due := range r.timers.PopDue(time.Now()) {
		fn, ok := r.callbacks.Resolve(due.Callback)
		if !ok {
			continue
		}
		r.metrics.IncTimerFires()
		if err := r.invoke(L, fn, monitoring.KindTimer); err != nil {
			r.logger.Warn("timer callback failed",
				zap.Uint64("timer", uint64(due.Timer)), zap.Error(err))
		}
	}
	r.metrics.SetTimersActive(r.timers.Active())

	r.deferred.RunBatch()
}

// deliver resolves one queued callback event and invokes it. Exit
// and fetch results are one-shots; their callbacks are released
// after delivery.
func (r *Runtime) deliver(L *lua.LState, ev queue.Event) {
	// An exit result is also the release notice for every callback
	// the spawn registered; fetch callbacks are single-shot. Freeing
	// happens even when the callback itself is gone or was never set.
	defer func() {
		switch p := ev.Payload.(type) {
		case *process.ExitResult:
			for _, id := range r.procCBs[p.PID] {
				r.callbacks.Unregister(id)
			}
			delete(r.procCBs, p.PID)
		case *fetch.Result:
			r.callbacks.Unregister(ev.Callback)
		}
	}()

	fn, ok := r.callbacks.Resolve(ev.Callback)
	if !ok {
		return
	}

	var kind string
	var arg lua.LValue
	switch p := ev.Payload.(type) {
	case *process.Output:
		kind = monitoring.KindProcess
		arg = outputTable(L, p)
	case *process.ExitResult:
		kind = monitoring.KindProcess
		arg = exitTable(L, p)
	case *fetch.Result:
		kind = monitoring.KindFetch
		arg = fetchTable(L, p)
	default:
		kind = monitoring.KindProcess
		arg = ToLua(L, ev.Payload)
	}

	if err := r.invoke(L, fn, kind, arg); err != nil {
		r.logger.Warn("callback failed",
			zap.String("kind", kind), zap.Error(err))
	}
}

// emit runs every handler for event under the given context. The
// context is installed for the whole emission so nested queries and
// nested emits observe the same snapshot.
func (r *Runtime) emit(L *lua.LState, event string, payload *lua.LTable, goPayload any, ctx *query.Ctx) int {
	prev := r.qctx
	r.qctx = ctx
	defer func() { r.qctx = prev }()

	r.metrics.RecordEmit(event)
	invoked := r.bus.Emit(event, goPayload, func(reg events.Registration, _ any) error {
		fn, ok := r.callbacks.Resolve(reg.Callback)
		if !ok {
			return nil
		}
		err := r.invoke(L, fn, monitoring.KindEvent, payload)
		if reg.Once {
			r.callbacks.Unregister(reg.Callback)
		}
		return err
	})
	r.metrics.SetHandlersActive(r.bus.Len())
	return invoked
}

// emitScript implements emits originating in script code. Inside an
// invocation that carries a snapshot the emission reuses it; from
// async contexts (load, direct calls) it captures a fresh one through
// the live path.
func (r *Runtime) emitScript(L *lua.LState, event string, payload *lua.LTable) int {
	var ctx *query.Ctx
	if cur := r.qctx; cur != nil && cur.Snap != nil {
		ctx = &query.Ctx{InEvent: true, Snap: cur.Snap, HostSync: cur.HostSync}
	} else {
		snap, err := r.dispatch.Snapshot(r.qctx)
		if err != nil {
			snap = nil
		}
		ctx = &query.Ctx{InEvent: true, Snap: snap}
	}
	return r.emit(L, event, payload, FromLua(payload), ctx)
}

// invoke calls one script function under the invocation limit.
func (r *Runtime) invoke(L *lua.LState, fn *lua.LFunction, kind string, args ...lua.LValue) error {
	tm := monitoring.StartInvocation(r.metrics, kind)
	err := limits.Run(L, r.invokeLimit, func() error {
		L.Push(fn)
		for _, a := range args {
			L.Push(a)
		}
		return L.PCall(len(args), 0, nil)
	})
	tm.Stop(limits.IsTimeout(err), limits.IsScriptError(err))
	return err
}

// normalizePayload gives every handler a table: tables pass through,
// nil becomes an empty table and any other value is wrapped as
// {value = x}.
func (r *Runtime) normalizePayload(L *lua.LState, v lua.LValue) *lua.LTable {
	switch t := v.(type) {
	case *lua.LTable:
		return t
	case *lua.LNilType, nil:
		return L.NewTable()
	default:
		tbl := L.NewTable()
		L.SetField(tbl, "value", v)
		return tbl
	}
}

// Stats is a point-in-time view of runtime internals for the debug
// surface.
type Stats struct {
	Handlers  int      `json:"handlers"`
	Callbacks int      `json:"callbacks"`
	Timers    int      `json:"timers"`
	Processes int      `json:"processes"`
	QueueLen  int      `json:"queue_len"`
	Deferred  int      `json:"deferred"`
	Dropped   uint64   `json:"deferred_dropped"`
	Events    []string `json:"subscribed_events"`
}

// Snapshot of runtime counters. Safe from any goroutine.
func (r *Runtime) Stats() Stats {
	return Stats{
		Handlers:  r.bus.Len(),
		Callbacks: r.callbacks.Len(),
		Timers:    r.timers.Len(),
		Processes: r.procs.Count(),
		QueueLen:  r.ioEvents.Len(),
		Deferred:  r.deferred.Len(),
		Dropped:   r.deferred.Dropped(),
		Events:    r.bus.List(""),
	}
}
