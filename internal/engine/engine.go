// Package engine assembles the scripting stack: one callback
// registry, event bus, timer wheel, process manager, fetch client and
// interpreter runtime wired around a host loop.
package engine

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stratawm/strata/scripting/internal/callback"
	"github.com/stratawm/strata/scripting/internal/config"
	"github.com/stratawm/strata/scripting/internal/events"
	"github.com/stratawm/strata/scripting/internal/fetch"
	"github.com/stratawm/strata/scripting/internal/host"
	"github.com/stratawm/strata/scripting/internal/logging"
	"github.com/stratawm/strata/scripting/internal/monitoring"
	"github.com/stratawm/strata/scripting/internal/process"
	"github.com/stratawm/strata/scripting/internal/query"
	"github.com/stratawm/strata/scripting/internal/queue"
	"github.com/stratawm/strata/scripting/internal/script"
	"github.com/stratawm/strata/scripting/internal/timers"
	"github.com/stratawm/strata/scripting/internal/world"
)

// Engine owns every subsystem of one scripting instance.
type Engine struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics

	callbacks *callback.Registry
	bus       *events.Bus
	timers    *timers.Manager
	ioEvents  *queue.Events
	deferred  *queue.Deferred
	dispatch  *query.Dispatcher
	procs     *process.Manager
	fetcher   *fetch.Client
	runtime   *script.Runtime
}

// New wires the stack. sched is the host's idle scheduler and source
// its state snapshotter; both come from the embedding compositor (or
// host.Loop in scriptd and tests).
func New(cfg *config.Config, sched host.Scheduler, source world.Source, metrics *monitoring.Metrics, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewNop()
	}

	e := &Engine{
		logger:    logger,
		metrics:   metrics,
		callbacks: callback.NewRegistry(),
		bus:       events.NewBus(logger),
		timers:    timers.NewManager(),
		ioEvents:  queue.NewEvents(),
		deferred:  queue.NewDeferred(cfg.Queue.DeferredCapacity, cfg.Queue.DeferredPerTick),
		dispatch:  query.NewDispatcher(sched, source, metrics, logger),
	}
	// Counted per drop, logged at most once a second.
	dropWarn := &rate.Sometimes{First: 1, Interval: time.Second}
	e.deferred.OnDrop(func() {
		dropWarn.Do(func() {
			logger.Warn("deferred queue full, dropping oldest task",
				zap.Uint64("dropped_total", e.deferred.Dropped()))
		})
	})

	e.procs = process.NewManager(cfg.Process, e.ioEvents, metrics, logger)
	e.fetcher = fetch.New(cfg.Fetch, e.ioEvents, metrics, logger)
	e.runtime = script.New(cfg.Script, script.Deps{
		Callbacks:  e.callbacks,
		Bus:        e.bus,
		Timers:     e.timers,
		Processes:  e.procs,
		Fetch:      e.fetcher,
		Queue:      e.ioEvents,
		Deferred:   e.deferred,
		Dispatcher: e.dispatch,
		Source:     source,
		Metrics:    metrics,
		Logger:     logger,
	})
	return e
}

// Runtime returns the interpreter runtime.
func (e *Engine) Runtime() *script.Runtime { return e.runtime }

// Bus returns the event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Processes returns the child process manager.
func (e *Engine) Processes() *process.Manager { return e.procs }

// Metrics returns the metrics collector.
func (e *Engine) Metrics() *monitoring.Metrics { return e.metrics }

// Close shuts the stack down: children are terminated first so their
// exit events cannot arrive after the interpreter is gone, then the
// runtime stops its executor and closes the state.
func (e *Engine) Close() {
	e.procs.StopAll()
	e.runtime.Close()
}
