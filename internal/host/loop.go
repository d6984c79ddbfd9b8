package host

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stratawm/strata/scripting/internal/logging"
)

// Loop is a single-goroutine refresh loop. Each cycle runs pending
// idle tasks first, then the tick hook (queue drains, due timers).
// Between cycles it sleeps until the interval elapses or something
// wakes it.
//
// Inside the compositor the real render loop plays this role; Loop
// exists so scriptd and the tests have one with the same contract.
type Loop struct {
	logger   *logging.Logger
	interval time.Duration

	mu   sync.Mutex
	idle []func()

	hook func()

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// NewLoop creates a loop ticking at the given interval.
func NewLoop(interval time.Duration, logger *logging.Logger) *Loop {
	if interval <= 0 {
		interval = 8 * time.Millisecond
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Loop{
		logger:   logger.Named("loop"),
		interval: interval,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// OnTick sets the per-cycle hook. Must be called before Run.
func (l *Loop) OnTick(hook func()) {
	l.hook = hook
}

// RunOnIdle schedules fn to run on the loop goroutine during the next
// cycle's idle phase. Safe from any goroutine; wakes a sleeping loop.
func (l *Loop) RunOnIdle(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.idle = append(l.idle, fn)
	l.mu.Unlock()
	l.Wake()
}

// Wake forces the next cycle to start immediately.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drives the loop until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		l.runIdle()
		if l.hook != nil {
			l.safeRun(l.hook)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		case <-ticker.C:
		}
	}
}

// Stop terminates Run. Idempotent.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Tick runs one cycle synchronously on the caller's goroutine. Tests
// drive the loop deterministically with this instead of Run.
func (l *Loop) Tick() {
	l.runIdle()
	if l.hook != nil {
		l.safeRun(l.hook)
	}
}

func (l *Loop) runIdle() {
	l.mu.Lock()
	tasks := l.idle
	l.idle = nil
	l.mu.Unlock()

	for _, fn := range tasks {
		l.safeRun(fn)
	}
}

// safeRun isolates panics so one bad task cannot take down the loop.
func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
