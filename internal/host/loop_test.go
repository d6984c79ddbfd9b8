package host

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTickRunsIdleBeforeHook(t *testing.T) {
	loop := NewLoop(time.Millisecond, nil)

	var order []string
	loop.OnTick(func() { order = append(order, "hook") })
	loop.RunOnIdle(func() { order = append(order, "idle") })

	loop.Tick()

	if len(order) != 2 || order[0] != "idle" || order[1] != "hook" {
		t.Errorf("order = %v, want [idle hook]", order)
	}
}

func TestRunOnIdleWakesSleepingLoop(t *testing.T) {
	// Long interval: only the wake can make this pass quickly.
	loop := NewLoop(time.Hour, nil)

	ran := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go loop.Run(ctx)

	// Give Run a moment to reach its sleep.
	time.Sleep(10 * time.Millisecond)
	loop.RunOnIdle(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("idle task never ran; wake lost")
	}
	loop.Stop()
}

func TestPanicInTaskDoesNotKillLoop(t *testing.T) {
	loop := NewLoop(time.Millisecond, nil)

	var after atomic.Bool
	loop.RunOnIdle(func() { panic("scripted disaster") })
	loop.RunOnIdle(func() { after.Store(true) })

	loop.Tick()

	if !after.Load() {
		t.Error("task after a panicking task did not run")
	}
}

func TestStopTerminatesRun(t *testing.T) {
	loop := NewLoop(time.Millisecond, nil)

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	loop.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	// Second Stop is a no-op
	loop.Stop()
}
