package script

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/stratawm/strata/scripting/internal/callback"
	"github.com/stratawm/strata/scripting/internal/config"
	"github.com/stratawm/strata/scripting/internal/events"
	"github.com/stratawm/strata/scripting/internal/fetch"
	"github.com/stratawm/strata/scripting/internal/host"
	"github.com/stratawm/strata/scripting/internal/monitoring"
	"github.com/stratawm/strata/scripting/internal/process"
	"github.com/stratawm/strata/scripting/internal/query"
	"github.com/stratawm/strata/scripting/internal/queue"
	"github.com/stratawm/strata/scripting/internal/timers"
	"github.com/stratawm/strata/scripting/internal/world"
)

// stubSource serves snapshots the way the compositor would: a fresh
// deep copy per call.
type stubSource struct {
	mu   sync.Mutex
	snap *world.Snapshot
}

func newStubSource(snap *world.Snapshot) *stubSource {
	return &stubSource{snap: snap}
}

func (s *stubSource) Snapshot() *world.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

func (s *stubSource) set(snap *world.Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// asyncSched answers idle tasks from another goroutine the way the
// host loop's idle phase would.
type asyncSched struct{}

func (asyncSched) RunOnIdle(fn func()) { go fn() }

// forbidSched fails the test when the live path is taken. It still
// answers so a failing test does not also deadlock.
type forbidSched struct{ t *testing.T }

func (s forbidSched) RunOnIdle(fn func()) {
	s.t.Errorf("live-state query issued from a snapshot context")
	go fn()
}

func testSnap(windows int) *world.Snapshot {
	s := &world.Snapshot{
		FocusMode: world.FocusFollowsMouse,
		Cursor:    &world.Cursor{X: 640, Y: 360, Output: "DP-1"},
		Workspaces: []world.Workspace{
			{ID: 1, Name: "1", Output: "DP-1", Active: true, WindowCount: windows},
		},
		Outputs: []world.Output{
			{Name: "DP-1", Make: "Dell", Model: "U2720Q", Scale: 1.5, Refresh: 60,
				Geometry: world.Rect{Width: 3840, Height: 2160}, Focused: true,
				Reserved: world.Reserved{Top: 32}},
		},
	}
	for i := 0; i < windows; i++ {
		s.Windows = append(s.Windows, world.Window{
			ID:        uint64(i + 1),
			Title:     "win-" + strconv.Itoa(i+1),
			AppID:     "org.example.term",
			Workspace: "1",
			Output:    "DP-1",
			Geometry:  world.Rect{X: int32(i) * 100, Width: 800, Height: 600},
			Focused:   i == 0,
		})
	}
	if windows > 0 {
		f := s.Windows[0]
		s.Focused = &f
	}
	return s
}

func newRuntime(t *testing.T, sched host.Scheduler, src *stubSource, cfg config.ScriptConfig) *Runtime {
	t.Helper()
	metrics := monitoring.NewNop()
	q := queue.NewEvents()
	r := New(cfg, Deps{
		Callbacks: callback.NewRegistry(),
		Bus:       events.NewBus(nil),
		Timers:    timers.NewManager(),
		Processes: process.NewManager(config.ProcessConfig{
			KillGraceMS:    300,
			ChunkSize:      4096,
			SpawnPerSecond: 100,
			SpawnBurst:     100,
		}, q, metrics, nil),
		Fetch: fetch.New(config.FetchConfig{
			TimeoutMS: 5000,
			PerSecond: 100,
			Burst:     100,
		}, q, metrics, nil),
		Queue:      q,
		Deferred:   queue.NewDeferred(64, 16),
		Dispatcher: query.NewDispatcher(sched, src, metrics, nil),
		Source:     src,
		Metrics:    metrics,
	})
	t.Cleanup(r.Close)
	return r
}

// global reads a global as a plain Go value through the executor.
func global(t *testing.T, r *Runtime, name string) any {
	t.Helper()
	var out any
	require.NoError(t, r.Do(func(L *lua.LState) error {
		out = FromLua(L.GetGlobal(name))
		return nil
	}))
	return out
}

func tickUntil(t *testing.T, r *Runtime, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r.HostTick()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestEmitHostRunsHandlersInOrder(t *testing.T) {
	src := newStubSource(testSnap(1))
	r := newRuntime(t, forbidSched{t}, src, config.ScriptConfig{TimeoutMS: 1000})

	require.NoError(t, r.LoadString(`
		order = {}
		strata.event.on("window:focus", function(ev) order[#order+1] = "a:" .. ev.id end)
		strata.event.on("window:focus", function(ev) order[#order+1] = "b:" .. ev.id end)
		strata.event.on("window:blur", function(ev) order[#order+1] = "other" end)
	`))

	n, err := r.EmitHost("window:focus", map[string]any{"id": 7})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []any{"a:7", "b:7"}, global(t, r, "order"))
}

func TestOnceHandlerRunsOnceAndIsReleased(t *testing.T) {
	src := newStubSource(testSnap(1))
	r := newRuntime(t, forbidSched{t}, src, config.ScriptConfig{TimeoutMS: 1000})

	require.NoError(t, r.LoadString(`
		hits = 0
		strata.event.once("startup", function() hits = hits + 1 end)
	`))
	base := r.Stats().Callbacks

	for i := 0; i < 3; i++ {
		_, err := r.EmitHost("startup", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, float64(1), global(t, r, "hits"))
	assert.Equal(t, base-1, r.Stats().Callbacks)
	assert.Zero(t, r.Stats().Handlers)
}

func TestEmitHostNormalizesPayload(t *testing.T) {
	src := newStubSource(testSnap(1))
	r := newRuntime(t, forbidSched{t}, src, config.ScriptConfig{TimeoutMS: 1000})

	require.NoError(t, r.LoadString(`
		strata.event.on("scalar", function(ev) scalar = ev.value end)
		strata.event.on("empty", function(ev) empty_keys = next(ev) == nil end)
	`))

	_, err := r.EmitHost("scalar", 5)
	require.NoError(t, err)
	_, err = r.EmitHost("empty", nil)
	require.NoError(t, err)

	assert.Equal(t, float64(5), global(t, r, "scalar"))
	assert.Equal(t, true, global(t, r, "empty_keys"))
}

func TestHandlerQueriesAnswerFromEmissionSnapshot(t *testing.T) {
	src := newStubSource(testSnap(3))
	r := newRuntime(t, forbidSched{t}, src, config.ScriptConfig{TimeoutMS: 1000})

	require.NoError(t, r.LoadString(`
		strata.event.on("outer", function()
			outer_count = #strata.state.windows()
			outer_mode = strata.state.focus_mode()
			strata.event.emit("inner", {})
		end)
		strata.event.on("inner", function()
			inner_count = #strata.state.windows()
		end)
	`))

	n, err := r.EmitHost("outer", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, float64(3), global(t, r, "outer_count"))
	assert.Equal(t, "focus_follows_mouse", global(t, r, "outer_mode"))
	assert.Equal(t, float64(3), global(t, r, "inner_count"))
}

func TestEmissionSnapshotFrozenWhileSourceMoves(t *testing.T) {
	src := newStubSource(testSnap(2))
	r := newRuntime(t, forbidSched{t}, src, config.ScriptConfig{TimeoutMS: 2000})

	require.NoError(t, r.LoadString(`
		strata.event.on("vt:switch", function()
			strata.timer.wait(150)
			seen = #strata.state.windows()
		end)
	`))

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.EmitHost("vt:switch", nil)
	}()
	time.Sleep(40 * time.Millisecond)
	src.set(testSnap(5))
	<-done

	assert.Equal(t, float64(2), global(t, r, "seen"))
}

func TestLoadContextQueriesLiveState(t *testing.T) {
	src := newStubSource(testSnap(2))
	r := newRuntime(t, asyncSched{}, src, config.ScriptConfig{TimeoutMS: 1000})

	require.NoError(t, r.LoadString(`
		wins = strata.state.windows()
		n = #wins
		first_title = wins[1].title
		mode = strata.state.focus_mode()
		focused = strata.state.focused_window()
		cursor = strata.state.cursor_position()
		reserved = strata.state.reserved_space("DP-1")
		missing = strata.state.reserved_space("HDMI-9")
	`))

	assert.Equal(t, float64(2), global(t, r, "n"))
	assert.Equal(t, "win-1", global(t, r, "first_title"))
	assert.Equal(t, "focus_follows_mouse", global(t, r, "mode"))
	focused := global(t, r, "focused").(map[string]any)
	assert.Equal(t, "win-1", focused["title"])
	cursor := global(t, r, "cursor").(map[string]any)
	assert.Equal(t, float64(640), cursor["x"])
	reserved := global(t, r, "reserved").(map[string]any)
	assert.Equal(t, float64(32), reserved["top"])
	assert.Nil(t, global(t, r, "missing"))
}

func TestScriptEmitOutsideEventCapturesFreshSnapshot(t *testing.T) {
	src := newStubSource(testSnap(1))
	r := newRuntime(t, asyncSched{}, src, config.ScriptConfig{TimeoutMS: 1000})

	require.NoError(t, r.LoadString(`
		strata.event.on("boot", function() boot_count = #strata.state.windows() end)
	`))
	src.set(testSnap(4))
	require.NoError(t, r.LoadString(`count = strata.event.emit("boot", {})`))

	assert.Equal(t, float64(4), global(t, r, "boot_count"))
	assert.Equal(t, float64(1), global(t, r, "count"))
}

func TestRunawayHandlerIsInterruptedAndStateRecovers(t *testing.T) {
	src := newStubSource(testSnap(1))
	r := newRuntime(t, forbidSched{t}, src, config.ScriptConfig{TimeoutMS: 50})

	require.NoError(t, r.LoadString(`
		ran = {}
		strata.event.on("storm", function() while true do end end)
		strata.event.on("storm", function() ran[#ran+1] = "second" end)
	`))

	start := time.Now()
	n, err := r.EmitHost("storm", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []any{"second"}, global(t, r, "ran"))

	n, err = r.EmitHost("storm", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTimerFiresOnHostTick(t *testing.T) {
	src := newStubSource(testSnap(1))
	r := newRuntime(t, forbidSched{t}, src, config.ScriptConfig{TimeoutMS: 1000})

	require.NoError(t, r.LoadString(`
		fired = 0
		t0 = strata.timer.new_timer()
		t0:start(10, 0, function() fired = fired + 1 end)
	`))

	tickUntil(t, r, func() bool {
		return global(t, r, "fired") == float64(1)
	})

	// A fired one-shot stays allocated until close.
	assert.Equal(t, 1, r.Stats().Timers)
	require.NoError(t, r.LoadString(`t0:close()`))
	assert.Zero(t, r.Stats().Timers)
}

func TestRepeatingTimerFiresAgain(t *testing.T) {
	src := newStubSource(testSnap(1))
	r := newRuntime(t, forbidSched{t}, src, config.ScriptConfig{TimeoutMS: 1000})

	require.NoError(t, r.LoadString(`
		ticks = 0
		rt = strata.timer.new_timer()
		rt:start(5, 5, function() ticks = ticks + 1 end)
	`))

	tickUntil(t, r, func() bool {
		v, _ := global(t, r, "ticks").(float64)
		return v >= 3
	})
	require.NoError(t, r.LoadString(`rt:close()`))
}

func TestTimerSurvivesHandleDrop(t *testing.T) {
	src := newStubSource(testSnap(1))
	r := newRuntime(t, forbidSched{t}, src, config.ScriptConfig{TimeoutMS: 1000})

	require.NoError(t, r.LoadString(`
		dropped_fired = false
		local tm = strata.timer.new_timer()
		tm:start(10, 0, function() dropped_fired = true end)
		tm = nil
		collectgarbage("collect")
	`))

	tickUntil(t, r, func() bool {
		return global(t, r, "dropped_fired") == true
	})
	assert.Equal(t, 1, r.Stats().Timers)
}

func TestTimerCallbackQueriesLiveState(t *testing.T) {
	src := newStubSource(testSnap(1))
	r := newRuntime(t, asyncSched{}, src, config.ScriptConfig{TimeoutMS: 2000})

	require.NoError(t, r.LoadString(`
		seen = 0
		lt = strata.timer.new_timer()
		lt:start(5, 0, function()
			strata.timer.wait(150)
			seen = #strata.state.windows()
		end)
	`))

	// Fire the timer, then move the source while the callback is
	// still inside its wait. The query after the wait must observe
	// the new state, not a snapshot from tick entry.
	time.Sleep(10 * time.Millisecond)
	r.HostTick()
	time.Sleep(50 * time.Millisecond)
	src.set(testSnap(5))

	tickUntil(t, r, func() bool {
		v, _ := global(t, r, "seen").(float64)
		return v > 0
	})
	assert.Equal(t, float64(5), global(t, r, "seen"))
}

func TestDeferredTaskRunsOnNextTick(t *testing.T) {
	src := newStubSource(testSnap(1))
	r := newRuntime(t, forbidSched{t}, src, config.ScriptConfig{TimeoutMS: 1000})

	require.NoError(t, r.LoadString(`
		strata.util.defer(function() deferred_ran = true end)
	`))
	assert.Nil(t, global(t, r, "deferred_ran"))

	tickUntil(t, r, func() bool {
		return global(t, r, "deferred_ran") == true
	})
}

func TestStatsReflectSubscriptions(t *testing.T) {
	src := newStubSource(testSnap(1))
	r := newRuntime(t, forbidSched{t}, src, config.ScriptConfig{TimeoutMS: 1000})

	require.NoError(t, r.LoadString(`
		strata.event.on("window:map", function() end)
		strata.event.on("window:unmap", function() end)
	`))

	s := r.Stats()
	assert.Equal(t, 2, s.Handlers)
	assert.Equal(t, 2, s.Callbacks)
	assert.ElementsMatch(t, []string{"window:map", "window:unmap"}, s.Events)
}

func TestCloseRejectsFurtherWork(t *testing.T) {
	src := newStubSource(testSnap(1))
	r := newRuntime(t, forbidSched{t}, src, config.ScriptConfig{TimeoutMS: 1000})

	r.Close()
	r.Close()

	err := r.Do(func(*lua.LState) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)

	_, err = r.EmitHost("late", nil)
	assert.ErrorIs(t, err, ErrClosed)
}
