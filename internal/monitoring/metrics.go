package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Invocation kinds used as metric labels.
const (
	KindEvent    = "event"
	KindTimer    = "timer"
	KindProcess  = "process"
	KindFetch    = "fetch"
	KindLoad     = "load"
	KindDeferred = "deferred"
)

// Metrics holds all Prometheus metrics for the scripting runtime.
type Metrics struct {
	// Event metrics
	EmitsTotal      *prometheus.CounterVec
	HandlersActive  prometheus.Gauge
	HandlerDuration *prometheus.HistogramVec
	HandlerTimeouts *prometheus.CounterVec
	ScriptErrors    *prometheus.CounterVec

	// Timer metrics
	TimersActive prometheus.Gauge
	TimerFires   prometheus.Counter

	// Process metrics
	ProcessesActive prometheus.Gauge
	SpawnsTotal     prometheus.Counter
	SpawnsFailed    prometheus.Counter
	ProcessKills    *prometheus.CounterVec

	// Queue metrics
	QueueDepth      prometheus.Gauge
	DeferredDropped prometheus.Counter

	// Query metrics
	QueriesTotal *prometheus.CounterVec

	// Fetch metrics
	FetchesTotal *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON stats endpoint.
type Snapshot struct {
	EmitsTotal      int64   `json:"emits_total"`
	ScriptErrors    int64   `json:"script_errors"`
	Timeouts        int64   `json:"timeouts"`
	ActiveHandlers  int64   `json:"active_handlers"`
	ActiveTimers    int64   `json:"active_timers"`
	ActiveProcesses int64   `json:"active_processes"`
	SpawnsTotal     int64   `json:"spawns_total"`
	DroppedDeferred int64   `json:"dropped_deferred"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// New creates a metrics collector registered on the given registerer.
// Tests pass prometheus.NewRegistry() so suites stay independent.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		// Event metrics
		EmitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptd_emits_total",
				Help: "Total number of event emissions",
			},
			[]string{"event"},
		),
		HandlersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scriptd_handlers_active",
				Help: "Number of registered event handlers",
			},
		),
		HandlerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scriptd_invocation_duration_seconds",
				Help:    "Script invocation duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"kind"},
		),
		HandlerTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptd_invocation_timeouts_total",
				Help: "Total number of script invocations stopped at the time limit",
			},
			[]string{"kind"},
		),
		ScriptErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptd_script_errors_total",
				Help: "Total number of script errors",
			},
			[]string{"kind"},
		),

		// Timer metrics
		TimersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scriptd_timers_active",
				Help: "Number of armed timers",
			},
		),
		TimerFires: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scriptd_timer_fires_total",
				Help: "Total number of timer expirations",
			},
		),

		// Process metrics
		ProcessesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scriptd_processes_active",
				Help: "Number of live child processes",
			},
		),
		SpawnsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scriptd_spawns_total",
				Help: "Total number of child processes spawned",
			},
		),
		SpawnsFailed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scriptd_spawns_failed_total",
				Help: "Total number of spawn attempts that failed",
			},
		),
		ProcessKills: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptd_process_kills_total",
				Help: "Total number of signals sent to children",
			},
			[]string{"signal"},
		),

		// Queue metrics
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scriptd_callback_queue_depth",
				Help: "Callback events drained in the last host cycle",
			},
		),
		DeferredDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scriptd_deferred_dropped_total",
				Help: "Total number of deferred tasks dropped on overflow",
			},
		),

		// Query metrics
		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptd_state_queries_total",
				Help: "Total number of runtime state queries",
			},
			[]string{"path"},
		),

		// Fetch metrics
		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptd_fetches_total",
				Help: "Total number of outbound HTTP fetches",
			},
			[]string{"status"},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scriptd_uptime_seconds",
				Help: "Runtime uptime in seconds",
			},
		),
	}

	return m
}

// NewDefault creates a metrics collector on the default registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// NewNop creates a collector on a private registry that is never
// scraped. Handy for components that require a collector.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// TickUptime refreshes the uptime gauge. Called from the host loop so
// no extra goroutine is needed.
func (m *Metrics) TickUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// RecordEmit records one event emission.
func (m *Metrics) RecordEmit(event string) {
	m.EmitsTotal.WithLabelValues(event).Inc()

	m.mu.Lock()
	m.snapshot.EmitsTotal++
	m.mu.Unlock()
}

// RecordInvocation records a completed script invocation.
func (m *Metrics) RecordInvocation(kind string, duration time.Duration) {
	m.HandlerDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordTimeout records an invocation stopped at its time limit.
func (m *Metrics) RecordTimeout(kind string) {
	m.HandlerTimeouts.WithLabelValues(kind).Inc()

	m.mu.Lock()
	m.snapshot.Timeouts++
	m.mu.Unlock()
}

// RecordScriptError records a script error by invocation kind.
func (m *Metrics) RecordScriptError(kind string) {
	m.ScriptErrors.WithLabelValues(kind).Inc()

	m.mu.Lock()
	m.snapshot.ScriptErrors++
	m.mu.Unlock()
}

// RecordQuery records a runtime state query.
func (m *Metrics) RecordQuery(path string) {
	m.QueriesTotal.WithLabelValues(path).Inc()
}

// RecordFetch records an outbound HTTP fetch by result status.
func (m *Metrics) RecordFetch(status string) {
	m.FetchesTotal.WithLabelValues(status).Inc()
}

// RecordKill records a signal sent to a child process.
func (m *Metrics) RecordKill(signal string) {
	m.ProcessKills.WithLabelValues(signal).Inc()
}

// SetHandlersActive sets the number of registered event handlers.
func (m *Metrics) SetHandlersActive(count int) {
	m.HandlersActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveHandlers = int64(count)
	m.mu.Unlock()
}

// SetTimersActive sets the number of armed timers.
func (m *Metrics) SetTimersActive(count int) {
	m.TimersActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveTimers = int64(count)
	m.mu.Unlock()
}

// IncTimerFires increments the timer expiration counter.
func (m *Metrics) IncTimerFires() {
	m.TimerFires.Inc()
}

// SetProcessesActive sets the number of live child processes.
func (m *Metrics) SetProcessesActive(count int) {
	m.ProcessesActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveProcesses = int64(count)
	m.mu.Unlock()
}

// IncSpawns increments the spawn counter.
func (m *Metrics) IncSpawns() {
	m.SpawnsTotal.Inc()
	m.mu.Lock()
	m.snapshot.SpawnsTotal++
	m.mu.Unlock()
}

// IncSpawnsFailed increments the failed spawn counter.
func (m *Metrics) IncSpawnsFailed() {
	m.SpawnsFailed.Inc()
}

// ObserveQueueDepth records the callback queue depth seen by a drain.
func (m *Metrics) ObserveQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// IncDeferredDropped increments the deferred drop counter.
func (m *Metrics) IncDeferredDropped() {
	m.DeferredDropped.Inc()
	m.mu.Lock()
	m.snapshot.DroppedDeferred++
	m.mu.Unlock()
}

// GetSnapshot returns current values for the JSON stats endpoint.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	snap := m.snapshot
	m.mu.RUnlock()
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}
