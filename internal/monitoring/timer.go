package monitoring

import "time"

// InvocationTimer measures one script invocation.
type InvocationTimer struct {
	start   time.Time
	metrics *Metrics
	kind    string
}

// StartInvocation creates a timer for an invocation of the given kind.
func StartInvocation(metrics *Metrics, kind string) *InvocationTimer {
	return &InvocationTimer{
		start:   time.Now(),
		metrics: metrics,
		kind:    kind,
	}
}

// Stop records the duration and classifies the outcome.
func (t *InvocationTimer) Stop(timedOut bool, scriptErr bool) {
	duration := time.Since(t.start)
	t.metrics.RecordInvocation(t.kind, duration)
	if timedOut {
		t.metrics.RecordTimeout(t.kind)
	}
	if scriptErr {
		t.metrics.RecordScriptError(t.kind)
	}
}
