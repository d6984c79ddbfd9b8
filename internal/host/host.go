package host

// Scheduler schedules work onto the host loop's idle phase. The
// compositor provides the real implementation; Loop is the reference
// one used by scriptd and tests.
//
// RunOnIdle must be safe to call from any goroutine, including while
// the loop is asleep between refresh cycles.
type Scheduler interface {
	RunOnIdle(fn func())
}
