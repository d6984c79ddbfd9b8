package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// ErrTimeout marks an invocation stopped at its time limit. It is a
// recoverable script-level failure, not a host fault: the state stays
// usable and the next invocation runs normally.
var ErrTimeout = errors.New("script execution exceeded time limit")

// Limits bounds one script invocation.
type Limits struct {
	// Timeout is wall-clock time per invocation. 0 disables the
	// limit; trusted contexts (top-level load) may run unbounded.
	Timeout time.Duration
}

// Unlimited places no bound on the invocation.
var Unlimited = Limits{}

// Run executes fn with the state's context bound to the limit. The
// Lua VM polls the context between instructions, so a busy loop with
// no function calls is still interrupted. The context is removed
// before returning, leaving the state reusable either way.
func Run(L *lua.LState, lim Limits, fn func() error) error {
	if lim.Timeout <= 0 {
		return fn()
	}

	ctx, cancel := context.WithTimeout(context.Background(), lim.Timeout)
	defer cancel()

	L.SetContext(ctx)
	defer L.RemoveContext()

	err := fn()
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w (%s)", ErrTimeout, lim.Timeout)
	}
	return err
}

// IsTimeout reports whether err came from the invocation time limit.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsScriptError reports whether err is a failure raised by the script
// itself (runtime error, error() call) rather than by the host.
func IsScriptError(err error) bool {
	var apiErr *lua.ApiError
	return errors.As(err, &apiErr)
}

// ErrorMessage extracts a printable message from a script error,
// unwrapping the Lua error object when present.
func ErrorMessage(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		return apiErr.Object.String()
	}
	return err.Error()
}
