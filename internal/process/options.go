package process

import (
	"fmt"
	"os"

	"github.com/stratawm/strata/scripting/internal/callback"
)

// StdinMode selects how the child's standard input is wired.
type StdinMode int

const (
	// StdinClosed gives the child no input. Default.
	StdinClosed StdinMode = iota
	// StdinPipe keeps a pipe open for Handle.Write and CloseStdin.
	StdinPipe
	// StdinData writes a fixed payload and closes the pipe.
	StdinData
)

// SpawnOptions configures one child process.
type SpawnOptions struct {
	// Cwd is the child's working directory. Empty inherits ours.
	Cwd string

	// Env entries are merged over the inherited environment, or used
	// alone when ClearEnv is set.
	Env      map[string]string
	ClearEnv bool

	Stdin     StdinMode
	StdinData string

	// Capture buffers the stream for the exit result.
	CaptureStdout bool
	CaptureStderr bool

	// Streaming callbacks receive output as it arrives, line by line
	// in text mode or in fixed-size chunks otherwise.
	StdoutCB callback.ID
	StderrCB callback.ID
	ExitCB   callback.ID

	// Text splits output on newlines and strips the terminator.
	Text bool

	// Detach puts the child in its own session so it survives a
	// shutdown of the host. The exit callback still fires if set.
	Detach bool

	// PTY runs the child under a pseudo-terminal. Stderr is merged
	// into stdout and both stream through the stdout callback.
	PTY     bool
	PTYCols int
	PTYRows int
}

func (o *SpawnOptions) validate() error {
	if o.Stdin == StdinData && o.StdinData == "" {
		o.Stdin = StdinClosed
	}
	if o.PTY {
		if o.PTYCols <= 0 {
			o.PTYCols = 80
		}
		if o.PTYRows <= 0 {
			o.PTYRows = 24
		}
		if o.CaptureStderr || o.StderrCB != callback.None {
			return fmt.Errorf("pty merges stderr into stdout")
		}
	}
	if o.Detach && (o.Stdin == StdinPipe || o.StdoutCB != callback.None ||
		o.StderrCB != callback.None || o.CaptureStdout || o.CaptureStderr) {
		return fmt.Errorf("detached processes cannot stream or capture")
	}
	return nil
}

// environment builds the child env per the merge/replace rules.
func (o *SpawnOptions) environment() []string {
	if len(o.Env) == 0 && !o.ClearEnv {
		return nil // inherit as-is
	}
	var env []string
	if !o.ClearEnv {
		env = os.Environ()
	}
	for key, value := range o.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	return env
}

// wantsStdout reports whether stdout must be piped at all.
func (o *SpawnOptions) wantsStdout() bool {
	return o.CaptureStdout || o.StdoutCB != callback.None
}

func (o *SpawnOptions) wantsStderr() bool {
	return o.CaptureStderr || o.StderrCB != callback.None
}
