package exec

import (
	"errors"
	"fmt"
	osexec "os/exec"
	"strings"
	"syscall"
)

// Result is what a finished command left behind. It is not modified after
// the executor returns it.
type Result struct {
	// Command is the composed command line, escalation included.
	Command string `json:"command"`
	// Code is the exit code or NoExitCode.
	Code    int    `json:"code"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Timeout bool   `json:"timeout"`
}

func (r Result) String() string {
	return fmt.Sprintf("{code:%d timeout:%t stdout:%q stderr:%q}", r.Code, r.Timeout, r.Stdout, r.Stderr)
}

// ExecutionError is returned when a command exits non-zero, is killed, or
// cannot be started at all. It keeps the full captured output.
type ExecutionError struct {
	Result
	// Err is set when the process could not be run, e.g. binary not found.
	Err error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command %q failed", e.Command)
	switch {
	case e.Timeout:
		b.WriteString(": killed or timed out")
	default:
		fmt.Fprintf(&b, ": exit code %d", e.Code)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		fmt.Fprintf(&b, ": %s", stderr)
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsExecutionError reports whether err carries an ExecutionError.
func IsExecutionError(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr)
}

// ExitStatus returns the exit code carried by err, false when the process
// did not exit normally.
func ExitStatus(err error) (int, bool) {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		if execErr.Code == NoExitCode {
			return 0, false
		}
		return execErr.Code, true
	}
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		waitStatus, ok := exitErr.ProcessState.Sys().(syscall.WaitStatus)
		if ok && waitStatus.Exited() {
			return waitStatus.ExitStatus(), true
		}
	}
	return 0, false
}
