// Package testingexec provides a scripted Executor so that code built on
// utils/exec can be tested without spawning real binaries.
package testingexec

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/carina-io/blockmgr/utils/exec"
)

// FakeCall records one invocation.
type FakeCall struct {
	Command string
	Args    []string
	Input   string
}

// Line is the command line as it was requested.
func (c FakeCall) Line() string {
	return strings.TrimSpace(c.Command + " " + strings.Join(c.Args, " "))
}

// FakeResponse describes the outcome of a scripted command. A non-zero Code or
// Timeout turns it into an *exec.ExecutionError.
type FakeResponse struct {
	Stdout  string
	Stderr  string
	Code    int
	Timeout bool
}

// FakeExecutor answers commands by their full command line. Responses
// registered for the same line are consumed in order, the last one repeats.
type FakeExecutor struct {
	mu        sync.Mutex
	responses map[string][]FakeResponse
	calls     []FakeCall
}

var _ exec.Executor = &FakeExecutor{}

func New() *FakeExecutor {
	return &FakeExecutor{responses: map[string][]FakeResponse{}}
}

// On scripts a response for line, e.g. "lsblk -a -b -J -O /dev/sdb".
func (f *FakeExecutor) On(line string, resp FakeResponse) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[line] = append(f.responses[line], resp)
	return f
}

// OnStdout scripts a successful command printing stdout.
func (f *FakeExecutor) OnStdout(line, stdout string) *FakeExecutor {
	return f.On(line, FakeResponse{Stdout: stdout})
}

// Calls returns a copy of the recorded invocations.
func (f *FakeExecutor) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallLines returns the recorded command lines in order.
func (f *FakeExecutor) CallLines() []string {
	var lines []string
	for _, c := range f.Calls() {
		lines = append(lines, c.Line())
	}
	return lines
}

func (f *FakeExecutor) ExecuteCommand(ctx context.Context, command string, arg ...string) (*exec.Result, error) {
	return f.run(command, arg, "")
}

func (f *FakeExecutor) ExecuteCommandWithInput(ctx context.Context, input string, command string, arg ...string) (*exec.Result, error) {
	return f.run(command, arg, input)
}

func (f *FakeExecutor) run(command string, arg []string, input string) (*exec.Result, error) {
	call := FakeCall{Command: command, Args: append([]string(nil), arg...), Input: input}
	line := call.Line()

	f.mu.Lock()
	f.calls = append(f.calls, call)
	queue, ok := f.responses[line]
	var resp FakeResponse
	if ok {
		resp = queue[0]
		if len(queue) > 1 {
			f.responses[line] = queue[1:]
		}
	}
	f.mu.Unlock()

	if !ok {
		resp = FakeResponse{Code: 127, Stderr: fmt.Sprintf("fake: no response scripted for %q", line)}
	}

	result := exec.Result{
		Command: line,
		Code:    resp.Code,
		Stdout:  resp.Stdout,
		Stderr:  resp.Stderr,
		Timeout: resp.Timeout,
	}
	if resp.Timeout {
		result.Code = exec.NoExitCode
	}
	if result.Code != 0 {
		return &result, &exec.ExecutionError{Result: result}
	}
	return &result, nil
}
