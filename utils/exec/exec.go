/*
   Copyright @ 2021 bocloud <fushaosong@beyondcent.com>.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	utilexec "k8s.io/utils/exec"

	"github.com/carina-io/blockmgr/utils/log"
)

const (
	// NoExitCode is reported when the process never exited normally,
	// i.e. it was killed by a signal or by a deadline.
	NoExitCode = -1
	// DefaultEscalationPath is used when escalation is requested without a binary.
	DefaultEscalationPath = "/usr/bin/sudo"

	codeNotExecutable = 127
	tracerName        = "github.com/carina-io/blockmgr/utils/exec"
)

// Executor is the main interface for all the exec commands
type Executor interface {
	// ExecuteCommand runs a command and waits for it to exit
	ExecuteCommand(ctx context.Context, command string, arg ...string) (*Result, error)
	// ExecuteCommandWithInput runs a command with input written to its stdin
	ExecuteCommandWithInput(ctx context.Context, input string, command string, arg ...string) (*Result, error)
}

// Config holds everything a CommandExecutor needs. It is passed by value at
// construction, there is no package level state.
type Config struct {
	// Escalate prefixes every command with EscalationPath.
	Escalate       bool
	EscalationPath string
	// Env entries are appended to the current process environment.
	Env []string
	Dir string
	// Timeout of zero means commands are never interrupted by the executor.
	// fsck and xfs_repair must not be killed half way.
	Timeout time.Duration
	// Runner spawns processes, nil means k8s.io/utils/exec.New().
	Runner utilexec.Interface
}

// CommandExecutor is the type of the Executor
type CommandExecutor struct {
	config Config
	runner utilexec.Interface
}

var _ Executor = &CommandExecutor{}

func NewCommandExecutor(config Config) *CommandExecutor {
	runner := config.Runner
	if runner == nil {
		runner = utilexec.New()
	}
	if config.Escalate && config.EscalationPath == "" {
		config.EscalationPath = DefaultEscalationPath
	}
	return &CommandExecutor{config: config, runner: runner}
}

// ExecuteCommand starts a process and wait for its completion
func (c *CommandExecutor) ExecuteCommand(ctx context.Context, command string, arg ...string) (*Result, error) {
	return c.execute(ctx, "", command, arg...)
}

// ExecuteCommandWithInput starts a process, feeds input to its stdin and closes
// the stream, then waits for completion.
func (c *CommandExecutor) ExecuteCommandWithInput(ctx context.Context, input string, command string, arg ...string) (*Result, error) {
	return c.execute(ctx, input, command, arg...)
}

func (c *CommandExecutor) execute(ctx context.Context, input string, command string, arg ...string) (*Result, error) {
	name, args := c.compose(command, arg)
	line := commandLine(name, args, input)
	log.Infof("executing command: %s", line)

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "exec "+command,
		trace.WithAttributes(attribute.String("exec.command_line", line)))
	defer span.End()

	// #nosec G204 arguments are passed as argv, never through a shell
	cmd := c.runner.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.SetStdout(&stdout)
	cmd.SetStderr(&stderr)
	if input != "" {
		// os/exec copies the reader into the pipe once the child has been
		// started and closes it when the copy is done.
		cmd.SetStdin(strings.NewReader(input))
	}
	if len(c.config.Env) > 0 {
		cmd.SetEnv(append(os.Environ(), c.config.Env...))
	}
	if c.config.Dir != "" {
		cmd.SetDir(c.config.Dir)
	}

	// Run returns only after both output streams have been drained.
	runErr := cmd.Run()

	result := Result{
		Command: line,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	if runErr == nil {
		span.SetAttributes(attribute.Int("exec.exit_code", 0))
		return &result, nil
	}

	result.Code, result.Timeout = classify(ctx, runErr)
	execErr := &ExecutionError{Result: result}
	if !isExitError(runErr) {
		execErr.Err = runErr
	}

	span.SetAttributes(attribute.Int("exec.exit_code", result.Code), attribute.Bool("exec.timeout", result.Timeout))
	span.RecordError(execErr)
	span.SetStatus(codes.Error, execErr.Error())

	log.Errorf("failed to execute command: %s, response: %s", line, result.String())
	return &result, execErr
}

// compose applies privilege escalation by prepending the escalation binary to argv.
func (c *CommandExecutor) compose(command string, arg []string) (string, []string) {
	args := make([]string, 0, len(arg)+1)
	if c.config.Escalate {
		args = append(args, command)
		args = append(args, arg...)
		return c.config.EscalationPath, args
	}
	return command, append(args, arg...)
}

// classify maps a Run error onto an exit code and the timeout flag.
func classify(ctx context.Context, err error) (int, bool) {
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) {
		status := exitErr.ExitStatus()
		if status < 0 {
			return NoExitCode, true
		}
		if ctx.Err() != nil {
			return NoExitCode, true
		}
		return status, false
	}
	if ctx.Err() != nil {
		return NoExitCode, true
	}
	return codeNotExecutable, false
}

func isExitError(err error) bool {
	var exitErr utilexec.ExitError
	return errors.As(err, &exitErr)
}

// commandLine renders the invocation for logs and errors. Input payloads are
// shown inline as `echo '<input>' | <command>`.
func commandLine(name string, args []string, input string) string {
	line := strings.TrimSpace(fmt.Sprintf("%s %s", name, strings.Join(args, " ")))
	if input != "" {
		line = fmt.Sprintf("echo '%s' | %s", strings.ReplaceAll(input, "\n", `\n`), line)
	}
	return line
}
