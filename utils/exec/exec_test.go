package exec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteCommandSuccess(t *testing.T) {
	e := NewCommandExecutor(Config{})
	result, err := e.ExecuteCommand(context.Background(), "sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.False(t, result.Timeout)
}

func TestExecuteCommandNonZeroExit(t *testing.T) {
	e := NewCommandExecutor(Config{})
	result, err := e.ExecuteCommand(context.Background(), "sh", "-c", "echo partial; echo broken >&2; exit 1")
	require.Error(t, err)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, 1, execErr.Code)
	assert.False(t, execErr.Timeout)
	assert.Equal(t, "partial\n", execErr.Stdout)
	assert.Equal(t, "broken\n", execErr.Stderr)
	assert.Equal(t, execErr.Result, *result)
	assert.Contains(t, err.Error(), "exit code 1")

	code, ok := ExitStatus(err)
	assert.True(t, ok)
	assert.Equal(t, 1, code)
}

func TestExecuteCommandKilled(t *testing.T) {
	e := NewCommandExecutor(Config{})
	_, err := e.ExecuteCommand(context.Background(), "sh", "-c", "kill -9 $$")
	require.Error(t, err)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, NoExitCode, execErr.Code)
	assert.True(t, execErr.Timeout)

	_, ok := ExitStatus(err)
	assert.False(t, ok)
}

func TestExecuteCommandTimeout(t *testing.T) {
	e := NewCommandExecutor(Config{Timeout: 100 * time.Millisecond})
	start := time.Now()
	_, err := e.ExecuteCommand(context.Background(), "sleep", "5")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, NoExitCode, execErr.Code)
	assert.True(t, execErr.Timeout)
}

func TestExecuteCommandContextDeadline(t *testing.T) {
	e := NewCommandExecutor(Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := e.ExecuteCommand(ctx, "sleep", "5")

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.True(t, execErr.Timeout)
}

func TestExecuteCommandNotFound(t *testing.T) {
	e := NewCommandExecutor(Config{})
	_, err := e.ExecuteCommand(context.Background(), "/nonexistent/blockmgr-binary")

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, 127, execErr.Code)
	assert.False(t, execErr.Timeout)
	assert.NotNil(t, execErr.Err)
}

func TestExecuteCommandWithInput(t *testing.T) {
	e := NewCommandExecutor(Config{})
	result, err := e.ExecuteCommandWithInput(context.Background(), "label: gpt\n", "cat")
	require.NoError(t, err)
	assert.Equal(t, "label: gpt\n", result.Stdout)
	assert.Equal(t, `echo 'label: gpt\n' | cat`, result.Command)
}

func TestExecuteCommandEscalation(t *testing.T) {
	e := NewCommandExecutor(Config{Escalate: true, EscalationPath: "/usr/bin/env"})
	result, err := e.ExecuteCommand(context.Background(), "echo", "hello", "world")
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", result.Stdout)
	assert.Equal(t, "/usr/bin/env echo hello world", result.Command)
}

func TestExecuteCommandEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	e := NewCommandExecutor(Config{Env: []string{"BLOCKMGR_TEST=yes"}, Dir: dir})
	result, err := e.ExecuteCommand(context.Background(), "sh", "-c", `echo "$BLOCKMGR_TEST"; pwd`)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "yes\n")
	assert.Contains(t, result.Stdout, dir)
}

func TestCompose(t *testing.T) {
	table := []struct {
		config Config
		cmd    string
		args   []string
		name   string
		argv   []string
	}{
		{Config{}, "lsblk", []string{"-J"}, "lsblk", []string{"-J"}},
		{Config{Escalate: true}, "lsblk", []string{"-J"}, DefaultEscalationPath, []string{"lsblk", "-J"}},
		{Config{Escalate: true, EscalationPath: "/bin/doas"}, "mkfs.xfs", nil, "/bin/doas", []string{"mkfs.xfs"}},
	}
	a := assert.New(t)
	for _, e := range table {
		name, argv := NewCommandExecutor(e.config).compose(e.cmd, e.args)
		a.Equal(e.name, name)
		a.Equal(e.argv, argv)
	}
}

func TestCommandLine(t *testing.T) {
	assert.Equal(t, "realpath /dev/sdb", commandLine("realpath", []string{"/dev/sdb"}, ""))
	assert.Equal(t, "udevadm", commandLine("udevadm", nil, ""))
	assert.Equal(t, `echo 'type=abc\n' | sfdisk /dev/sdb`, commandLine("sfdisk", []string{"/dev/sdb"}, "type=abc\n"))
}
