package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aristath/dispatch/internal/task"
)

// CommandRuntime runs each task as a subprocess of a configured CLI
// command. The task description is appended as the final argument and
// stdout becomes the task result.
type CommandRuntime struct {
	Command string
	Args    []string
	Timeout time.Duration // Per-task wall clock limit; 0 disables
}

// Execute runs the command for the task. The subprocess gets its own
// process group so a context cancellation tears down the whole tree.
func (c *CommandRuntime) Execute(ctx context.Context, t *task.Task) (Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), c.Args...), t.Description)
	cmd := exec.CommandContext(ctx, c.Command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	stdout, err := run(cmd)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: strings.TrimSpace(string(stdout)), Quality: 1.0}, nil
}

// run drains stdout and stderr concurrently before cmd.Wait so a chatty
// subprocess cannot deadlock on a full pipe buffer.
func run(cmd *exec.Cmd) ([]byte, error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderrPipe)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if stderrBuf.Len() > 0 {
			return stdoutBuf.Bytes(), fmt.Errorf("command failed: %w (stderr: %s)", err, stderrBuf.String())
		}
		return stdoutBuf.Bytes(), fmt.Errorf("command failed: %w", err)
	}
	return stdoutBuf.Bytes(), nil
}
