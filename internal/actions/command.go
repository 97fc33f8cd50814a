package actions

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/cuemby/update-agent/internal/manifest"
)

const killGracePeriod = 5 * time.Second

func handleCommand(ctx context.Context, spec manifest.ActionSpec, rc *Context) (Outcome, error) {
	c := spec.Command
	if c == nil {
		return Outcome{}, fmt.Errorf("actions: command action missing its spec payload")
	}

	timeout := time.Duration(c.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", c.Cmd)
	if c.Cwd != "" {
		cmd.Dir = c.Cwd
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("actions: command %q: stdout pipe: %w", c.Cmd, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("actions: command %q: stderr pipe: %w", c.Cmd, err)
	}

	// exec.CommandContext sends SIGKILL immediately on context cancellation;
	// we instead want terminate-then-grace-then-kill, so manage the signal
	// ourselves via cmd.Cancel (Go 1.20+) while still using the timeout
	// context for stream draining.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscallTerminate())
	}
	cmd.WaitDelay = killGracePeriod

	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("actions: command %q: start: %w", c.Cmd, err)
	}

	streamToLog(rc, stdout)
	streamToLog(rc, stderr)

	err = withHeartbeat(rc, fmt.Sprintf("command %q", c.Cmd), cmd.Wait)
	if err != nil {
		if runCtx.Err() != nil {
			return Outcome{}, fmt.Errorf("actions: command %q timed out after %s", c.Cmd, timeout)
		}
		return Outcome{}, fmt.Errorf("actions: command %q failed: %w", c.Cmd, err)
	}
	return Outcome{}, nil
}

func streamToLog(rc *Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	go func() {
		for scanner.Scan() {
			rc.logf("%s", scanner.Text())
		}
	}()
}
