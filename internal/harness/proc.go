package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	gracePolls        = 10
	gracePollInterval = 100 * time.Millisecond
)

type procOutcome struct {
	exitCode int
	signaled bool
	timedOut bool
}

// group wraps one target invocation running in its own process group, so the
// whole descendant tree can be signaled together. Stdio is either inherited
// or discarded, never piped: a forked child can therefore never block us on
// a full pipe when we tear the group down.
type group struct {
	cmd  *exec.Cmd
	done chan error
}

// startGroup launches command through "sh -c" as a new process group. When
// verbose, the target's stdout and stderr go to the operator's terminal.
func startGroup(command string, verbose bool) (*group, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if verbose {
		// stdin stays null even here; targets are non-interactive and read
		// only from the input file.
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start target: %w", err)
	}

	g := &group{cmd: cmd, done: make(chan error, 1)}
	go func() { g.done <- cmd.Wait() }()
	return g, nil
}

// wait blocks until the target exits, the timeout elapses, or ctx is done.
// A timeout of zero or less means no timeout. In the timeout and
// cancellation cases the process group is torn down before returning.
func (g *group) wait(ctx context.Context, timeout time.Duration) (procOutcome, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err := <-g.done:
		return exitOutcome(err)
	case <-timer:
		g.interruptWaitAndKill()
		return procOutcome{timedOut: true}, nil
	case <-ctx.Done():
		g.interruptWaitAndKill()
		return procOutcome{}, ctx.Err()
	}
}

// interruptWaitAndKill asks the process group to shut down with SIGINT, polls
// for exit over a bounded grace window, then SIGKILLs whatever is left. The
// interrupt-first order gives targets with cleanup handlers a chance to run
// them.
func (g *group) interruptWaitAndKill() {
	if err := g.signal(syscall.SIGINT); err != nil {
		// Process group already gone.
		return
	}
	for range gracePolls {
		select {
		case <-g.done:
			return
		case <-time.After(gracePollInterval):
		}
	}
	g.signal(syscall.SIGKILL)
	<-g.done
}

func (g *group) signal(sig syscall.Signal) error {
	return syscall.Kill(-g.cmd.Process.Pid, sig)
}

// exitOutcome reduces cmd.Wait's error to an exit classification.
func exitOutcome(err error) (procOutcome, error) {
	if err == nil {
		return procOutcome{}, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return procOutcome{}, fmt.Errorf("failed to wait for target: %w", err)
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return procOutcome{exitCode: exitErr.ExitCode()}, nil
	}
	return procOutcome{
		exitCode: exitErr.ExitCode(),
		signaled: status.Signaled(),
	}, nil
}
