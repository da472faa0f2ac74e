package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/runward-io/runward/internal/types"
)

// gracePeriod is how long a cancelled subprocess gets between SIGTERM
// and SIGKILL.
const gracePeriod = 3 * time.Second

// ShellExecutor runs a command in an isolated, time-bounded
// subprocess. Non-zero exit or exceeding the step timeout is a
// failure. Unlike the network executors, cancellation force-kills the
// subprocess tree.
type ShellExecutor struct {
	// DefaultShell is the shell used to execute commands.
	// Defaults to "/bin/sh".
	DefaultShell string
}

// NewShellExecutor creates a ShellExecutor with default settings.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{DefaultShell: "/bin/sh"}
}

func (e *ShellExecutor) Type() types.StepType { return types.StepShell }

func (e *ShellExecutor) Execute(ctx context.Context, step *types.Step, ec *Context) Result {
	cfg := step.Shell
	if cfg == nil {
		return Failure(fmt.Errorf("shell step %s missing config", step.ID))
	}
	command, err := ec.Substitute(cfg.Command)
	if err != nil {
		return Failure(fmt.Errorf("resolving command: %w", err))
	}
	env, err := ec.SubstituteMap(cfg.Env)
	if err != nil {
		return Failure(fmt.Errorf("resolving env: %w", err))
	}
	shell := e.DefaultShell
	if shell == "" {
		shell = "/bin/sh"
	}
	return runCommand(ctx, shell, command, cfg.Workdir, env, cfg.TimeoutSeconds)
}

// ScriptExecutor runs a script body through an interpreter. It shares
// the shell executor's subprocess handling.
type ScriptExecutor struct{}

// NewScriptExecutor creates a ScriptExecutor.
func NewScriptExecutor() *ScriptExecutor {
	return &ScriptExecutor{}
}

func (e *ScriptExecutor) Type() types.StepType { return types.StepScript }

func (e *ScriptExecutor) Execute(ctx context.Context, step *types.Step, ec *Context) Result {
	cfg := step.Script
	if cfg == nil {
		return Failure(fmt.Errorf("script step %s missing config", step.ID))
	}
	script, err := ec.Substitute(cfg.Script)
	if err != nil {
		return Failure(fmt.Errorf("resolving script: %w", err))
	}
	env, err := ec.SubstituteMap(cfg.Env)
	if err != nil {
		return Failure(fmt.Errorf("resolving env: %w", err))
	}
	interpreter := cfg.Interpreter
	if interpreter == "" {
		interpreter = "/bin/sh"
	}
	return runCommand(ctx, interpreter, script, cfg.Workdir, env, cfg.TimeoutSeconds)
}

// runCommand executes `shell -c command` in its own process group.
// On context cancellation or timeout the whole group gets SIGTERM,
// then SIGKILL after the grace period.
func runCommand(ctx context.Context, shell, command, workdir string, env map[string]string, timeoutSeconds int) Result {
	if timeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		defer cancel()
	}

	// Cancellation is handled manually so the process gets a graceful
	// SIGTERM before SIGKILL.
	cmd := exec.Command(shell, "-c", command)
	if workdir != "" {
		cmd.Dir = workdir
	}
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Own process group so the entire tree can be killed.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return Failure(fmt.Errorf("starting command: %w", err))
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var exitCode int
	var runErr error

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
			select {
			case <-done:
			case <-time.After(gracePeriod):
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				<-done
			}
		}
		exitCode = -1
		runErr = ctx.Err()

	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
				runErr = fmt.Errorf("exit code %d", exitCode)
			} else {
				exitCode = -1
				runErr = err
			}
		}
	}

	output := map[string]any{
		"exit_code": exitCode,
		"stdout":    strings.TrimSuffix(stdout.String(), "\n"),
		"stderr":    strings.TrimSuffix(stderr.String(), "\n"),
	}
	if runErr != nil {
		return Result{Outcome: OutcomeFailure, Output: output, Err: runErr}
	}
	return Success(output)
}
