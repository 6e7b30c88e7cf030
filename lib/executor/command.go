// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// maxStdoutCapture bounds the stdout retained in memory for
// from-stdout outputs. 64 KB holds commit SHAs, version strings, and
// similar small values with room to spare; file outputs carry
// anything larger.
const maxStdoutCapture = 64 * 1024

// commandRequest describes one shell invocation.
type commandRequest struct {
	command     string
	dir         string
	environment []string
	gracePeriod time.Duration

	// output receives the command's stdout and stderr. Nil inherits
	// the engine's own streams.
	output io.Writer

	// captureStdout additionally retains the tail of stdout in
	// memory for from-stdout output capture.
	captureStdout bool
}

// runCommand executes a command via sh -c. Returns the exit code, the
// captured stdout tail (when requested), and any non-exit error
// (spawn failure, context cancellation).
//
// The shell is resolved via PATH rather than hardcoded to /bin/sh, so
// the engine respects whatever shell the runner environment puts
// first.
//
// The command runs in its own process group so that cancellation
// kills the shell and all its children. Without Setpgid only the
// shell receives the signal — children survive holding the inherited
// output descriptors and stall the engine until they exit on their
// own.
//
// With a zero grace period, cancellation SIGKILLs the process group
// immediately. With a positive one, SIGTERM goes first so the command
// can flush and release; SIGKILL follows if the group is still alive
// after the grace period.
func runCommand(ctx context.Context, request commandRequest) (int, []byte, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", request.command)
	cmd.Dir = request.dir
	cmd.Env = request.environment

	stdoutSink := request.output
	stderrSink := request.output
	if request.output == nil {
		stdoutSink = os.Stdout
		stderrSink = os.Stderr
	}
	var capture *tailBuffer
	if request.captureStdout {
		capture = newTailBuffer(maxStdoutCapture)
		cmd.Stdout = io.MultiWriter(stdoutSink, capture)
	} else {
		cmd.Stdout = stdoutSink
	}
	cmd.Stderr = stderrSink

	// Negative PID = every process in the group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if request.gracePeriod > 0 {
		cmd.Cancel = func() error {
			processGroupID := -cmd.Process.Pid
			if err := syscall.Kill(processGroupID, syscall.SIGTERM); err != nil {
				// SIGTERM failed (group already gone), escalate.
				return syscall.Kill(processGroupID, syscall.SIGKILL)
			}
			go func() {
				time.Sleep(request.gracePeriod)
				// Best-effort: ESRCH from an already-dead group is
				// harmless.
				_ = syscall.Kill(processGroupID, syscall.SIGKILL)
			}()
			return nil
		}
	} else {
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}

	err := cmd.Run()

	var captured []byte
	if capture != nil {
		captured = capture.Bytes()
	}

	if err == nil {
		return 0, captured, nil
	}
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		// A kill delivered by Cancel surfaces as an ExitError — Wait
		// prefers the process error over the context error. Report
		// the context error in that case so the caller can classify
		// the interruption.
		if ctx.Err() != nil {
			return exitError.ExitCode(), captured, ctx.Err()
		}
		return exitError.ExitCode(), captured, nil
	}
	// Non-exit errors: context cancellation before the process died
	// on its own, spawn failure.
	return -1, captured, err
}

// tailBuffer keeps the last limit bytes written to it. From-stdout
// capture only needs the final line; a chatty command must not grow
// engine memory without bound.
type tailBuffer struct {
	limit int
	data  []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	if len(b.data) > b.limit {
		b.data = b.data[len(b.data)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	return b.data
}
