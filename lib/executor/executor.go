// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor runs one job's steps as local subprocesses. Steps
// execute strictly sequentially in definition order, each in its own
// process group with a per-step timeout and error policy.
// Cancellation is observed at step boundaries and forwarded to a
// running step by signalling its process group. The executor fills in
// a complete run.Job record; cross-job parallelism, admission, and
// persistence are the engine's concern, not this package's.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/conveyor-ci/conveyor/lib/artifact"
	"github.com/conveyor-ci/conveyor/lib/clock"
	"github.com/conveyor-ci/conveyor/lib/matrix"
	"github.com/conveyor-ci/conveyor/lib/run"
	"github.com/conveyor-ci/conveyor/lib/workflow"
)

// defaultStepTimeout is used when a step does not specify its own
// timeout.
const defaultStepTimeout = 5 * time.Minute

// Executor runs jobs. Safe for concurrent use: each Run call is
// independent, so the engine's worker pool shares one Executor.
type Executor struct {
	clock       clock.Clock
	logger      *slog.Logger
	artifacts   *artifact.Store
	baseEnv     []string
	stepTimeout time.Duration
	gracePeriod time.Duration
}

// Options configures an Executor.
type Options struct {
	// Clock drives step timing. Nil means the real clock.
	Clock clock.Clock

	// Logger receives step lifecycle events. Nil means slog.Default.
	Logger *slog.Logger

	// Artifacts is the store file outputs are staged into. Nil is
	// allowed; steps declaring file outputs then fail with a clear
	// error.
	Artifacts *artifact.Store

	// BaseEnvironment replaces os.Environ() as the bottom layer of
	// every step's environment. Tests use it to run steps
	// hermetically.
	BaseEnvironment []string

	// DefaultStepTimeout applies to steps without their own timeout.
	// Zero means 5 minutes.
	DefaultStepTimeout time.Duration

	// DefaultGracePeriod is the SIGTERM-to-SIGKILL grace for cancelled
	// steps without their own grace-period. Zero kills immediately.
	DefaultGracePeriod time.Duration
}

// New returns an Executor with the given options.
func New(options Options) *Executor {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.DefaultStepTimeout == 0 {
		options.DefaultStepTimeout = defaultStepTimeout
	}
	return &Executor{
		clock:       options.Clock,
		logger:      options.Logger,
		artifacts:   options.Artifacts,
		baseEnv:     options.BaseEnvironment,
		stepTimeout: options.DefaultStepTimeout,
		gracePeriod: options.DefaultGracePeriod,
	}
}

// JobRequest is one fully-resolved job: the definition's step
// sequence plus the matrix point and identifiers the engine minted
// for it.
type JobRequest struct {
	// RunID and JobID are the minted run and job identifiers.
	RunID string
	JobID string

	// Name is the job's definition key; Label is the
	// matrix-qualified display name.
	Name  string
	Label string

	// Matrix is the combination this job covers. Its values reach
	// steps as MATRIX_<AXIS> environment variables.
	Matrix matrix.Combination

	// Spec is the job definition: steps, env, timeout.
	Spec workflow.JobSpec

	// Env carries engine-provided context variables (run id, branch,
	// commit). It layers above the base environment and below matrix
	// and definition env.
	Env map[string]string

	// Workdir is the working directory for step commands and the
	// base for relative output paths. Empty inherits the engine's.
	Workdir string

	// LogDir receives one log file per step plus a progress.jsonl
	// lifecycle log. Empty disables both; step output then goes to
	// the engine's own streams.
	LogDir string
}

// Run executes the job and returns its completed record. All failure
// modes are encoded in the record's status and reason; Run itself
// does not fail.
//
// Status semantics: a job succeeds when every step finished ok,
// skipped, or failed under continue-on-error. A step failure without
// continue-on-error fails the job and skips the remaining steps,
// except steps guarded with always() or failure(). Cancellation of
// ctx marks the interrupted step aborted, the remaining steps
// skipped, and the job cancelled.
func (e *Executor) Run(ctx context.Context, request JobRequest) run.Job {
	job := run.Job{
		ID:             request.JobID,
		RunID:          request.RunID,
		Name:           request.Name,
		Label:          request.Label,
		Matrix:         request.Matrix,
		MatrixIdentity: request.Matrix.Identity(),
		Status:         run.StatusPending,
	}
	e.transition(&job, run.StatusRunning)

	logger := e.logger.With("run", request.RunID, "job", request.JobID, "label", request.Label)
	steps := request.Spec.Steps

	progress := e.openProgressLog(request, logger)
	defer progress.Close()
	progress.writeStart(request.Label, len(steps), e.clock.Now())

	jobCtx := ctx
	if request.Spec.Timeout != "" {
		timeout, err := time.ParseDuration(request.Spec.Timeout)
		if err != nil {
			// Validate should have caught this; fail loud if not.
			job.Reason = fmt.Sprintf("invalid job timeout %q: %v", request.Spec.Timeout, err)
			e.transition(&job, run.StatusFailed)
			progress.writeComplete(job.Status, job.DurationMS, job.Reason)
			return job
		}
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		jobFailed     bool
		failedStep    string
		failureDetail string
		cancelled     bool
		timedOut      bool
		cancelReason  string
	)

	// skipFrom records Skipped results for every step from the given
	// index onward, in order.
	skipFrom := func(from int) {
		for skip := from; skip < len(steps); skip++ {
			result := run.StepResult{Name: steps[skip].Name, Status: run.StepSkipped}
			job.Steps = append(job.Steps, result)
			progress.writeStep(skip, result)
		}
	}

	for index, step := range steps {
		// Cancellation and the job timeout are observed at step
		// boundaries: no step starts after either has fired.
		if jobCtx.Err() != nil {
			if ctx.Err() != nil {
				cancelled = true
				cancelReason = fmt.Sprintf("cancelled before step %q", step.Name)
			} else {
				timedOut = true
			}
			skipFrom(index)
			break
		}

		if !shouldRun(step.If, jobFailed) {
			result := run.StepResult{Name: step.Name, Status: run.StepSkipped}
			job.Steps = append(job.Steps, result)
			progress.writeStep(index, result)
			continue
		}

		outcome := e.executeStep(ctx, jobCtx, request, index, step, logger)

		result := run.StepResult{
			Name:       step.Name,
			Status:     outcome.status,
			ExitCode:   outcome.exitCode,
			DurationMS: outcome.duration.Milliseconds(),
		}
		if outcome.err != nil {
			result.Error = outcome.err.Error()
		}
		if outcome.status == run.StepFailed && step.ContinueOnError {
			result.ContinuedOnError = true
		}
		job.Steps = append(job.Steps, result)
		progress.writeStep(index, result)
		logger.Info("step finished",
			"step", step.Name,
			"status", string(outcome.status),
			"duration_ms", result.DurationMS)

		switch outcome.status {
		case run.StepAborted:
			cancelled = true
			cancelReason = fmt.Sprintf("cancelled during step %q", step.Name)
			skipFrom(index + 1)
		case run.StepFailed:
			if !step.ContinueOnError && !jobFailed {
				jobFailed = true
				failedStep = step.Name
				failureDetail = result.Error
			}
		default:
			for name, value := range outcome.values {
				if job.Outputs == nil {
					job.Outputs = make(map[string]string)
				}
				job.Outputs[name] = value
			}
			job.Artifacts = append(job.Artifacts, outcome.artifacts...)
		}
		if cancelled {
			break
		}
	}

	// A job timeout firing during the final step leaves no boundary
	// check to notice it.
	if !cancelled && !timedOut && jobCtx.Err() != nil && ctx.Err() == nil {
		timedOut = true
	}

	switch {
	case cancelled:
		job.Reason = cancelReason
		e.transition(&job, run.StatusCancelled)
	case timedOut:
		job.Reason = fmt.Sprintf("job exceeded its %s timeout", request.Spec.Timeout)
		e.transition(&job, run.StatusFailed)
	case jobFailed:
		job.Reason = fmt.Sprintf("step %q failed: %s", failedStep, failureDetail)
		e.transition(&job, run.StatusFailed)
	default:
		e.transition(&job, run.StatusSucceeded)
	}

	progress.writeComplete(job.Status, job.DurationMS, job.Reason)
	logger.Info("job finished",
		"status", string(job.Status),
		"duration_ms", job.DurationMS,
		"reason", job.Reason)
	return job
}

// transition moves the job through the status machine, stamping
// timestamps from the executor's clock. The execution sequence only
// requests legal transitions; an illegal one indicates a bug.
func (e *Executor) transition(job *run.Job, to run.Status) {
	if err := job.Transition(to, e.clock.Now()); err != nil {
		e.logger.Error("illegal job status transition", "job", job.ID, "error", err)
	}
}

// shouldRun evaluates a step's if guard against the job's failure
// state. No guard (or success()) runs the step only while every
// required step so far has passed; failure() runs it only after one
// has failed; always() runs it regardless. Failures under
// continue-on-error do not flip the guard state.
func shouldRun(guard string, jobFailed bool) bool {
	switch guard {
	case "failure()":
		return jobFailed
	case "always()":
		return true
	default:
		// "" and success(); Validate rejects anything else.
		return !jobFailed
	}
}

// stepOutcome is the raw result of executing one step, before it is
// folded into the job record.
type stepOutcome struct {
	status    run.StepStatus
	exitCode  int
	duration  time.Duration
	err       error
	values    map[string]string
	artifacts []run.ArtifactRef
}

// executeStep runs a single step: resolves its timeout and grace
// period, merges its environment, runs the command, and captures
// declared outputs. ctx is the run-level context (external
// cancellation); jobCtx additionally carries the job timeout.
func (e *Executor) executeStep(ctx, jobCtx context.Context, request JobRequest, index int, step workflow.StepSpec, logger *slog.Logger) stepOutcome {
	start := e.clock.Now()

	timeout := e.stepTimeout
	if step.Timeout != "" {
		parsed, err := time.ParseDuration(step.Timeout)
		if err != nil {
			// Validate should have caught this; fail loud if not.
			return stepOutcome{
				status:   run.StepFailed,
				exitCode: -1,
				duration: e.clock.Now().Sub(start),
				err:      fmt.Errorf("invalid timeout %q: %w", step.Timeout, err),
			}
		}
		timeout = parsed
	}

	gracePeriod := e.gracePeriod
	if step.GracePeriod != "" {
		parsed, err := time.ParseDuration(step.GracePeriod)
		if err != nil {
			return stepOutcome{
				status:   run.StepFailed,
				exitCode: -1,
				duration: e.clock.Now().Sub(start),
				err:      fmt.Errorf("invalid grace-period %q: %w", step.GracePeriod, err),
			}
		}
		gracePeriod = parsed
	}

	stepCtx, cancel := context.WithTimeout(jobCtx, timeout)
	defer cancel()

	environment := mergeEnvironment(e.baseEnvironment(),
		request.Env, request.Matrix.Environment(), request.Spec.Env, step.Env)

	sink := e.openStepLog(request, index, step, logger)
	if sink != nil {
		defer sink.Close()
	}

	captureStdout := false
	for _, output := range step.Outputs {
		if output.FromStdout {
			captureStdout = true
			break
		}
	}

	exitCode, stdout, err := runCommand(stepCtx, commandRequest{
		command:       step.Run,
		dir:           request.Workdir,
		environment:   environment,
		gracePeriod:   gracePeriod,
		output:        sink,
		captureStdout: captureStdout,
	})
	duration := e.clock.Now().Sub(start)

	if err != nil {
		// Which context died decides how the interruption is
		// classified: external cancellation aborts the step, the job
		// or step deadline fails it.
		switch {
		case ctx.Err() != nil:
			return stepOutcome{
				status:   run.StepAborted,
				exitCode: -1,
				duration: duration,
				err:      errors.New("cancelled while running"),
			}
		case jobCtx.Err() != nil:
			return stepOutcome{
				status:   run.StepFailed,
				exitCode: -1,
				duration: duration,
				err:      errors.New("job timeout exceeded while running"),
			}
		case stepCtx.Err() != nil:
			return stepOutcome{
				status:   run.StepFailed,
				exitCode: -1,
				duration: duration,
				err:      fmt.Errorf("timed out after %s", timeout),
			}
		default:
			return stepOutcome{
				status:   run.StepFailed,
				exitCode: -1,
				duration: duration,
				err:      err,
			}
		}
	}

	if exitCode != 0 {
		return stepOutcome{
			status:   run.StepFailed,
			exitCode: exitCode,
			duration: duration,
			err:      fmt.Errorf("exit code %d", exitCode),
		}
	}

	outcome := stepOutcome{status: run.StepOK, duration: duration}
	if len(step.Outputs) > 0 {
		// Captured after the command succeeds, inside the step's
		// time budget.
		values, artifacts, err := e.captureOutputs(request, step, stdout)
		if err != nil {
			return stepOutcome{
				status:   run.StepFailed,
				duration: e.clock.Now().Sub(start),
				err:      fmt.Errorf("capturing outputs: %w", err),
			}
		}
		outcome.values = values
		outcome.artifacts = artifacts
		outcome.duration = e.clock.Now().Sub(start)
	}
	return outcome
}

// captureOutputs resolves a step's output declarations: from-stdout
// outputs become values on the job record, path outputs are staged
// into the artifact store and become refs.
func (e *Executor) captureOutputs(request JobRequest, step workflow.StepSpec, stdout []byte) (map[string]string, []run.ArtifactRef, error) {
	var values map[string]string
	var artifacts []run.ArtifactRef

	for _, output := range step.Outputs {
		if output.FromStdout {
			if values == nil {
				values = make(map[string]string)
			}
			values[output.Name] = lastLine(stdout)
			continue
		}
		ref, err := e.stageFile(request, output)
		if err != nil {
			return nil, nil, fmt.Errorf("output %q: %w", output.Name, err)
		}
		artifacts = append(artifacts, ref)
	}
	return values, artifacts, nil
}

// stageFile reads a declared output file and stages it as a
// content-addressed artifact.
func (e *Executor) stageFile(request JobRequest, output workflow.OutputSpec) (run.ArtifactRef, error) {
	if e.artifacts == nil {
		return run.ArtifactRef{}, errors.New("no artifact store configured for file outputs")
	}

	path := output.Path
	if !filepath.IsAbs(path) && request.Workdir != "" {
		path = filepath.Join(request.Workdir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return run.ArtifactRef{}, fmt.Errorf("reading output file %s: %w", output.Path, err)
	}

	staged, err := e.artifacts.Stage(filepath.Base(output.Path), data)
	if err != nil {
		return run.ArtifactRef{}, fmt.Errorf("staging output file %s: %w", output.Path, err)
	}
	return run.ArtifactRef{
		Name:           output.Name,
		Ref:            staged.Ref,
		Size:           staged.Size,
		MatrixIdentity: request.Matrix.Identity(),
	}, nil
}

// lastLine returns the final non-empty line of captured stdout with
// surrounding whitespace trimmed. Commands print progress noise
// before the value they produce; the last line is the contract.
func lastLine(output []byte) string {
	text := strings.TrimRight(string(output), " \t\n\r")
	if index := strings.LastIndexByte(text, '\n'); index >= 0 {
		text = text[index+1:]
	}
	return strings.TrimSpace(text)
}

// baseEnvironment returns the bottom layer of step environments.
func (e *Executor) baseEnvironment() []string {
	if e.baseEnv != nil {
		return e.baseEnv
	}
	return os.Environ()
}

// mergeEnvironment builds a command environment from the base slice
// plus override layers, later layers winning. os/exec uses the last
// occurrence of a duplicated key, so appending suffices. Keys within
// a layer are appended in sorted order for deterministic slices.
func mergeEnvironment(base []string, layers ...map[string]string) []string {
	merged := make([]string, len(base), len(base)+8)
	copy(merged, base)
	for _, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		names := make([]string, 0, len(layer))
		for name := range layer {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			merged = append(merged, name+"="+layer[name])
		}
	}
	return merged
}

// openProgressLog creates the job's progress.jsonl under LogDir. Log
// trouble never fails the job: it degrades to the engine's own
// logger.
func (e *Executor) openProgressLog(request JobRequest, logger *slog.Logger) *progressLog {
	if request.LogDir == "" {
		return nil
	}
	if err := os.MkdirAll(request.LogDir, 0o755); err != nil {
		logger.Warn("progress log disabled", "error", err)
		return nil
	}
	progress, err := newProgressLog(filepath.Join(request.LogDir, "progress.jsonl"), logger)
	if err != nil {
		logger.Warn("progress log disabled", "error", err)
		return nil
	}
	return progress
}

// openStepLog creates the per-step output file. Nil (with a warning)
// when LogDir is unset or the file cannot be created; the step then
// inherits the engine's streams.
func (e *Executor) openStepLog(request JobRequest, index int, step workflow.StepSpec, logger *slog.Logger) *os.File {
	if request.LogDir == "" {
		return nil
	}
	name := fmt.Sprintf("step-%02d-%s.log", index+1, logFileName(step.Name))
	file, err := os.Create(filepath.Join(request.LogDir, name))
	if err != nil {
		logger.Warn("step log unavailable, output inherits engine streams",
			"step", step.Name, "error", err)
		return nil
	}
	return file
}

// logFileName maps a step name onto a filesystem-safe file name
// fragment.
func logFileName(stepName string) string {
	var builder strings.Builder
	for _, r := range stepName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			builder.WriteRune(r)
		default:
			builder.WriteByte('-')
		}
	}
	return builder.String()
}
