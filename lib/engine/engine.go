// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine composes Conveyor's parts into the run orchestrator:
// trigger filtering, concurrency admission, matrix expansion, the job
// worker pool, and result aggregation. The engine owns all in-flight
// run state; everything it composes (executor, controller, stores) is
// injected and individually testable.
//
// An accepted event becomes a run: the engine expands every job's
// matrix, admits the run under its concurrency group, enqueues the
// jobs, and returns. Workers execute jobs as independent parallel
// units; when a run's last job finishes, the engine aggregates the
// job records into a summary, publishes artifacts, persists the
// summary, and releases the concurrency slot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/lib/aggregate"
	"github.com/conveyor-ci/conveyor/lib/artifact"
	"github.com/conveyor-ci/conveyor/lib/clock"
	"github.com/conveyor-ci/conveyor/lib/concurrency"
	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/executor"
	"github.com/conveyor-ci/conveyor/lib/matrix"
	"github.com/conveyor-ci/conveyor/lib/run"
	"github.com/conveyor-ci/conveyor/lib/runstore"
	"github.com/conveyor-ci/conveyor/lib/trigger"
	"github.com/conveyor-ci/conveyor/lib/workflow"
)

var (
	// ErrNotStarted reports a Submit or Cancel before Start.
	ErrNotStarted = errors.New("engine: not started")

	// ErrAlreadyTerminal reports a Cancel on a run that already
	// reached a terminal status.
	ErrAlreadyTerminal = errors.New("engine: run already terminal")

	// ErrUnknownWorkflow reports a submit naming a workflow the
	// engine has not loaded.
	ErrUnknownWorkflow = errors.New("engine: unknown workflow")

	// ErrUnknownRun reports a Cancel for a run id the engine is not
	// tracking (finished runs age out of memory into the store).
	ErrUnknownRun = errors.New("engine: unknown run")
)

// Options configures an Engine.
type Options struct {
	// Store persists run history. Required.
	Store *runstore.Store

	// Artifacts is the staging store for step file outputs. Nil
	// disables file outputs.
	Artifacts *artifact.Store

	// Uploader receives artifacts after a run completes. Nil
	// discards.
	Uploader aggregate.Uploader

	// Clock drives all timing. Nil means the real clock.
	Clock clock.Clock

	// Logger receives engine lifecycle events. Nil means
	// slog.Default.
	Logger *slog.Logger

	// Workers is the number of concurrent job executors. Zero or
	// negative means 4.
	Workers int

	// DefaultBranch is the branch schedule-triggered runs execute
	// against. Empty means "main".
	DefaultBranch string

	// RunsDir is where per-run step logs are written, one directory
	// per run. Empty disables step log files.
	RunsDir string

	// BaseEnvironment replaces the engine process environment as the
	// bottom layer of step environments. Tests use it for hermetic
	// steps.
	BaseEnvironment []string

	// StepTimeout applies to steps without their own timeout. Zero
	// uses the executor default.
	StepTimeout time.Duration

	// GracePeriod is the SIGTERM-to-SIGKILL grace for cancelled steps
	// without their own grace-period. Zero kills immediately.
	GracePeriod time.Duration
}

// Engine orchestrates workflow runs. Create with New, call Start
// once, then Submit events. Safe for concurrent use.
type Engine struct {
	store         *runstore.Store
	artifacts     *artifact.Store
	clock         clock.Clock
	logger        *slog.Logger
	executor      *executor.Executor
	controller    *concurrency.Controller
	aggregator    *aggregate.Aggregator
	workers       int
	defaultBranch string
	runsDir       string

	mu          sync.Mutex
	started     bool
	baseCtx     context.Context
	definitions []*workflow.Definition
	byName      map[string]*workflow.Definition
	runs        map[string]*runState

	queue    chan queuedJob
	workerWG sync.WaitGroup
	runWG    sync.WaitGroup
}

// runState is the engine's in-memory record of one admitted run.
// record and jobs are guarded by the engine mutex until done closes.
type runState struct {
	record   run.Run
	groupKey string
	cancel   context.CancelFunc

	// jobs collects completed job records by expansion index;
	// remaining counts slots still empty.
	jobs      []run.Job
	remaining int

	// done closes when the run's summary has been persisted.
	done chan struct{}
}

// queuedJob is one unit of work for the pool.
type queuedJob struct {
	state   *runState
	index   int
	ctx     context.Context
	request executor.JobRequest
}

// New builds an Engine from options. Call Start before submitting.
func New(options Options) (*Engine, error) {
	if options.Store == nil {
		return nil, errors.New("engine: Store is required")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Workers <= 0 {
		options.Workers = 4
	}
	if options.DefaultBranch == "" {
		options.DefaultBranch = "main"
	}

	return &Engine{
		store:     options.Store,
		artifacts: options.Artifacts,
		clock:     options.Clock,
		logger:    options.Logger.With("component", "engine"),
		executor: executor.New(executor.Options{
			Clock:              options.Clock,
			Logger:             options.Logger,
			Artifacts:          options.Artifacts,
			BaseEnvironment:    options.BaseEnvironment,
			DefaultStepTimeout: options.StepTimeout,
			DefaultGracePeriod: options.GracePeriod,
		}),
		controller:    concurrency.NewController(),
		aggregator:    aggregate.New(options.Uploader, options.Logger),
		workers:       options.Workers,
		defaultBranch: options.DefaultBranch,
		runsDir:       options.RunsDir,
		byName:        make(map[string]*workflow.Definition),
		runs:          make(map[string]*runState),
		queue:         make(chan queuedJob),
	}, nil
}

// Start launches the worker pool. Workers stop when ctx is cancelled;
// jobs still executing observe the cancellation and finish as
// cancelled. Start returns immediately; call Wait to block until the
// pool has drained after cancellation.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		panic("engine: Start called twice")
	}
	e.started = true
	e.baseCtx = ctx

	for i := 0; i < e.workers; i++ {
		e.workerWG.Add(1)
		go e.worker(ctx, i)
	}
	e.logger.Info("engine started", "workers", e.workers)
}

// Wait blocks until the worker pool has stopped and every admitted
// run has been finalized. Call after cancelling the Start context.
func (e *Engine) Wait() {
	e.workerWG.Wait()
	e.runWG.Wait()
}

// Submission is the outcome of submitting one event against one
// workflow.
type Submission struct {
	// Workflow is the workflow evaluated.
	Workflow string `json:"workflow"`

	// Accepted reports whether a run was admitted and is executing.
	Accepted bool `json:"accepted"`

	// RunID is set whenever a run record was created, including
	// refused runs recorded as cancelled. Empty when the trigger
	// filter rejected the event outright.
	RunID string `json:"run_id,omitempty"`

	// Reason explains a rejection or refusal.
	Reason string `json:"reason,omitempty"`
}

// SubmitEvent evaluates an event against every loaded workflow, in
// load order, and submits it to each. The returned slice has one
// entry per workflow.
func (e *Engine) SubmitEvent(ctx context.Context, ev event.Event) ([]Submission, error) {
	definitions := e.Definitions()
	submissions := make([]Submission, 0, len(definitions))
	for _, def := range definitions {
		submission, err := e.Submit(ctx, def, ev)
		if err != nil {
			return submissions, err
		}
		submissions = append(submissions, submission)
	}
	return submissions, nil
}

// SubmitTo submits an event to the loaded workflow with the given
// name.
func (e *Engine) SubmitTo(ctx context.Context, workflowName string, ev event.Event) (Submission, error) {
	e.mu.Lock()
	def := e.byName[workflowName]
	e.mu.Unlock()
	if def == nil {
		return Submission{}, fmt.Errorf("%w: %q", ErrUnknownWorkflow, workflowName)
	}
	return e.Submit(ctx, def, ev)
}

// Submit runs the admission pipeline for one event against one
// workflow: trigger filter, matrix expansion, concurrency admission,
// job enqueue. It returns as soon as the run's jobs are queued (or
// the event was rejected); execution proceeds on the worker pool.
//
// The returned error reports structural problems (invalid event,
// unexpandable matrix, engine not started). Trigger rejection and
// concurrency refusal are not errors; they come back in the
// Submission.
func (e *Engine) Submit(ctx context.Context, def *workflow.Definition, ev event.Event) (Submission, error) {
	e.mu.Lock()
	started := e.started
	baseCtx := e.baseCtx
	e.mu.Unlock()
	if !started {
		return Submission{}, ErrNotStarted
	}

	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = e.clock.Now()
	}
	if err := ev.Validate(); err != nil {
		return Submission{}, err
	}

	decision := trigger.Evaluate(def.On, ev)
	if !decision.Accepted {
		e.logger.Debug("event rejected",
			"workflow", def.Name,
			"event", ev.String(),
			"reason", decision.Reason)
		return Submission{Workflow: def.Name, Reason: decision.Reason}, nil
	}

	groupKey, err := concurrency.GroupKey(def.Concurrency, def.Name, ev)
	if err != nil {
		return Submission{}, err
	}

	now := e.clock.Now()
	record := run.Run{
		ID:        run.NewRunID(def.Name, ev.RunKey(), now),
		Workflow:  def.Name,
		Event:     ev,
		GroupKey:  groupKey,
		Status:    run.StatusPending,
		CreatedAt: run.Timestamp(now),
	}

	// Expand every job before admission so a malformed matrix never
	// occupies a concurrency slot.
	requests, err := e.expandJobs(def, record, ev)
	if err != nil {
		return Submission{}, err
	}

	// Track the run before admission. With cancel-in-progress, a
	// concurrent admission to the same group invokes this run's cancel
	// callback synchronously, possibly before Admit returns; cancelRun
	// must find the state or the cancellation is lost.
	runCtx, cancel := context.WithCancel(baseCtx)
	state := &runState{
		record:    record,
		groupKey:  groupKey,
		cancel:    cancel,
		jobs:      make([]run.Job, len(requests)),
		remaining: len(requests),
		done:      make(chan struct{}),
	}
	e.mu.Lock()
	e.runs[record.ID] = state
	e.mu.Unlock()

	cancelInProgress := def.Concurrency != nil && def.Concurrency.CancelInProgress
	admission := e.controller.Admit(groupKey, record.ID, cancelInProgress, func(reason string) {
		e.cancelRun(record.ID, reason)
	})
	if !admission.Admitted {
		// Deterministic refusal: the run holds no slot and registered
		// no callback, so it untracks cleanly and is recorded
		// cancelled, never queued.
		cancel()
		e.mu.Lock()
		delete(e.runs, record.ID)
		e.mu.Unlock()

		record.Reason = admission.Reason
		if err := record.Transition(run.StatusCancelled, e.clock.Now()); err != nil {
			e.logger.Error("illegal refusal transition", "run", record.ID, "error", err)
		}
		e.persistSummary(run.Summary{Run: record})
		e.logger.Info("run refused",
			"run", record.ID,
			"workflow", def.Name,
			"group", groupKey,
			"reason", admission.Reason)
		return Submission{Workflow: def.Name, RunID: record.ID, Reason: admission.Reason}, nil
	}
	if admission.Superseded != "" {
		e.logger.Info("run superseded",
			"group", groupKey,
			"superseded", admission.Superseded,
			"by", record.ID)
	}

	e.mu.Lock()
	if err := state.record.Transition(run.StatusRunning, e.clock.Now()); err != nil {
		e.logger.Error("illegal start transition", "run", record.ID, "error", err)
	}
	admitted := state.record
	e.mu.Unlock()
	e.runWG.Add(1)

	e.persistRun(admitted)
	e.logger.Info("run admitted",
		"run", record.ID,
		"workflow", def.Name,
		"event", ev.String(),
		"branch_pattern", decision.Pattern,
		"group", groupKey,
		"jobs", len(requests))

	if len(requests) == 0 {
		// Everything excluded: the run completes vacuously.
		e.finalize(state)
		return Submission{Workflow: def.Name, Accepted: true, RunID: record.ID}, nil
	}

	// Feed the queue from a goroutine so Submit returns immediately
	// even when every worker is busy. A cancellation that lands while
	// jobs are still queued finishes the unqueued remainder as
	// cancelled here rather than leaving them orphaned.
	go func() {
		for index, request := range requests {
			item := queuedJob{state: state, index: index, ctx: runCtx, request: request}
			select {
			case e.queue <- item:
			case <-runCtx.Done():
				e.finishJob(state, index, e.cancelledJob(state, request))
			}
		}
	}()

	return Submission{Workflow: def.Name, Accepted: true, RunID: record.ID}, nil
}

// expandJobs turns every job in the definition into executor requests,
// in definition order with matrix combinations in expansion order.
func (e *Engine) expandJobs(def *workflow.Definition, record run.Run, ev event.Event) ([]executor.JobRequest, error) {
	env := e.contextEnvironment(record, ev)

	var requests []executor.JobRequest
	for _, entry := range def.Jobs {
		var m workflow.Matrix
		if entry.Spec.Strategy != nil {
			m = entry.Spec.Strategy.Matrix
		}
		combinations, err := matrix.Expand(m)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", entry.ID, err)
		}
		for _, combination := range combinations {
			label := combination.Label(entry.ID)
			request := executor.JobRequest{
				RunID:  record.ID,
				JobID:  run.NewJobID(record.ID, label, e.clock.Now()),
				Name:   entry.ID,
				Label:  label,
				Matrix: combination,
				Spec:   entry.Spec,
				Env:    env,
			}
			if e.runsDir != "" {
				jobDir := filepath.Join(e.runsDir, record.ID, fmt.Sprintf("job-%03d", len(requests)+1))
				request.LogDir = filepath.Join(jobDir, "logs")
				request.Workdir = filepath.Join(jobDir, "work")
				if err := os.MkdirAll(request.Workdir, 0o755); err != nil {
					return nil, fmt.Errorf("job %q: creating workdir: %w", entry.ID, err)
				}
			}
			requests = append(requests, request)
		}
	}
	return requests, nil
}

// contextEnvironment is the engine-provided variable layer every step
// sees, below matrix and definition env.
func (e *Engine) contextEnvironment(record run.Run, ev event.Event) map[string]string {
	env := map[string]string{
		"CONVEYOR_RUN_ID":   record.ID,
		"CONVEYOR_WORKFLOW": record.Workflow,
		"CONVEYOR_EVENT":    string(ev.Kind),
		"CONVEYOR_BRANCH":   ev.Branch,
	}
	if ev.CommitSHA != "" {
		env["CONVEYOR_SHA"] = ev.CommitSHA
	}
	if ev.PullRequestNumber > 0 {
		env["CONVEYOR_PR_NUMBER"] = fmt.Sprintf("%d", ev.PullRequestNumber)
	}
	return env
}

// worker drains the job queue until the engine context is cancelled.
func (e *Engine) worker(ctx context.Context, id int) {
	defer e.workerWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-e.queue:
			var record run.Job
			if item.ctx.Err() != nil {
				// The run was cancelled while this job sat queued.
				record = e.cancelledJob(item.state, item.request)
			} else {
				record = e.executor.Run(item.ctx, item.request)
			}
			e.finishJob(item.state, item.index, record)
		}
	}
}

// cancelledJob builds the record for a job that never started because
// its run was cancelled first. Every step is recorded skipped.
func (e *Engine) cancelledJob(state *runState, request executor.JobRequest) run.Job {
	e.mu.Lock()
	reason := state.record.Reason
	e.mu.Unlock()
	if reason == "" {
		reason = "run cancelled"
	}

	job := run.Job{
		ID:             request.JobID,
		RunID:          request.RunID,
		Name:           request.Name,
		Label:          request.Label,
		Matrix:         request.Matrix,
		MatrixIdentity: request.Matrix.Identity(),
		Status:         run.StatusPending,
		Reason:         reason,
	}
	if err := job.Transition(run.StatusCancelled, e.clock.Now()); err != nil {
		e.logger.Error("illegal cancel transition", "job", job.ID, "error", err)
	}
	for _, step := range request.Spec.Steps {
		job.Steps = append(job.Steps, run.StepResult{Name: step.Name, Status: run.StepSkipped})
	}
	return job
}

// finishJob records one completed job and finalizes the run when it
// was the last.
func (e *Engine) finishJob(state *runState, index int, record run.Job) {
	e.mu.Lock()
	state.jobs[index] = record
	state.remaining--
	last := state.remaining == 0
	e.mu.Unlock()

	if last {
		e.finalize(state)
	}
}

// finalize aggregates a run's job records into its summary, publishes
// artifacts, persists the summary, and releases the concurrency slot.
// Runs exactly once per admitted run.
func (e *Engine) finalize(state *runState) {
	defer e.runWG.Done()

	e.mu.Lock()
	record := state.record
	jobs := state.jobs
	e.mu.Unlock()

	summary := aggregate.Collect(record, jobs, e.clock.Now())

	// Publish before persisting so upload warnings land in the stored
	// summary. Uses a fresh context: artifact publication should
	// survive the cancellation that ended a superseded run.
	if err := e.aggregator.Publish(context.Background(), &summary, e.artifacts); err != nil {
		e.logger.Error("artifact publication failed", "run", record.ID, "error", err)
	}

	e.persistSummary(summary)
	e.controller.Release(state.groupKey, record.ID)
	state.cancel()

	// The persisted summary is now authoritative; the run leaves the
	// in-memory map so finished runs do not accumulate.
	e.mu.Lock()
	state.record = summary.Run
	delete(e.runs, record.ID)
	e.mu.Unlock()
	close(state.done)

	e.logger.Info("run finished",
		"run", record.ID,
		"workflow", record.Workflow,
		"status", string(summary.Status),
		"jobs", len(jobs),
		"duration_ms", summary.DurationMS,
		"warnings", len(summary.Warnings))
}

// cancelRun requests cancellation of an in-flight run. Terminal and
// unknown runs are left untouched.
func (e *Engine) cancelRun(runID, reason string) bool {
	e.mu.Lock()
	state := e.runs[runID]
	if state == nil || state.record.Status.Terminal() {
		e.mu.Unlock()
		return false
	}
	if state.record.Reason == "" {
		state.record.Reason = reason
	}
	cancel := state.cancel
	e.mu.Unlock()

	e.logger.Info("run cancellation requested", "run", runID, "reason", reason)
	cancel()
	return true
}

// Cancel cancels a pending or running run. Idempotent on terminal
// runs: a second Cancel returns ErrAlreadyTerminal.
func (e *Engine) Cancel(runID string) error {
	if e.cancelRun(runID, "cancel requested") {
		return nil
	}
	// Finished runs are evicted on finalization, so the store decides
	// between "already done" and "never existed".
	_, err := e.store.GetSummary(context.Background(), runID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, runID)
	case errors.Is(err, runstore.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	default:
		return err
	}
}

// closedDone is handed out for runs that already left the in-memory
// map.
var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// RunDone returns a channel that closes when the run's summary has
// been persisted, and whether the run id is known. A run that already
// finished is answered from the store with a closed channel.
func (e *Engine) RunDone(runID string) (<-chan struct{}, bool) {
	e.mu.Lock()
	state := e.runs[runID]
	e.mu.Unlock()
	if state != nil {
		return state.done, true
	}
	if _, err := e.store.GetSummary(context.Background(), runID); err == nil {
		return closedDone, true
	}
	return nil, false
}

// Summary returns the stored summary for a run.
func (e *Engine) Summary(ctx context.Context, runID string) (run.Summary, error) {
	return e.store.GetSummary(ctx, runID)
}

// ListRuns returns stored summaries matching the filter, newest
// first.
func (e *Engine) ListRuns(ctx context.Context, filter runstore.Filter) ([]run.Summary, error) {
	return e.store.List(ctx, filter)
}

// ActiveGroups returns a snapshot of held concurrency groups.
func (e *Engine) ActiveGroups() map[string]string {
	return e.controller.ActiveGroups()
}

// persistRun writes a run row, logging failures. Store trouble never
// blocks execution: the in-memory state stays authoritative and the
// next persist retries the full record.
func (e *Engine) persistRun(record run.Run) {
	if err := e.store.SaveRun(context.Background(), record); err != nil {
		e.logger.Error("persisting run failed", "run", record.ID, "error", err)
	}
}

// persistSummary writes a full summary, logging failures.
func (e *Engine) persistSummary(summary run.Summary) {
	if err := e.store.SaveSummary(context.Background(), summary); err != nil {
		e.logger.Error("persisting summary failed", "run", summary.ID, "error", err)
	}
}
