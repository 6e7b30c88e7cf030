// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package run defines the records of workflow execution: runs, their
// expanded jobs, per-step results, and artifact references, plus the
// status machine they move through. The engine mutates these through
// Transition so every status change is checked against the legal
// transition table; the store and control API serialize them as-is.
package run

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conveyor-ci/conveyor/lib/event"
)

// Status is a run's or job's lifecycle state.
type Status string

const (
	// StatusPending means admitted but not yet executing.
	StatusPending Status = "pending"

	// StatusRunning means at least one job is executing.
	StatusRunning Status = "running"

	// StatusSucceeded means every job finished and none failed.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means at least one job failed.
	StatusFailed Status = "failed"

	// StatusCancelled means execution was stopped before completion:
	// superseded by a newer run in its concurrency group, refused
	// admission, or cancelled explicitly.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a final state. Terminal runs never
// change status again.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions is the complete set of legal status changes. Anything
// absent is illegal: terminal states have no exits, and a run cannot
// reach succeeded or failed without passing through running.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusSucceeded: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// CanTransition reports whether a status change is legal.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// TransitionError reports an attempted illegal status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("run: illegal status transition %s -> %s", e.From, e.To)
}

// StepStatus is the outcome of one executed step.
type StepStatus string

const (
	// StepOK means the step's command exited zero.
	StepOK StepStatus = "ok"

	// StepFailed means the command exited non-zero or could not be
	// started.
	StepFailed StepStatus = "failed"

	// StepSkipped means the step never ran: an earlier blocking
	// failure short-circuited it, or its if-guard held it back.
	StepSkipped StepStatus = "skipped"

	// StepAborted means the step was interrupted by cancellation or
	// by its timeout.
	StepAborted StepStatus = "aborted"
)

// Valid reports whether s is a known step status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepOK, StepFailed, StepSkipped, StepAborted:
		return true
	}
	return false
}

// Run is the record of one workflow run: the event that caused it,
// its concurrency group, and its expanded jobs.
type Run struct {
	// ID is the run identifier ("run-" + 12 hex).
	ID string `json:"id"`

	// Workflow is the workflow name this run executes.
	Workflow string `json:"workflow"`

	// Event is the repository event that triggered the run.
	Event event.Event `json:"event"`

	// GroupKey is the resolved concurrency group key, empty when the
	// workflow declares no concurrency constraint.
	GroupKey string `json:"group_key,omitempty"`

	// Status is the run's lifecycle state.
	Status Status `json:"status"`

	// Reason explains a cancelled status: "superseded by run-..." for
	// concurrency losers, "cancel requested" for explicit cancels.
	// Empty otherwise.
	Reason string `json:"reason,omitempty"`

	// CreatedAt is when the run was admitted, as an RFC 3339 UTC
	// timestamp.
	CreatedAt string `json:"created_at"`

	// StartedAt is when the first job began executing. Empty while
	// pending and for runs cancelled before starting.
	StartedAt string `json:"started_at,omitempty"`

	// CompletedAt is when the run reached a terminal status.
	CompletedAt string `json:"completed_at,omitempty"`

	// DurationMS is wall-clock time from start to completion in
	// milliseconds. Zero for runs cancelled before starting.
	DurationMS int64 `json:"duration_ms,omitempty"`

	// Jobs are the run's expanded job records, in expansion order.
	Jobs []Job `json:"jobs,omitempty"`
}

// Job is the record of one expanded job instance within a run.
type Job struct {
	// ID is the job identifier ("job-" + 12 hex).
	ID string `json:"id"`

	// RunID is the owning run.
	RunID string `json:"run_id"`

	// Name is the job id from the workflow definition ("test").
	Name string `json:"name"`

	// Label is the display name including matrix values:
	// "test (1.24, linux)". Equal to Name for jobs without a matrix.
	Label string `json:"label"`

	// Matrix is this instance's axis assignment, empty for jobs
	// without a matrix.
	Matrix map[string]string `json:"matrix,omitempty"`

	// MatrixIdentity is the canonical "axis=value,..." form of
	// Matrix, the merge key for per-combination artifacts. Empty for
	// jobs without a matrix.
	MatrixIdentity string `json:"matrix_identity,omitempty"`

	// Status is the job's lifecycle state.
	Status Status `json:"status"`

	// Reason explains a cancelled status, mirroring Run.Reason.
	Reason string `json:"reason,omitempty"`

	// StartedAt is when the job's first step began, RFC 3339 UTC.
	StartedAt string `json:"started_at,omitempty"`

	// CompletedAt is when the job reached a terminal status.
	CompletedAt string `json:"completed_at,omitempty"`

	// DurationMS is wall-clock time from start to completion in
	// milliseconds.
	DurationMS int64 `json:"duration_ms,omitempty"`

	// Steps are the outcomes of executed steps in execution order.
	// Steps never reached are recorded as skipped.
	Steps []StepResult `json:"steps,omitempty"`

	// Outputs are captured from-stdout output values, keyed by
	// output name.
	Outputs map[string]string `json:"outputs,omitempty"`

	// Artifacts references files staged into the artifact store by
	// this job's steps.
	Artifacts []ArtifactRef `json:"artifacts,omitempty"`
}

// StepResult records the outcome of a single step.
type StepResult struct {
	// Name is the step name from the definition.
	Name string `json:"name"`

	// Status is the step outcome.
	Status StepStatus `json:"status"`

	// ExitCode is the command's exit status. Zero for ok and skipped
	// steps; -1 when the command never produced one (failed to start,
	// timed out, or was cancelled mid-run).
	ExitCode int `json:"exit_code,omitempty"`

	// DurationMS is the step's wall-clock time in milliseconds.
	DurationMS int64 `json:"duration_ms"`

	// Error is the failure or abort message. Empty for ok and
	// skipped steps.
	Error string `json:"error,omitempty"`

	// ContinuedOnError marks a failed step whose failure was
	// tolerated by continue-on-error; it did not affect the job's
	// status.
	ContinuedOnError bool `json:"continued_on_error,omitempty"`
}

// ArtifactRef points at one stored artifact produced by a job.
type ArtifactRef struct {
	// Name is the output name that produced the artifact.
	Name string `json:"name"`

	// Ref is the artifact store reference ("art-" + 12 hex).
	Ref string `json:"ref"`

	// Size is the artifact's byte size before compression.
	Size int64 `json:"size"`

	// MatrixIdentity is the producing job's matrix identity, carried
	// so merged run-level artifact sets stay distinguishable per
	// combination.
	MatrixIdentity string `json:"matrix_identity,omitempty"`
}

// Timestamp formats a time for run records: RFC 3339 in UTC with
// millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ParseTimestamp parses a timestamp written by Timestamp.
func ParseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("run: parsing timestamp %q: %w", value, err)
	}
	return t, nil
}

// Transition moves the run to a new status, stamping StartedAt on
// entry to running and CompletedAt plus DurationMS on entry to a
// terminal status. Illegal transitions return a *TransitionError and
// leave the run unchanged.
func (r *Run) Transition(to Status, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return &TransitionError{From: r.Status, To: to}
	}
	r.Status = to
	stamp(to, now, &r.StartedAt, &r.CompletedAt, &r.DurationMS)
	return nil
}

// Transition moves the job to a new status, with the same stamping
// rules as Run.Transition.
func (j *Job) Transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return &TransitionError{From: j.Status, To: to}
	}
	j.Status = to
	stamp(to, now, &j.StartedAt, &j.CompletedAt, &j.DurationMS)
	return nil
}

func stamp(to Status, now time.Time, startedAt, completedAt *string, durationMS *int64) {
	switch {
	case to == StatusRunning:
		*startedAt = Timestamp(now)
	case to.Terminal():
		*completedAt = Timestamp(now)
		if *startedAt != "" {
			if started, err := ParseTimestamp(*startedAt); err == nil {
				*durationMS = now.UTC().Sub(started).Milliseconds()
			}
		}
	}
}

// Validate checks structural requirements of a run record.
func (r *Run) Validate() error {
	if !strings.HasPrefix(r.ID, "run-") {
		return fmt.Errorf("run: invalid run id %q", r.ID)
	}
	if r.Workflow == "" {
		return errors.New("run: workflow is required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("run: invalid status %q", r.Status)
	}
	if r.CreatedAt == "" {
		return errors.New("run: created_at is required")
	}
	if err := r.Event.Validate(); err != nil {
		return err
	}
	for i := range r.Jobs {
		if err := r.Jobs[i].Validate(); err != nil {
			return fmt.Errorf("run: job %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks structural requirements of a job record.
func (j *Job) Validate() error {
	if !strings.HasPrefix(j.ID, "job-") {
		return fmt.Errorf("invalid job id %q", j.ID)
	}
	if !strings.HasPrefix(j.RunID, "run-") {
		return fmt.Errorf("invalid run id %q", j.RunID)
	}
	if j.Name == "" {
		return errors.New("job name is required")
	}
	if !j.Status.Valid() {
		return fmt.Errorf("invalid status %q", j.Status)
	}
	for i, step := range j.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if !step.Status.Valid() {
			return fmt.Errorf("step %q: invalid status %q", step.Name, step.Status)
		}
	}
	for i, artifact := range j.Artifacts {
		if err := artifact.Validate(); err != nil {
			return fmt.Errorf("artifact %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks structural requirements of an artifact reference.
func (a *ArtifactRef) Validate() error {
	if a.Name == "" {
		return errors.New("artifact name is required")
	}
	if !strings.HasPrefix(a.Ref, "art-") {
		return fmt.Errorf("invalid artifact ref %q", a.Ref)
	}
	if a.Size < 0 {
		return fmt.Errorf("artifact %q has negative size %d", a.Name, a.Size)
	}
	return nil
}
