// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"github.com/conveyor-ci/conveyor/lib/engine"
	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/run"
)

// Control protocol actions.
const (
	// ActionPing checks liveness and reports the engine version.
	ActionPing = "ping"

	// ActionSubmit submits an event, either to one named workflow or
	// fanned out across every loaded workflow.
	ActionSubmit = "submit"

	// ActionSummary fetches the stored summary of one run.
	ActionSummary = "summary"

	// ActionRuns lists stored run summaries, newest first.
	ActionRuns = "runs"

	// ActionCancel cancels a pending or running run.
	ActionCancel = "cancel"

	// ActionWorkflows lists the loaded workflow definitions.
	ActionWorkflows = "workflows"

	// ActionActive snapshots the held concurrency groups.
	ActionActive = "active"
)

// PingResponse reports engine liveness.
type PingResponse struct {
	Version string `cbor:"version"`
}

// SubmitRequest submits an event. An empty Workflow fans the event
// out to every loaded workflow; otherwise only the named workflow is
// evaluated.
type SubmitRequest struct {
	Action   string      `cbor:"action"`
	Workflow string      `cbor:"workflow,omitempty"`
	Event    event.Event `cbor:"event"`
}

// SubmitResponse carries one submission outcome per evaluated
// workflow.
type SubmitResponse struct {
	Submissions []engine.Submission `cbor:"submissions"`
}

// SummaryRequest fetches one run's summary.
type SummaryRequest struct {
	Action string `cbor:"action"`
	RunID  string `cbor:"run_id"`
}

// RunsRequest lists stored runs. Zero values mean no constraint; a
// zero limit uses the store default.
type RunsRequest struct {
	Action   string `cbor:"action"`
	Workflow string `cbor:"workflow,omitempty"`
	Status   string `cbor:"status,omitempty"`
	Limit    int    `cbor:"limit,omitempty"`
}

// RunsResponse carries the matching summaries, newest first.
type RunsResponse struct {
	Runs []run.Summary `cbor:"runs"`
}

// CancelRequest cancels one run.
type CancelRequest struct {
	Action string `cbor:"action"`
	RunID  string `cbor:"run_id"`
}

// WorkflowInfo describes one loaded workflow definition.
type WorkflowInfo struct {
	Name     string   `cbor:"name"`
	Triggers []string `cbor:"triggers,omitempty"`
	Jobs     []string `cbor:"jobs"`
}

// WorkflowsResponse lists the loaded definitions in load order.
type WorkflowsResponse struct {
	Workflows []WorkflowInfo `cbor:"workflows"`
}

// ActiveResponse maps held concurrency group keys to the run holding
// each.
type ActiveResponse struct {
	Groups map[string]string `cbor:"groups"`
}
