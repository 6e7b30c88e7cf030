// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"

	"github.com/conveyor-ci/conveyor/lib/codec"
	"github.com/conveyor-ci/conveyor/lib/engine"
	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/run"
	"github.com/conveyor-ci/conveyor/lib/runstore"
	"github.com/conveyor-ci/conveyor/lib/version"
	"github.com/conveyor-ci/conveyor/lib/workflow"
)

// Orchestrator is the engine surface the control socket exposes.
// *engine.Engine satisfies it; tests substitute a stub.
type Orchestrator interface {
	SubmitEvent(ctx context.Context, ev event.Event) ([]engine.Submission, error)
	SubmitTo(ctx context.Context, workflowName string, ev event.Event) (engine.Submission, error)
	Cancel(runID string) error
	Summary(ctx context.Context, runID string) (run.Summary, error)
	ListRuns(ctx context.Context, filter runstore.Filter) ([]run.Summary, error)
	Definitions() []*workflow.Definition
	ActiveGroups() map[string]string
}

// RegisterActions wires the full control protocol onto the server.
func RegisterActions(server *Server, orchestrator Orchestrator) {
	server.Handle(ActionPing, func(ctx context.Context, raw []byte) (any, error) {
		return PingResponse{Version: version.Version}, nil
	})

	server.Handle(ActionSubmit, func(ctx context.Context, raw []byte) (any, error) {
		var request SubmitRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		if request.Workflow != "" {
			submission, err := orchestrator.SubmitTo(ctx, request.Workflow, request.Event)
			if err != nil {
				return nil, err
			}
			return SubmitResponse{Submissions: []engine.Submission{submission}}, nil
		}
		submissions, err := orchestrator.SubmitEvent(ctx, request.Event)
		if err != nil {
			return nil, err
		}
		return SubmitResponse{Submissions: submissions}, nil
	})

	server.Handle(ActionSummary, func(ctx context.Context, raw []byte) (any, error) {
		var request SummaryRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		if request.RunID == "" {
			return nil, errors.New("missing required field: run_id")
		}
		return orchestrator.Summary(ctx, request.RunID)
	})

	server.Handle(ActionRuns, func(ctx context.Context, raw []byte) (any, error) {
		var request RunsRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		summaries, err := orchestrator.ListRuns(ctx, runstore.Filter{
			Workflow: request.Workflow,
			Status:   run.Status(request.Status),
			Limit:    request.Limit,
		})
		if err != nil {
			return nil, err
		}
		return RunsResponse{Runs: summaries}, nil
	})

	server.Handle(ActionCancel, func(ctx context.Context, raw []byte) (any, error) {
		var request CancelRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		if request.RunID == "" {
			return nil, errors.New("missing required field: run_id")
		}
		return nil, orchestrator.Cancel(request.RunID)
	})

	server.Handle(ActionWorkflows, func(ctx context.Context, raw []byte) (any, error) {
		definitions := orchestrator.Definitions()
		infos := make([]WorkflowInfo, 0, len(definitions))
		for _, def := range definitions {
			infos = append(infos, WorkflowInfo{
				Name:     def.Name,
				Triggers: describeTriggers(def.On),
				Jobs:     def.Jobs.IDs(),
			})
		}
		return WorkflowsResponse{Workflows: infos}, nil
	})

	server.Handle(ActionActive, func(ctx context.Context, raw []byte) (any, error) {
		return ActiveResponse{Groups: orchestrator.ActiveGroups()}, nil
	})
}

// describeTriggers renders a definition's triggers as compact display
// strings: "push", "pull_request", "schedule(0 3 * * *)".
func describeTriggers(on workflow.On) []string {
	var triggers []string
	if on.Push != nil {
		triggers = append(triggers, string(event.Push))
	}
	if on.PullRequest != nil {
		triggers = append(triggers, string(event.PullRequest))
	}
	for _, rule := range on.Schedule {
		triggers = append(triggers, "schedule("+rule.Cron+")")
	}
	return triggers
}
