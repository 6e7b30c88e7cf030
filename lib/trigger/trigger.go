// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package trigger decides whether an event selects a workflow for
// execution. The decision is a pure function of the workflow's
// trigger rules and the event: no clock, no store, no side effects,
// so the same event against the same rules always decides the same
// way.
package trigger

import (
	"fmt"

	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/workflow"
)

// Decision is the outcome of evaluating a workflow's triggers
// against an event. Reason is only set on rejection and names the
// first rule that failed, for run logs and dry-run output.
type Decision struct {
	Accepted bool
	Reason   string

	// Pattern is the branch pattern the event matched, for accepted
	// rules that constrain branches. Empty otherwise.
	Pattern string
}

func accept() Decision {
	return Decision{Accepted: true}
}

func reject(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Evaluate decides whether an event selects a workflow with the
// given triggers.
//
// Push and pull request events pass through their rule's branch
// patterns first, then paths-ignore. Push rules match the pushed
// branch; pull_request rules match the PR's base branch, so
// "branches: [main]" means PRs into main. Schedule events only check
// that the workflow declares a schedule: the scheduler already chose
// the workflow and the branch, so pattern filters do not apply.
func Evaluate(on workflow.On, ev event.Event) Decision {
	switch ev.Kind {
	case event.Push:
		if on.Push == nil {
			return reject("workflow has no push trigger")
		}
		return evaluateRule(on.Push, ev.Branch, ev.ChangedPaths)
	case event.PullRequest:
		if on.PullRequest == nil {
			return reject("workflow has no pull_request trigger")
		}
		return evaluateRule(on.PullRequest, ev.BaseBranch, ev.ChangedPaths)
	case event.Schedule:
		if len(on.Schedule) == 0 {
			return reject("workflow has no schedule trigger")
		}
		return accept()
	default:
		return reject("unsupported event kind %q", ev.Kind)
	}
}

// evaluateRule applies one trigger rule's filters in order: branch
// patterns, then paths-ignore.
func evaluateRule(rule *workflow.TriggerRule, branch string, changedPaths []string) Decision {
	var matched string
	if len(rule.Branches) > 0 {
		pattern, ok := FirstMatch(rule.Branches, branch)
		if !ok {
			return reject("branch %q matches no branch pattern", branch)
		}
		matched = pattern
	}

	// paths-ignore rejects only when every changed path is ignored.
	// An event that carries no path information (pull requests, empty
	// pushes) is never rejected here: without evidence that a change
	// is docs-only, the run happens.
	if len(rule.PathsIgnore) > 0 && len(changedPaths) > 0 {
		ignored := 0
		for _, path := range changedPaths {
			if !MatchAny(rule.PathsIgnore, path) {
				break
			}
			ignored++
		}
		if ignored == len(changedPaths) {
			return reject("all %d changed paths match paths-ignore", len(changedPaths))
		}
	}

	decision := accept()
	decision.Pattern = matched
	return decision
}
