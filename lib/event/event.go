// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the neutral repository event model that
// drives workflow runs. Forge webhook payloads are parsed into this
// shape at the ingestion boundary; everything downstream (trigger
// filtering, concurrency keys, run records) sees only Event.
package event

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies the origin of an event.
type Kind string

const (
	// Push is a branch push.
	Push Kind = "push"

	// PullRequest is a pull request opened, reopened, or updated
	// with new commits.
	PullRequest Kind = "pull_request"

	// Schedule is a cron-triggered event synthesized by the engine
	// scheduler. It carries no changed paths and no pull request.
	Schedule Kind = "schedule"
)

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	switch k {
	case Push, PullRequest, Schedule:
		return true
	}
	return false
}

// Event is a repository event in Conveyor's neutral form.
type Event struct {
	// Kind classifies the event. Required.
	Kind Kind `json:"kind"`

	// Repository is the "owner/name" slug the event belongs to.
	Repository string `json:"repository,omitempty"`

	// Branch is the branch carrying the code under test: the pushed
	// branch for push events, the head branch for pull requests, the
	// configured default branch for schedule events. Required.
	Branch string `json:"branch"`

	// BaseBranch is the branch a pull request targets. Trigger
	// branch patterns for pull_request events match against this,
	// not Branch: "branches: [main]" means PRs into main. Empty for
	// other kinds.
	BaseBranch string `json:"base_branch,omitempty"`

	// CommitSHA is the commit the run executes against: the new head
	// for pushes, the PR head SHA for pull requests. Empty for
	// schedule events (the run executes whatever the checkout step
	// resolves).
	CommitSHA string `json:"commit_sha,omitempty"`

	// PullRequestNumber is the PR number for pull_request events,
	// zero otherwise.
	PullRequestNumber int `json:"pull_request_number,omitempty"`

	// ChangedPaths lists the repository-relative paths touched by
	// the event, deduplicated, in first-seen order. Empty when the
	// source carries no path information (pull request payloads,
	// schedule events); trigger path filters treat an empty list as
	// "nothing to ignore".
	ChangedPaths []string `json:"changed_paths,omitempty"`

	// ReceivedAt is when the engine accepted the event.
	ReceivedAt time.Time `json:"received_at"`
}

// Validate checks structural requirements for the event's kind.
func (e *Event) Validate() error {
	if !e.Kind.Valid() {
		if e.Kind == "" {
			return errors.New("event: kind is required")
		}
		return fmt.Errorf("event: unknown kind %q", e.Kind)
	}
	if e.Branch == "" {
		return errors.New("event: branch is required")
	}
	switch e.Kind {
	case Push:
		if e.CommitSHA == "" {
			return errors.New("event: commit_sha is required for push events")
		}
	case PullRequest:
		if e.PullRequestNumber < 1 {
			return fmt.Errorf("event: pull_request_number must be >= 1, got %d", e.PullRequestNumber)
		}
		if e.CommitSHA == "" {
			return errors.New("event: commit_sha is required for pull_request events")
		}
		if e.BaseBranch == "" {
			return errors.New("event: base_branch is required for pull_request events")
		}
	case Schedule:
		// Schedule events carry only a branch.
	}
	return nil
}

// RunKey returns the identity used for concurrency grouping: the PR
// number when present, otherwise the commit SHA. Schedule events,
// which have neither, key on the branch.
func (e *Event) RunKey() string {
	if e.PullRequestNumber > 0 {
		return fmt.Sprintf("pr-%d", e.PullRequestNumber)
	}
	if e.CommitSHA != "" {
		return e.CommitSHA
	}
	return e.Branch
}

// String returns a compact description for logging.
func (e *Event) String() string {
	switch e.Kind {
	case PullRequest:
		return fmt.Sprintf("pull_request #%d %s@%s", e.PullRequestNumber, e.Branch, shortSHA(e.CommitSHA))
	case Schedule:
		return fmt.Sprintf("schedule %s", e.Branch)
	default:
		return fmt.Sprintf("%s %s@%s", e.Kind, e.Branch, shortSHA(e.CommitSHA))
	}
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
