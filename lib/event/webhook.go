// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedEvent is returned by ParseWebhook for event names
// Conveyor does not understand at all.
var ErrUnsupportedEvent = errors.New("event: unsupported webhook event")

// ErrIgnoredEvent is returned by ParseWebhook for payloads that are
// recognized but intentionally produce no run: ping deliveries, tag
// pushes, branch deletions, and pull request actions other than
// opened/reopened/synchronize. Callers should acknowledge the
// delivery and move on.
var ErrIgnoredEvent = errors.New("event: ignored webhook event")

// deletedSHA is the all-zero SHA a forge sends as "after" when a
// branch is deleted.
const deletedSHA = "0000000000000000000000000000000000000000"

// pushPayload is the subset of a forge push webhook Conveyor reads.
type pushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Commits []struct {
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
		Removed  []string `json:"removed"`
	} `json:"commits"`
}

// pullRequestPayload is the subset of a forge pull_request webhook
// Conveyor reads.
type pullRequestPayload struct {
	Action     string `json:"action"`
	Number     int    `json:"number"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	PullRequest struct {
		Number int `json:"number"`
		Head   struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
}

// runnablePRActions are the pull_request actions that start runs,
// matching the conventional forge default.
var runnablePRActions = map[string]bool{
	"opened":      true,
	"reopened":    true,
	"synchronize": true,
}

// ParseWebhook decodes a forge webhook delivery into an Event. The
// eventName comes from the delivery header (X-GitHub-Event or
// equivalent); payload is the raw request body.
//
// Deliveries that cannot produce a run return ErrIgnoredEvent;
// event names Conveyor does not handle return ErrUnsupportedEvent.
// Both are distinguishable with errors.Is.
func ParseWebhook(eventName string, payload []byte) (Event, error) {
	switch eventName {
	case "ping":
		return Event{}, fmt.Errorf("%w: ping delivery", ErrIgnoredEvent)
	case "push":
		return parsePush(payload)
	case "pull_request":
		return parsePullRequest(payload)
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnsupportedEvent, eventName)
	}
}

func parsePush(payload []byte) (Event, error) {
	var p pushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Event{}, fmt.Errorf("event: decoding push payload: %w", err)
	}

	branch, ok := strings.CutPrefix(p.Ref, "refs/heads/")
	if !ok {
		// Tag pushes and other refs never start runs.
		return Event{}, fmt.Errorf("%w: push to %q", ErrIgnoredEvent, p.Ref)
	}
	if p.Deleted || p.After == deletedSHA || p.After == "" {
		return Event{}, fmt.Errorf("%w: deletion of branch %q", ErrIgnoredEvent, branch)
	}

	return Event{
		Kind:         Push,
		Repository:   p.Repository.FullName,
		Branch:       branch,
		CommitSHA:    p.After,
		ChangedPaths: collectChangedPaths(p),
	}, nil
}

// collectChangedPaths unions added, modified, and removed paths
// across all commits in the push, deduplicated in first-seen order.
func collectChangedPaths(p pushPayload) []string {
	seen := make(map[string]bool)
	var paths []string
	add := func(list []string) {
		for _, path := range list {
			if !seen[path] {
				seen[path] = true
				paths = append(paths, path)
			}
		}
	}
	for _, commit := range p.Commits {
		add(commit.Added)
		add(commit.Modified)
		add(commit.Removed)
	}
	return paths
}

func parsePullRequest(payload []byte) (Event, error) {
	var p pullRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Event{}, fmt.Errorf("event: decoding pull_request payload: %w", err)
	}

	if !runnablePRActions[p.Action] {
		return Event{}, fmt.Errorf("%w: pull_request action %q", ErrIgnoredEvent, p.Action)
	}

	number := p.PullRequest.Number
	if number == 0 {
		number = p.Number
	}

	return Event{
		Kind:              PullRequest,
		Repository:        p.Repository.FullName,
		Branch:            p.PullRequest.Head.Ref,
		BaseBranch:        p.PullRequest.Base.Ref,
		CommitSHA:         p.PullRequest.Head.SHA,
		PullRequestNumber: number,
		// Pull request payloads carry no file listing; path filters
		// see an empty set and never reject these events.
	}, nil
}
