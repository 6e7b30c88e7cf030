// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"errors"
	"reflect"
	"testing"
)

const pushBody = `{
	"ref": "refs/heads/main",
	"before": "1111111111111111111111111111111111111111",
	"after": "2222222222222222222222222222222222222222",
	"repository": {"full_name": "acme/widgets"},
	"commits": [
		{
			"id": "aaa",
			"added": ["pkg/new.go"],
			"modified": ["README.md", "pkg/core.go"],
			"removed": []
		},
		{
			"id": "bbb",
			"added": [],
			"modified": ["pkg/core.go"],
			"removed": ["docs/old.md"]
		}
	]
}`

func TestParseWebhookPush(t *testing.T) {
	t.Parallel()

	got, err := ParseWebhook("push", []byte(pushBody))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}

	if got.Kind != Push {
		t.Errorf("Kind = %q, want push", got.Kind)
	}
	if got.Repository != "acme/widgets" {
		t.Errorf("Repository = %q, want acme/widgets", got.Repository)
	}
	if got.Branch != "main" {
		t.Errorf("Branch = %q, want main", got.Branch)
	}
	if got.CommitSHA != "2222222222222222222222222222222222222222" {
		t.Errorf("CommitSHA = %q", got.CommitSHA)
	}
	wantPaths := []string{"pkg/new.go", "README.md", "pkg/core.go", "docs/old.md"}
	if !reflect.DeepEqual(got.ChangedPaths, wantPaths) {
		t.Errorf("ChangedPaths = %v, want %v (deduplicated, first-seen order)", got.ChangedPaths, wantPaths)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate on parsed event: %v", err)
	}
}

func TestParseWebhookPushIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{
			name: "tag_push",
			body: `{"ref": "refs/tags/v1.0.0", "after": "abc", "repository": {"full_name": "acme/widgets"}}`,
		},
		{
			name: "branch_deletion_flag",
			body: `{"ref": "refs/heads/old", "deleted": true, "after": "abc", "repository": {"full_name": "acme/widgets"}}`,
		},
		{
			name: "branch_deletion_zero_sha",
			body: `{"ref": "refs/heads/old", "after": "0000000000000000000000000000000000000000", "repository": {"full_name": "acme/widgets"}}`,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseWebhook("push", []byte(test.body))
			if !errors.Is(err, ErrIgnoredEvent) {
				t.Errorf("ParseWebhook = %v, want ErrIgnoredEvent", err)
			}
		})
	}
}

const pullRequestBody = `{
	"action": "synchronize",
	"number": 17,
	"repository": {"full_name": "acme/widgets"},
	"pull_request": {
		"number": 17,
		"head": {"ref": "feature/faster-builds", "sha": "3333333333333333333333333333333333333333"},
		"base": {"ref": "main"}
	}
}`

func TestParseWebhookPullRequest(t *testing.T) {
	t.Parallel()

	got, err := ParseWebhook("pull_request", []byte(pullRequestBody))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}

	if got.Kind != PullRequest {
		t.Errorf("Kind = %q, want pull_request", got.Kind)
	}
	if got.Branch != "feature/faster-builds" {
		t.Errorf("Branch = %q", got.Branch)
	}
	if got.BaseBranch != "main" {
		t.Errorf("BaseBranch = %q, want main", got.BaseBranch)
	}
	if got.PullRequestNumber != 17 {
		t.Errorf("PullRequestNumber = %d, want 17", got.PullRequestNumber)
	}
	if got.CommitSHA != "3333333333333333333333333333333333333333" {
		t.Errorf("CommitSHA = %q", got.CommitSHA)
	}
	if len(got.ChangedPaths) != 0 {
		t.Errorf("ChangedPaths = %v, want empty (PR payloads carry no file list)", got.ChangedPaths)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate on parsed event: %v", err)
	}
}

func TestParseWebhookPullRequestIgnoredActions(t *testing.T) {
	t.Parallel()

	for _, action := range []string{"closed", "labeled", "review_requested", "edited"} {
		body := `{"action": "` + action + `", "number": 3, "pull_request": {"number": 3, "head": {"ref": "x", "sha": "abc"}}}`
		_, err := ParseWebhook("pull_request", []byte(body))
		if !errors.Is(err, ErrIgnoredEvent) {
			t.Errorf("action %q: ParseWebhook = %v, want ErrIgnoredEvent", action, err)
		}
	}
}

func TestParseWebhookPing(t *testing.T) {
	t.Parallel()

	_, err := ParseWebhook("ping", []byte(`{"zen": "Keep it logically awesome."}`))
	if !errors.Is(err, ErrIgnoredEvent) {
		t.Errorf("ping: ParseWebhook = %v, want ErrIgnoredEvent", err)
	}
}

func TestParseWebhookUnsupported(t *testing.T) {
	t.Parallel()

	_, err := ParseWebhook("workflow_dispatch", []byte(`{}`))
	if !errors.Is(err, ErrUnsupportedEvent) {
		t.Errorf("ParseWebhook = %v, want ErrUnsupportedEvent", err)
	}
}

func TestParseWebhookMalformedJSON(t *testing.T) {
	t.Parallel()

	if _, err := ParseWebhook("push", []byte(`{"ref": `)); err == nil {
		t.Error("expected error for malformed push payload")
	}
	if _, err := ParseWebhook("pull_request", []byte(`[`)); err == nil {
		t.Error("expected error for malformed pull_request payload")
	}
}
