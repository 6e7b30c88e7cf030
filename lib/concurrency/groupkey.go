// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package concurrency admits workflow runs under their concurrency
// group keys: at most one active run per key, with the workflow
// choosing whether a newcomer cancels the incumbent or is refused.
package concurrency

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/workflow"
)

// DefaultGroupTemplate is the group template used when a workflow
// declares concurrency without naming a group: one slot per workflow
// per run key (PR number or commit).
const DefaultGroupTemplate = "${workflow}-${run_key}"

// variablePattern matches ${name} references in group templates.
// Only the braced form is recognized; names are identifiers.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// GroupKey resolves a workflow's concurrency group template against
// an event. A workflow without a concurrency block gets an empty
// key, meaning unconstrained: every accepted event runs.
//
// Template variables: ${workflow}, ${branch}, ${sha}, ${pr_number},
// and ${run_key} (the PR number when present, otherwise the commit
// SHA). ${pr_number} expands to the empty string for events that are
// not pull requests. A reference to anything else is an error.
func GroupKey(concurrency *workflow.Concurrency, workflowName string, ev event.Event) (string, error) {
	if concurrency == nil {
		return "", nil
	}
	template := concurrency.Group
	if template == "" {
		template = DefaultGroupTemplate
	}

	prNumber := ""
	if ev.PullRequestNumber > 0 {
		prNumber = strconv.Itoa(ev.PullRequestNumber)
	}
	variables := map[string]string{
		"workflow":  workflowName,
		"branch":    ev.Branch,
		"sha":       ev.CommitSHA,
		"pr_number": prNumber,
		"run_key":   ev.RunKey(),
	}

	var unresolved []string
	resolved := variablePattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[2 : len(match)-1]
		if value, exists := variables[name]; exists {
			return value
		}
		unresolved = append(unresolved, name)
		return match
	})
	if len(unresolved) > 0 {
		return "", fmt.Errorf("concurrency group %q: unresolved variables: %s", template, strings.Join(unresolved, ", "))
	}

	return resolved, nil
}
