// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow defines Conveyor workflow definitions and their
// parsing and validation. A workflow names its triggers, an optional
// concurrency group, and a set of jobs; each job optionally expands
// over a build matrix and runs an ordered list of shell steps.
//
// Definitions are authored on disk as YAML (the common case) or as
// JSONC (JSON extended with comments and trailing commas) for
// machine-written files. Both formats decode into the same structs
// with the same field names.
//
// The typical flow:
//
//  1. ReadFile or Parse: bytes → Definition
//  2. Validate: structural checks (steps present, crons parse, matrix
//     axes well-formed, etc.)
//  3. trigger.Accepts: does an event select this workflow?
//  4. matrix.Expand + executor.Run: expand jobs and execute them
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Definition is a parsed workflow.
type Definition struct {
	// Name identifies the workflow. Required; used in concurrency
	// group keys and run records.
	Name string `yaml:"name" json:"name"`

	// On declares which events trigger this workflow. A workflow
	// with no triggers can only be started explicitly.
	On On `yaml:"on,omitempty" json:"on,omitempty"`

	// Concurrency constrains simultaneous runs. Nil means
	// unconstrained: every accepted event starts a run.
	Concurrency *Concurrency `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`

	// Jobs is the ordered set of jobs, keyed by job id. Definition
	// order is preserved for deterministic run layout.
	Jobs Jobs `yaml:"jobs" json:"jobs"`
}

// On declares a workflow's triggers, one rule per event kind.
type On struct {
	// Push triggers on branch pushes. Nil means push events never
	// select this workflow.
	Push *TriggerRule `yaml:"push,omitempty" json:"push,omitempty"`

	// PullRequest triggers on pull requests opened, reopened, or
	// updated with new commits.
	PullRequest *TriggerRule `yaml:"pull_request,omitempty" json:"pull_request,omitempty"`

	// Schedule triggers on cron expressions, evaluated by the engine
	// scheduler against the configured default branch.
	Schedule []ScheduleRule `yaml:"schedule,omitempty" json:"schedule,omitempty"`
}

// TriggerRule filters events of one kind.
type TriggerRule struct {
	// Branches restricts the rule to branches matching any of these
	// glob patterns (*, **, ?). Empty means all branches.
	Branches []string `yaml:"branches,omitempty" json:"branches,omitempty"`

	// PathsIgnore rejects events whose changed paths ALL match at
	// least one of these glob patterns. An event with no path
	// information is never rejected by this filter.
	PathsIgnore []string `yaml:"paths-ignore,omitempty" json:"paths-ignore,omitempty"`
}

// ScheduleRule is one cron entry under on.schedule.
type ScheduleRule struct {
	// Cron is a standard five-field cron expression, evaluated in
	// UTC.
	Cron string `yaml:"cron" json:"cron"`
}

// Concurrency constrains simultaneous runs of a workflow.
type Concurrency struct {
	// Group is a template producing the concurrency group key, with
	// ${variable} placeholders resolved per event: ${workflow},
	// ${branch}, ${sha}, ${pr_number}, and ${run_key} (the PR number
	// when present, otherwise the commit SHA). Empty defaults to
	// "${workflow}-${run_key}".
	Group string `yaml:"group,omitempty" json:"group,omitempty"`

	// CancelInProgress makes a newly admitted run cancel the active
	// run holding the same group key. When false, the NEW run is
	// rejected instead (recorded as cancelled, never queued).
	CancelInProgress bool `yaml:"cancel-in-progress,omitempty" json:"cancel-in-progress,omitempty"`
}

// JobEntry pairs a job id with its spec, preserving definition order.
type JobEntry struct {
	ID   string
	Spec JobSpec
}

// Jobs is an ordered collection of jobs. YAML and JSON both decode
// from a mapping of job id to spec; entry order follows the source
// document.
type Jobs []JobEntry

// Get returns the spec for a job id.
func (j Jobs) Get(id string) (JobSpec, bool) {
	for _, entry := range j {
		if entry.ID == id {
			return entry.Spec, true
		}
	}
	return JobSpec{}, false
}

// IDs returns the job ids in definition order.
func (j Jobs) IDs() []string {
	ids := make([]string, len(j))
	for index, entry := range j {
		ids[index] = entry.ID
	}
	return ids
}

// UnmarshalYAML decodes the jobs mapping while preserving key order.
// yaml.v3 map decoding would lose it.
func (j *Jobs) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("jobs must be a mapping of job id to spec")
	}
	seen := make(map[string]bool)
	for index := 0; index < len(node.Content)-1; index += 2 {
		keyNode := node.Content[index]
		valueNode := node.Content[index+1]
		if seen[keyNode.Value] {
			return fmt.Errorf("duplicate job id %q", keyNode.Value)
		}
		seen[keyNode.Value] = true

		var spec JobSpec
		if err := valueNode.Decode(&spec); err != nil {
			return fmt.Errorf("job %q: %w", keyNode.Value, err)
		}
		*j = append(*j, JobEntry{ID: keyNode.Value, Spec: spec})
	}
	return nil
}

// UnmarshalJSON decodes the jobs object while preserving key order,
// using the token stream rather than an intermediate map.
func (j *Jobs) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	opening, err := decoder.Token()
	if err != nil {
		return fmt.Errorf("jobs: %w", err)
	}
	if delim, ok := opening.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("jobs must be an object of job id to spec")
	}

	seen := make(map[string]bool)
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("jobs: %w", err)
		}
		id := keyToken.(string)
		if seen[id] {
			return fmt.Errorf("duplicate job id %q", id)
		}
		seen[id] = true

		var spec JobSpec
		if err := decoder.Decode(&spec); err != nil {
			return fmt.Errorf("job %q: %w", id, err)
		}
		*j = append(*j, JobEntry{ID: id, Spec: spec})
	}

	if _, err := decoder.Token(); err != nil {
		return fmt.Errorf("jobs: %w", err)
	}
	return nil
}

// JobSpec describes one job: an optional build matrix and an ordered
// list of steps.
type JobSpec struct {
	// Strategy holds the build matrix. Nil (or an empty matrix)
	// produces exactly one job instance with no matrix parameters.
	Strategy *Strategy `yaml:"strategy,omitempty" json:"strategy,omitempty"`

	// Env is merged into every step's environment, under step-level
	// env.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Timeout bounds the whole job, as a Go duration string
	// ("30m", "2h"). Empty uses the engine default.
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Steps run strictly sequentially in order. At least one is
	// required.
	Steps []StepSpec `yaml:"steps" json:"steps"`
}

// Strategy wraps the matrix, matching the conventional config layout
// (jobs.<id>.strategy.matrix.<axis>).
type Strategy struct {
	Matrix Matrix `yaml:"matrix,omitempty" json:"matrix,omitempty"`
}

// Matrix declares the job's build matrix: named axes with their
// values, plus combinations to exclude from the product. Axis values
// keep their literal source text, so an unquoted YAML 3.10 stays
// "3.10" rather than collapsing to the float 3.1.
type Matrix struct {
	// Axes maps axis name to its values, in definition order.
	Axes map[string][]string

	// Exclude removes every product combination that matches all
	// entries of one of these maps.
	Exclude []map[string]string
}

// IsZero reports whether the matrix declares no axes and no
// exclusions.
func (m Matrix) IsZero() bool {
	return len(m.Axes) == 0 && len(m.Exclude) == 0
}

// UnmarshalYAML decodes the matrix mapping. Every key except
// "exclude" is an axis; values are scalar lists captured as their
// literal text.
func (m *Matrix) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("matrix must be a mapping of axis name to value list")
	}
	for index := 0; index < len(node.Content)-1; index += 2 {
		keyNode := node.Content[index]
		valueNode := node.Content[index+1]

		if keyNode.Value == "exclude" {
			exclude, err := decodeExcludeYAML(valueNode)
			if err != nil {
				return err
			}
			m.Exclude = exclude
			continue
		}

		values, err := decodeScalarListYAML(valueNode)
		if err != nil {
			return fmt.Errorf("matrix axis %q: %w", keyNode.Value, err)
		}
		if m.Axes == nil {
			m.Axes = make(map[string][]string)
		}
		m.Axes[keyNode.Value] = values
	}
	return nil
}

func decodeScalarListYAML(node *yaml.Node) ([]string, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("must be a list of scalar values")
	}
	values := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("values must be scalars")
		}
		values = append(values, item.Value)
	}
	return values, nil
}

func decodeExcludeYAML(node *yaml.Node) ([]map[string]string, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("matrix exclude must be a list of mappings")
	}
	exclude := make([]map[string]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("matrix exclude entries must be mappings")
		}
		entry := make(map[string]string, len(item.Content)/2)
		for index := 0; index < len(item.Content)-1; index += 2 {
			keyNode := item.Content[index]
			valueNode := item.Content[index+1]
			if valueNode.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("matrix exclude values must be scalars")
			}
			entry[keyNode.Value] = valueNode.Value
		}
		exclude = append(exclude, entry)
	}
	return exclude, nil
}

// UnmarshalJSON decodes the matrix object, mirroring the YAML rules:
// scalar values keep their literal text ("3.10" stays "3.10").
func (m *Matrix) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("matrix must be an object of axis name to value list: %w", err)
	}

	for key, value := range raw {
		if key == "exclude" {
			var rawEntries []map[string]json.RawMessage
			if err := json.Unmarshal(value, &rawEntries); err != nil {
				return fmt.Errorf("matrix exclude must be a list of objects: %w", err)
			}
			exclude := make([]map[string]string, 0, len(rawEntries))
			for _, rawEntry := range rawEntries {
				entry := make(map[string]string, len(rawEntry))
				for axis, axisValue := range rawEntry {
					text, err := scalarTextJSON(axisValue)
					if err != nil {
						return fmt.Errorf("matrix exclude %q: %w", axis, err)
					}
					entry[axis] = text
				}
				exclude = append(exclude, entry)
			}
			m.Exclude = exclude
			continue
		}

		var rawValues []json.RawMessage
		if err := json.Unmarshal(value, &rawValues); err != nil {
			return fmt.Errorf("matrix axis %q: must be a list of scalar values: %w", key, err)
		}
		values := make([]string, 0, len(rawValues))
		for _, rawValue := range rawValues {
			text, err := scalarTextJSON(rawValue)
			if err != nil {
				return fmt.Errorf("matrix axis %q: %w", key, err)
			}
			values = append(values, text)
		}
		if m.Axes == nil {
			m.Axes = make(map[string][]string)
		}
		m.Axes[key] = values
	}
	return nil
}

// scalarTextJSON returns the literal text of a JSON scalar: strings
// are unquoted, numbers and booleans keep their source form.
func scalarTextJSON(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("values must be scalars")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("values must be scalars")
	default:
		return string(trimmed), nil
	}
}

// StepSpec describes one shell step.
type StepSpec struct {
	// Name identifies the step within its job. Required and unique
	// per job.
	Name string `yaml:"name" json:"name"`

	// Run is the shell command, executed with "sh -c". Required.
	Run string `yaml:"run" json:"run"`

	// ContinueOnError keeps the job going when this step fails; the
	// failure is recorded but does not affect the job's status.
	ContinueOnError bool `yaml:"continue-on-error,omitempty" json:"continue-on-error,omitempty"`

	// If guards execution: "" or "success()" runs the step only
	// while the job has no blocking failure, "failure()" runs it
	// only after one, "always()" runs it regardless.
	If string `yaml:"if,omitempty" json:"if,omitempty"`

	// Env is this step's extra environment, over job env.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Timeout bounds this step, as a Go duration string. Empty uses
	// the engine default.
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// GracePeriod is how long the step's process group has between
	// SIGTERM and SIGKILL when cancelled or timed out.
	GracePeriod string `yaml:"grace-period,omitempty" json:"grace-period,omitempty"`

	// Outputs are captured after the step succeeds.
	Outputs []OutputSpec `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

// OutputSpec declares one captured output of a step: either a file
// staged as an artifact, or the last line of the step's stdout
// recorded as a value.
type OutputSpec struct {
	// Name identifies the output. Required; an identifier
	// ([A-Za-z_][A-Za-z0-9_]*), unique within the step.
	Name string `yaml:"name" json:"name"`

	// Path is a file (relative to the job working directory) staged
	// into the artifact store after the step succeeds.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// FromStdout records the last non-empty line of the step's
	// stdout as the output value. Mutually exclusive with Path.
	FromStdout bool `yaml:"from-stdout,omitempty" json:"from-stdout,omitempty"`
}
