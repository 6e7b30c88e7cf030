// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/conveyor-ci/conveyor/lib/cron"
)

// jobIDPattern is the accepted shape of job ids: an identifier that
// may also contain hyphens after the first character.
var jobIDPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// outputNamePattern is the accepted shape of output names. Output
// names become part of environment-adjacent records, so they stay
// strict identifiers.
var outputNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// placeholderPattern finds ${variable} references in a concurrency
// group template.
var placeholderPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// groupKeyVariables are the placeholders resolvable in a concurrency
// group template. Resolution against a concrete event happens at
// admission time; validation only catches references that can never
// resolve.
var groupKeyVariables = map[string]bool{
	"workflow":  true,
	"branch":    true,
	"sha":       true,
	"pr_number": true,
	"run_key":   true,
}

// stepGuards are the accepted step if-guards. The empty guard is
// equivalent to success().
var stepGuards = map[string]bool{
	"":          true,
	"success()": true,
	"failure()": true,
	"always()":  true,
}

// Validate checks a parsed definition for structural problems the
// decoder cannot catch: missing names, duplicate steps, malformed
// crons, empty matrix axes, and the like. It returns a list of
// human-readable issues; an empty list means the definition is
// usable.
func (d *Definition) Validate() []string {
	var issues []string

	if d.Name == "" {
		issues = append(issues, "missing workflow name")
	}

	issues = append(issues, validateTriggers(&d.On)...)

	if d.Concurrency != nil {
		issues = append(issues, validateConcurrency(d.Concurrency)...)
	}

	if len(d.Jobs) == 0 {
		issues = append(issues, "workflow has no jobs")
	}
	for _, entry := range d.Jobs {
		issues = append(issues, validateJob(entry.ID, &entry.Spec)...)
	}

	return issues
}

func validateTriggers(on *On) []string {
	var issues []string

	if on.Push != nil {
		issues = append(issues, validatePatterns(on.Push, "on.push")...)
	}
	if on.PullRequest != nil {
		issues = append(issues, validatePatterns(on.PullRequest, "on.pull_request")...)
	}
	for i, rule := range on.Schedule {
		if rule.Cron == "" {
			issues = append(issues, fmt.Sprintf("on.schedule[%d]: missing cron expression", i))
			continue
		}
		if _, err := cron.Parse(rule.Cron); err != nil {
			issues = append(issues, fmt.Sprintf("on.schedule[%d]: invalid cron %q: %v", i, rule.Cron, err))
		}
	}

	return issues
}

func validatePatterns(rule *TriggerRule, prefix string) []string {
	var issues []string
	for i, pattern := range rule.Branches {
		if pattern == "" {
			issues = append(issues, fmt.Sprintf("%s.branches[%d]: empty pattern", prefix, i))
		}
	}
	for i, pattern := range rule.PathsIgnore {
		if pattern == "" {
			issues = append(issues, fmt.Sprintf("%s.paths-ignore[%d]: empty pattern", prefix, i))
		}
	}
	return issues
}

func validateConcurrency(concurrency *Concurrency) []string {
	var issues []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(concurrency.Group, -1) {
		if !groupKeyVariables[match[1]] {
			issues = append(issues, fmt.Sprintf("concurrency.group: unknown variable ${%s}", match[1]))
		}
	}
	return issues
}

func validateJob(id string, spec *JobSpec) []string {
	var issues []string
	prefix := fmt.Sprintf("jobs.%s", id)

	if !jobIDPattern.MatchString(id) {
		issues = append(issues, fmt.Sprintf("invalid job id %q", id))
	}

	if spec.Timeout != "" {
		issues = append(issues, validateDuration(spec.Timeout, prefix+".timeout")...)
	}

	if spec.Strategy != nil {
		issues = append(issues, validateMatrix(&spec.Strategy.Matrix, prefix)...)
	}

	if len(spec.Steps) == 0 {
		issues = append(issues, fmt.Sprintf("%s: job has no steps", prefix))
	}

	firstByName := make(map[string]int)
	for i, step := range spec.Steps {
		stepPrefix := fmt.Sprintf("%s.steps[%d]", prefix, i)
		if step.Name == "" {
			issues = append(issues, fmt.Sprintf("%s: missing step name", stepPrefix))
		} else {
			stepPrefix = fmt.Sprintf("%s %q", stepPrefix, step.Name)
			if first, duplicate := firstByName[step.Name]; duplicate {
				issues = append(issues, fmt.Sprintf("%s: duplicate step name (first used at steps[%d])", stepPrefix, first))
			} else {
				firstByName[step.Name] = i
			}
		}
		issues = append(issues, validateStep(&step, stepPrefix)...)
	}

	return issues
}

func validateMatrix(matrix *Matrix, prefix string) []string {
	var issues []string

	for axis, values := range matrix.Axes {
		if len(values) == 0 {
			issues = append(issues, fmt.Sprintf("%s: matrix axis %q has no values", prefix, axis))
		}
		firstByValue := make(map[string]bool)
		for _, value := range values {
			if firstByValue[value] {
				issues = append(issues, fmt.Sprintf("%s: matrix axis %q repeats value %q", prefix, axis, value))
			}
			firstByValue[value] = true
		}
	}

	for i, entry := range matrix.Exclude {
		if len(entry) == 0 {
			issues = append(issues, fmt.Sprintf("%s: matrix exclude[%d] is empty", prefix, i))
		}
		for axis := range entry {
			if _, known := matrix.Axes[axis]; !known {
				issues = append(issues, fmt.Sprintf("%s: matrix exclude[%d] references unknown axis %q", prefix, i, axis))
			}
		}
	}

	return issues
}

func validateStep(step *StepSpec, prefix string) []string {
	var issues []string

	if step.Run == "" {
		issues = append(issues, fmt.Sprintf("%s: missing run command", prefix))
	}
	if !stepGuards[step.If] {
		issues = append(issues, fmt.Sprintf("%s: invalid if guard %q (want success(), failure(), or always())", prefix, step.If))
	}
	if step.Timeout != "" {
		issues = append(issues, validateDuration(step.Timeout, prefix+": timeout")...)
	}
	if step.GracePeriod != "" {
		issues = append(issues, validateDuration(step.GracePeriod, prefix+": grace-period")...)
	}

	firstByName := make(map[string]bool)
	for _, output := range step.Outputs {
		if output.Name == "" {
			issues = append(issues, fmt.Sprintf("%s: output missing name", prefix))
			continue
		}
		if !outputNamePattern.MatchString(output.Name) {
			issues = append(issues, fmt.Sprintf("%s: invalid output name %q", prefix, output.Name))
		}
		if firstByName[output.Name] {
			issues = append(issues, fmt.Sprintf("%s: duplicate output name %q", prefix, output.Name))
		}
		firstByName[output.Name] = true

		switch {
		case output.Path != "" && output.FromStdout:
			issues = append(issues, fmt.Sprintf("%s: output %q sets both path and from-stdout", prefix, output.Name))
		case output.Path == "" && !output.FromStdout:
			issues = append(issues, fmt.Sprintf("%s: output %q needs either path or from-stdout", prefix, output.Name))
		case output.Path != "" && !filepath.IsLocal(output.Path):
			issues = append(issues, fmt.Sprintf("%s: output %q path %q escapes the job directory", prefix, output.Name, output.Path))
		}
	}

	return issues
}

func validateDuration(value, what string) []string {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return []string{fmt.Sprintf("%s: invalid duration %q", what, value)}
	}
	if duration <= 0 {
		return []string{fmt.Sprintf("%s: duration must be positive, got %q", what, value)}
	}
	return nil
}
