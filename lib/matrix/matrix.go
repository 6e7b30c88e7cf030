// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrix expands a job's build matrix into concrete
// combinations. Expansion is deterministic: axes are ordered by
// name, values keep their definition order, and the resulting
// combinations are stable across runs of the same definition. That
// stability is what lets artifact merging and run comparison key on
// a combination's identity string.
package matrix

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conveyor-ci/conveyor/lib/workflow"
)

// Combination is one point of an expanded matrix, mapping axis name
// to the selected value. A job without a matrix runs as the single
// empty combination.
type Combination map[string]string

// Expand produces the Cartesian product of the matrix's axes, minus
// excluded combinations, in deterministic order: axes sorted by
// name, values cycling fastest on the last sorted axis.
//
// A matrix with no axes expands to exactly one empty combination: a
// job without a matrix still runs once. A matrix whose exclusions
// remove everything expands to none.
//
// An axis that repeats a value is an error: the duplicate would
// produce two jobs indistinguishable by identity.
func Expand(m workflow.Matrix) ([]Combination, error) {
	axes := make([]string, 0, len(m.Axes))
	for axis := range m.Axes {
		axes = append(axes, axis)
	}
	sort.Strings(axes)

	for _, axis := range axes {
		seen := make(map[string]bool, len(m.Axes[axis]))
		for _, value := range m.Axes[axis] {
			if seen[value] {
				return nil, fmt.Errorf("matrix axis %q repeats value %q", axis, value)
			}
			seen[value] = true
		}
		if len(m.Axes[axis]) == 0 {
			return nil, fmt.Errorf("matrix axis %q has no values", axis)
		}
	}

	combinations := []Combination{{}}
	for _, axis := range axes {
		next := make([]Combination, 0, len(combinations)*len(m.Axes[axis]))
		for _, base := range combinations {
			for _, value := range m.Axes[axis] {
				combination := make(Combination, len(base)+1)
				for k, v := range base {
					combination[k] = v
				}
				combination[axis] = value
				next = append(next, combination)
			}
		}
		combinations = next
	}

	if len(m.Exclude) == 0 {
		return combinations, nil
	}

	kept := combinations[:0]
	for _, combination := range combinations {
		if !excluded(combination, m.Exclude) {
			kept = append(kept, combination)
		}
	}
	return kept, nil
}

// excluded reports whether a combination matches any exclude entry.
// An entry matches when every one of its axis=value pairs holds; an
// empty entry matches nothing (validation flags those).
func excluded(combination Combination, exclude []map[string]string) bool {
	for _, entry := range exclude {
		if len(entry) == 0 {
			continue
		}
		matches := true
		for axis, value := range entry {
			if combination[axis] != value {
				matches = false
				break
			}
		}
		if matches {
			return true
		}
	}
	return false
}

// Identity returns the canonical form of a combination: axis=value
// pairs, axes sorted, joined with commas. "go=1.24,os=linux". The
// empty combination's identity is "". Identities are unique within
// one expansion and stable across expansions of the same matrix,
// which makes them usable as merge keys for per-job artifacts.
func (c Combination) Identity() string {
	if len(c) == 0 {
		return ""
	}
	axes := make([]string, 0, len(c))
	for axis := range c {
		axes = append(axes, axis)
	}
	sort.Strings(axes)

	pairs := make([]string, len(axes))
	for i, axis := range axes {
		pairs[i] = axis + "=" + c[axis]
	}
	return strings.Join(pairs, ",")
}

// Label decorates a job id with the combination's values in sorted
// axis order: "test (1.24, linux)". The empty combination returns
// the id unchanged.
func (c Combination) Label(jobID string) string {
	if len(c) == 0 {
		return jobID
	}
	axes := make([]string, 0, len(c))
	for axis := range c {
		axes = append(axes, axis)
	}
	sort.Strings(axes)

	values := make([]string, len(axes))
	for i, axis := range axes {
		values[i] = c[axis]
	}
	return fmt.Sprintf("%s (%s)", jobID, strings.Join(values, ", "))
}

// Environment returns the combination as MATRIX_<AXIS>=value pairs
// for a job's process environment. Axis names are uppercased and
// runes outside [A-Za-z0-9_] become underscores, so axis "node-version"
// yields MATRIX_NODE_VERSION.
func (c Combination) Environment() map[string]string {
	if len(c) == 0 {
		return nil
	}
	environment := make(map[string]string, len(c))
	for axis, value := range c {
		environment["MATRIX_"+environmentName(axis)] = value
	}
	return environment
}

func environmentName(axis string) string {
	mapped := []rune(strings.ToUpper(axis))
	for i, r := range mapped {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			mapped[i] = '_'
		}
	}
	return string(mapped)
}
