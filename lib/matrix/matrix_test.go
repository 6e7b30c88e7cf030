// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"reflect"
	"strings"
	"testing"

	"github.com/conveyor-ci/conveyor/lib/workflow"
)

func identities(combinations []Combination) []string {
	ids := make([]string, len(combinations))
	for i, combination := range combinations {
		ids[i] = combination.Identity()
	}
	return ids
}

func TestExpand(t *testing.T) {
	t.Parallel()

	combinations, err := Expand(workflow.Matrix{Axes: map[string][]string{
		"os": {"linux", "darwin"},
		"go": {"1.24", "1.25"},
	}})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	// Axes sort to [go, os]: go varies slowest, os fastest, values in
	// definition order.
	want := []string{
		"go=1.24,os=linux",
		"go=1.24,os=darwin",
		"go=1.25,os=linux",
		"go=1.25,os=darwin",
	}
	if got := identities(combinations); !reflect.DeepEqual(got, want) {
		t.Errorf("identities = %v, want %v", got, want)
	}
}

func TestExpandDeterministic(t *testing.T) {
	t.Parallel()

	m := workflow.Matrix{Axes: map[string][]string{
		"os":   {"linux", "darwin", "windows"},
		"go":   {"1.24", "1.25"},
		"arch": {"amd64", "arm64"},
	}}

	first, err := Expand(m)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(first) != 12 {
		t.Fatalf("got %d combinations, want 12", len(first))
	}
	second, err := Expand(m)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if !reflect.DeepEqual(identities(first), identities(second)) {
		t.Error("two expansions of the same matrix disagree on order")
	}
}

func TestExpandNoAxes(t *testing.T) {
	t.Parallel()

	combinations, err := Expand(workflow.Matrix{})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(combinations) != 1 {
		t.Fatalf("got %d combinations, want exactly one empty combination", len(combinations))
	}
	if len(combinations[0]) != 0 {
		t.Errorf("combination = %v, want empty", combinations[0])
	}
	if combinations[0].Identity() != "" {
		t.Errorf("empty combination identity = %q, want \"\"", combinations[0].Identity())
	}
	if got := combinations[0].Label("build"); got != "build" {
		t.Errorf("empty combination label = %q, want unchanged id", got)
	}
}

func TestExpandExclude(t *testing.T) {
	t.Parallel()

	combinations, err := Expand(workflow.Matrix{
		Axes: map[string][]string{
			"os": {"linux", "darwin"},
			"go": {"1.24", "1.25"},
		},
		Exclude: []map[string]string{
			{"os": "darwin", "go": "1.24"},
		},
	})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	want := []string{
		"go=1.24,os=linux",
		"go=1.25,os=linux",
		"go=1.25,os=darwin",
	}
	if got := identities(combinations); !reflect.DeepEqual(got, want) {
		t.Errorf("identities = %v, want %v", got, want)
	}
}

func TestExpandExcludePartialKey(t *testing.T) {
	t.Parallel()

	// An exclude naming only one axis removes every combination with
	// that value.
	combinations, err := Expand(workflow.Matrix{
		Axes: map[string][]string{
			"os": {"linux", "darwin"},
			"go": {"1.24", "1.25"},
		},
		Exclude: []map[string]string{{"os": "darwin"}},
	})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	for _, combination := range combinations {
		if combination["os"] == "darwin" {
			t.Errorf("combination %v survived exclusion", combination)
		}
	}
	if len(combinations) != 2 {
		t.Errorf("got %d combinations, want 2", len(combinations))
	}
}

func TestExpandExcludeEverything(t *testing.T) {
	t.Parallel()

	combinations, err := Expand(workflow.Matrix{
		Axes:    map[string][]string{"os": {"linux"}},
		Exclude: []map[string]string{{"os": "linux"}},
	})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(combinations) != 0 {
		t.Errorf("got %d combinations, want none", len(combinations))
	}
}

func TestExpandEmptyExcludeEntryMatchesNothing(t *testing.T) {
	t.Parallel()

	combinations, err := Expand(workflow.Matrix{
		Axes:    map[string][]string{"os": {"linux", "darwin"}},
		Exclude: []map[string]string{{}},
	})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(combinations) != 2 {
		t.Errorf("got %d combinations, want 2 (empty exclude entry must not match)", len(combinations))
	}
}

func TestExpandDuplicateValue(t *testing.T) {
	t.Parallel()

	_, err := Expand(workflow.Matrix{Axes: map[string][]string{
		"os": {"linux", "linux"},
	}})
	if err == nil {
		t.Fatal("Expand accepted a duplicated axis value")
	}
	if !strings.Contains(err.Error(), `repeats value "linux"`) {
		t.Errorf("error = %v", err)
	}
}

func TestExpandEmptyAxis(t *testing.T) {
	t.Parallel()

	_, err := Expand(workflow.Matrix{Axes: map[string][]string{"os": {}}})
	if err == nil {
		t.Fatal("Expand accepted an axis with no values")
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()

	combination := Combination{"os": "linux", "go": "1.24"}
	if got := combination.Label("test"); got != "test (1.24, linux)" {
		t.Errorf("Label = %q, want %q", got, "test (1.24, linux)")
	}
}

func TestEnvironment(t *testing.T) {
	t.Parallel()

	combination := Combination{"os": "linux", "node-version": "22"}
	environment := combination.Environment()

	if got := environment["MATRIX_OS"]; got != "linux" {
		t.Errorf("MATRIX_OS = %q", got)
	}
	if got := environment["MATRIX_NODE_VERSION"]; got != "22" {
		t.Errorf("MATRIX_NODE_VERSION = %q", got)
	}
	if len(environment) != 2 {
		t.Errorf("environment = %v, want 2 entries", environment)
	}

	if Combination(nil).Environment() != nil {
		t.Error("empty combination produced a non-nil environment")
	}
}
