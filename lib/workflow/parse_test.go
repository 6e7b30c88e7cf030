// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const sampleYAML = `
name: ci
on:
  push:
    branches: [main, "release/**"]
    paths-ignore:
      - "docs/**"
      - "*.md"
  pull_request:
    branches: [main]
  schedule:
    - cron: "0 4 * * *"
concurrency:
  group: ci-${branch}
  cancel-in-progress: true
jobs:
  lint:
    steps:
      - name: vet
        run: go vet ./...
  test:
    strategy:
      matrix:
        os: [linux, darwin]
        go: [1.24, 1.25]
        exclude:
          - os: darwin
            go: 1.24
    env:
      CGO_ENABLED: "0"
    timeout: 30m
    steps:
      - name: unit tests
        run: |
          go test ./...
        timeout: 10m
        grace-period: 15s
        env:
          GOFLAGS: -count=1
        outputs:
          - name: coverage
            path: cover.out
      - name: report
        run: ./report.sh
        if: always()
        continue-on-error: true
        outputs:
          - name: summary
            from-stdout: true
`

func TestParse(t *testing.T) {
	t.Parallel()

	definition, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if definition.Name != "ci" {
		t.Errorf("Name = %q, want %q", definition.Name, "ci")
	}

	if definition.On.Push == nil {
		t.Fatal("On.Push is nil")
	}
	if want := []string{"main", "release/**"}; !reflect.DeepEqual(definition.On.Push.Branches, want) {
		t.Errorf("push branches = %v, want %v", definition.On.Push.Branches, want)
	}
	if want := []string{"docs/**", "*.md"}; !reflect.DeepEqual(definition.On.Push.PathsIgnore, want) {
		t.Errorf("push paths-ignore = %v, want %v", definition.On.Push.PathsIgnore, want)
	}
	if definition.On.PullRequest == nil {
		t.Fatal("On.PullRequest is nil")
	}
	if len(definition.On.Schedule) != 1 || definition.On.Schedule[0].Cron != "0 4 * * *" {
		t.Errorf("schedule = %+v, want one entry with cron \"0 4 * * *\"", definition.On.Schedule)
	}

	if definition.Concurrency == nil {
		t.Fatal("Concurrency is nil")
	}
	if definition.Concurrency.Group != "ci-${branch}" {
		t.Errorf("concurrency group = %q", definition.Concurrency.Group)
	}
	if !definition.Concurrency.CancelInProgress {
		t.Error("cancel-in-progress not set")
	}

	if want := []string{"lint", "test"}; !reflect.DeepEqual(definition.Jobs.IDs(), want) {
		t.Errorf("job ids = %v, want %v", definition.Jobs.IDs(), want)
	}

	testJob, ok := definition.Jobs.Get("test")
	if !ok {
		t.Fatal("job test not found")
	}
	if testJob.Timeout != "30m" {
		t.Errorf("job timeout = %q, want 30m", testJob.Timeout)
	}
	if testJob.Env["CGO_ENABLED"] != "0" {
		t.Errorf("job env = %v", testJob.Env)
	}
	if testJob.Strategy == nil {
		t.Fatal("job test has no strategy")
	}

	matrix := testJob.Strategy.Matrix
	if want := []string{"linux", "darwin"}; !reflect.DeepEqual(matrix.Axes["os"], want) {
		t.Errorf("matrix os = %v, want %v", matrix.Axes["os"], want)
	}
	// Unquoted YAML 1.24 must survive as its literal text, not as the
	// float 1.24's formatting.
	if want := []string{"1.24", "1.25"}; !reflect.DeepEqual(matrix.Axes["go"], want) {
		t.Errorf("matrix go = %v, want %v", matrix.Axes["go"], want)
	}
	if len(matrix.Exclude) != 1 || matrix.Exclude[0]["os"] != "darwin" || matrix.Exclude[0]["go"] != "1.24" {
		t.Errorf("matrix exclude = %v", matrix.Exclude)
	}

	if len(testJob.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(testJob.Steps))
	}
	unit := testJob.Steps[0]
	if unit.Name != "unit tests" {
		t.Errorf("step name = %q", unit.Name)
	}
	if !strings.Contains(unit.Run, "go test") {
		t.Errorf("step run = %q", unit.Run)
	}
	if unit.Timeout != "10m" || unit.GracePeriod != "15s" {
		t.Errorf("step timeout = %q, grace = %q", unit.Timeout, unit.GracePeriod)
	}
	if len(unit.Outputs) != 1 || unit.Outputs[0].Name != "coverage" || unit.Outputs[0].Path != "cover.out" {
		t.Errorf("step outputs = %+v", unit.Outputs)
	}

	report := testJob.Steps[1]
	if !report.ContinueOnError {
		t.Error("continue-on-error not set")
	}
	if report.If != "always()" {
		t.Errorf("if = %q, want always()", report.If)
	}
	if len(report.Outputs) != 1 || !report.Outputs[0].FromStdout {
		t.Errorf("report outputs = %+v", report.Outputs)
	}
}

func TestParseJobOrder(t *testing.T) {
	t.Parallel()

	definition, err := Parse([]byte(`
name: ordered
jobs:
  zeta:
    steps: [{name: a, run: "true"}]
  alpha:
    steps: [{name: a, run: "true"}]
  mike:
    steps: [{name: a, run: "true"}]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if want := []string{"zeta", "alpha", "mike"}; !reflect.DeepEqual(definition.Jobs.IDs(), want) {
		t.Errorf("job ids = %v, want definition order %v", definition.Jobs.IDs(), want)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{
			name: "misspelled paths-ignore",
			data: "name: ci\non:\n  push:\n    paths_ignore: [\"docs/**\"]\njobs:\n  a:\n    steps: [{name: s, run: \"true\"}]\n",
		},
		{
			name: "unknown step field",
			data: "name: ci\njobs:\n  a:\n    steps: [{name: s, run: \"true\", shell: bash}]\n",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Parse([]byte(testCase.data)); err == nil {
				t.Fatal("Parse accepted a definition with an unknown field")
			}
		})
	}
}

func TestParseDuplicateJobID(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`
name: ci
jobs:
  build:
    steps: [{name: a, run: "true"}]
  build:
    steps: [{name: b, run: "true"}]
`))
	if err == nil {
		t.Fatal("Parse accepted duplicate job ids")
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	data := []byte(`{
	// Nightly rebuild of the release branch.
	"name": "nightly",
	"on": {
		"schedule": [{"cron": "30 2 * * *"}],
	},
	"jobs": {
		"build": {
			"strategy": {
				"matrix": {
					"go": [1.24, "tip"],
				},
			},
			"steps": [
				{"name": "build", "run": "make build"},
			],
		},
	},
}`)

	definition, err := ParseJSON(data)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if definition.Name != "nightly" {
		t.Errorf("Name = %q", definition.Name)
	}
	if len(definition.On.Schedule) != 1 || definition.On.Schedule[0].Cron != "30 2 * * *" {
		t.Errorf("schedule = %+v", definition.On.Schedule)
	}
	build, ok := definition.Jobs.Get("build")
	if !ok {
		t.Fatal("job build not found")
	}
	// The JSON number 1.24 keeps its literal text alongside the
	// quoted string.
	if want := []string{"1.24", "tip"}; !reflect.DeepEqual(build.Strategy.Matrix.Axes["go"], want) {
		t.Errorf("matrix go = %v, want %v", build.Strategy.Matrix.Axes["go"], want)
	}
}

func TestParseJSONRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := ParseJSON([]byte(`{"name": "x", "jobs": {"a": {"steps": [{"name": "s", "run": "true", "shell": "bash"}]}}}`))
	if err == nil {
		t.Fatal("ParseJSON accepted a definition with an unknown field")
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()

	yamlPath := filepath.Join(directory, "ci.yaml")
	if err := os.WriteFile(yamlPath, []byte("name: ci\njobs:\n  a:\n    steps: [{name: s, run: \"true\"}]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	definition, err := ReadFile(yamlPath)
	if err != nil {
		t.Fatalf("ReadFile yaml: %v", err)
	}
	if definition.Name != "ci" {
		t.Errorf("Name = %q", definition.Name)
	}

	jsoncPath := filepath.Join(directory, "nightly.jsonc")
	if err := os.WriteFile(jsoncPath, []byte(`{"name": "nightly", "jobs": {"a": {"steps": [{"name": "s", "run": "true"}]}}}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	definition, err = ReadFile(jsoncPath)
	if err != nil {
		t.Fatalf("ReadFile jsonc: %v", err)
	}
	if definition.Name != "nightly" {
		t.Errorf("Name = %q", definition.Name)
	}

	otherPath := filepath.Join(directory, "notes.txt")
	if err := os.WriteFile(otherPath, []byte("not a workflow"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadFile(otherPath); err == nil {
		t.Fatal("ReadFile accepted a .txt file")
	}

	if _, err := ReadFile(filepath.Join(directory, "absent.yaml")); err == nil {
		t.Fatal("ReadFile succeeded on a missing file")
	}
}

func TestNameFromPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"workflows/ci.yaml", "ci"},
		{"/etc/conveyor/workflows/nightly.jsonc", "nightly"},
		{"release.yml", "release"},
		{"no-extension", "no-extension"},
	}
	for _, testCase := range tests {
		if got := NameFromPath(testCase.path); got != testCase.want {
			t.Errorf("NameFromPath(%q) = %q, want %q", testCase.path, got, testCase.want)
		}
	}
}

func TestJobsGet(t *testing.T) {
	t.Parallel()

	jobs := Jobs{
		{ID: "build", Spec: JobSpec{Timeout: "5m"}},
		{ID: "test", Spec: JobSpec{Timeout: "10m"}},
	}

	spec, ok := jobs.Get("test")
	if !ok || spec.Timeout != "10m" {
		t.Errorf("Get(test) = %+v, %v", spec, ok)
	}
	if _, ok := jobs.Get("deploy"); ok {
		t.Error("Get(deploy) found a job that does not exist")
	}
}

func TestMatrixScalarLiterals(t *testing.T) {
	t.Parallel()

	definition, err := Parse([]byte(`
name: literals
jobs:
  probe:
    strategy:
      matrix:
        version: [3.10, 3.11, "3.12"]
        enabled: [true, false]
    steps: [{name: s, run: "true"}]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	matrix := mustJob(t, definition, "probe").Strategy.Matrix
	if want := []string{"3.10", "3.11", "3.12"}; !reflect.DeepEqual(matrix.Axes["version"], want) {
		t.Errorf("version axis = %v, want %v", matrix.Axes["version"], want)
	}
	if want := []string{"true", "false"}; !reflect.DeepEqual(matrix.Axes["enabled"], want) {
		t.Errorf("enabled axis = %v, want %v", matrix.Axes["enabled"], want)
	}
}

func mustJob(t *testing.T, definition *Definition, id string) JobSpec {
	t.Helper()
	spec, ok := definition.Jobs.Get(id)
	if !ok {
		t.Fatalf("job %q not found", id)
	}
	return spec
}
