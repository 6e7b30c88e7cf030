// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	singleStep := []StepSpec{{Name: "build", Run: "make build"}}

	tests := []struct {
		name           string
		definition     *Definition
		expectedIssues int
		wantSubstrings []string
	}{
		{
			name: "valid minimal workflow",
			definition: &Definition{
				Name: "ci",
				On:   On{Push: &TriggerRule{}},
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: singleStep}}},
			},
			expectedIssues: 0,
		},
		{
			name: "valid full workflow",
			definition: &Definition{
				Name: "ci",
				On: On{
					Push:        &TriggerRule{Branches: []string{"main", "release/**"}, PathsIgnore: []string{"docs/**"}},
					PullRequest: &TriggerRule{Branches: []string{"main"}},
					Schedule:    []ScheduleRule{{Cron: "0 4 * * 1-5"}},
				},
				Concurrency: &Concurrency{Group: "${workflow}-${run_key}", CancelInProgress: true},
				Jobs: Jobs{{ID: "test", Spec: JobSpec{
					Strategy: &Strategy{Matrix: Matrix{
						Axes:    map[string][]string{"os": {"linux", "darwin"}, "go": {"1.24", "1.25"}},
						Exclude: []map[string]string{{"os": "darwin", "go": "1.24"}},
					}},
					Timeout: "30m",
					Steps: []StepSpec{
						{
							Name:        "unit",
							Run:         "go test ./...",
							Timeout:     "10m",
							GracePeriod: "15s",
							Outputs:     []OutputSpec{{Name: "coverage", Path: "cover.out"}},
						},
						{
							Name:            "report",
							Run:             "./report.sh",
							If:              "always()",
							ContinueOnError: true,
							Outputs:         []OutputSpec{{Name: "summary", FromStdout: true}},
						},
					},
				}}},
			},
			expectedIssues: 0,
		},
		{
			name: "missing workflow name",
			definition: &Definition{
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: singleStep}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"missing workflow name"},
		},
		{
			name:           "workflow without jobs",
			definition:     &Definition{Name: "ci"},
			expectedIssues: 1,
			wantSubstrings: []string{"no jobs"},
		},
		{
			name: "invalid job id",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "2nd job", Spec: JobSpec{Steps: singleStep}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{`invalid job id "2nd job"`},
		},
		{
			name: "job without steps",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"jobs.build: job has no steps"},
		},
		{
			name: "step missing name",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: []StepSpec{{Run: "make"}}}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"missing step name"},
		},
		{
			name: "step missing run",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: []StepSpec{{Name: "hollow"}}}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"missing run command"},
		},
		{
			name: "duplicate step names",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: []StepSpec{
					{Name: "make", Run: "make"},
					{Name: "make", Run: "make again"},
				}}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"duplicate step name (first used at steps[0])"},
		},
		{
			name: "invalid if guard",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: []StepSpec{
					{Name: "odd", Run: "true", If: "cancelled()"},
				}}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"invalid if guard"},
		},
		{
			name: "invalid step timeout",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: []StepSpec{
					{Name: "slow", Run: "true", Timeout: "ten minutes"},
				}}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"invalid duration"},
		},
		{
			name: "negative job timeout",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Timeout: "-5m", Steps: singleStep}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"must be positive"},
		},
		{
			name: "invalid grace period",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: []StepSpec{
					{Name: "s", Run: "true", GracePeriod: "soon"},
				}}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"grace-period", "invalid duration"},
		},
		{
			name: "missing cron expression",
			definition: &Definition{
				Name: "ci",
				On:   On{Schedule: []ScheduleRule{{}}},
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: singleStep}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"on.schedule[0]: missing cron expression"},
		},
		{
			name: "invalid cron expression",
			definition: &Definition{
				Name: "ci",
				On:   On{Schedule: []ScheduleRule{{Cron: "99 * * * *"}}},
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: singleStep}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"invalid cron"},
		},
		{
			name: "empty branch pattern",
			definition: &Definition{
				Name: "ci",
				On:   On{Push: &TriggerRule{Branches: []string{"main", ""}}},
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: singleStep}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"on.push.branches[1]: empty pattern"},
		},
		{
			name: "empty paths-ignore pattern",
			definition: &Definition{
				Name: "ci",
				On:   On{PullRequest: &TriggerRule{PathsIgnore: []string{""}}},
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: singleStep}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"on.pull_request.paths-ignore[0]: empty pattern"},
		},
		{
			name: "unknown concurrency variable",
			definition: &Definition{
				Name:        "ci",
				Concurrency: &Concurrency{Group: "ci-${branchh}"},
				Jobs:        Jobs{{ID: "build", Spec: JobSpec{Steps: singleStep}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"unknown variable ${branchh}"},
		},
		{
			name: "matrix axis without values",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{
					Strategy: &Strategy{Matrix: Matrix{Axes: map[string][]string{"os": {}}}},
					Steps:    singleStep,
				}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{`matrix axis "os" has no values`},
		},
		{
			name: "matrix axis repeats value",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{
					Strategy: &Strategy{Matrix: Matrix{Axes: map[string][]string{"os": {"linux", "linux"}}}},
					Steps:    singleStep,
				}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{`matrix axis "os" repeats value "linux"`},
		},
		{
			name: "matrix exclude references unknown axis",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{
					Strategy: &Strategy{Matrix: Matrix{
						Axes:    map[string][]string{"os": {"linux"}},
						Exclude: []map[string]string{{"arch": "arm64"}},
					}},
					Steps: singleStep,
				}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{`matrix exclude[0] references unknown axis "arch"`},
		},
		{
			name: "empty matrix exclude entry",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{
					Strategy: &Strategy{Matrix: Matrix{
						Axes:    map[string][]string{"os": {"linux"}},
						Exclude: []map[string]string{{}},
					}},
					Steps: singleStep,
				}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"matrix exclude[0] is empty"},
		},
		{
			name: "output missing name",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: []StepSpec{
					{Name: "s", Run: "true", Outputs: []OutputSpec{{Path: "out.txt"}}},
				}}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"output missing name"},
		},
		{
			name: "invalid output name",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: []StepSpec{
					{Name: "s", Run: "true", Outputs: []OutputSpec{{Name: "123-bad", Path: "out.txt"}}},
				}}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{`invalid output name "123-bad"`},
		},
		{
			name: "duplicate output name",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: []StepSpec{
					{Name: "s", Run: "true", Outputs: []OutputSpec{
						{Name: "result", Path: "a.txt"},
						{Name: "result", Path: "b.txt"},
					}},
				}}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{`duplicate output name "result"`},
		},
		{
			name: "output with both path and from-stdout",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: []StepSpec{
					{Name: "s", Run: "true", Outputs: []OutputSpec{{Name: "result", Path: "out.txt", FromStdout: true}}},
				}}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"sets both path and from-stdout"},
		},
		{
			name: "output with neither path nor from-stdout",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: []StepSpec{
					{Name: "s", Run: "true", Outputs: []OutputSpec{{Name: "result"}}},
				}}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"needs either path or from-stdout"},
		},
		{
			name: "output path escapes job directory",
			definition: &Definition{
				Name: "ci",
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: []StepSpec{
					{Name: "s", Run: "true", Outputs: []OutputSpec{{Name: "result", Path: "../secrets.txt"}}},
				}}}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"escapes the job directory"},
		},
		{
			name: "multiple issues",
			definition: &Definition{
				On:   On{Schedule: []ScheduleRule{{Cron: "bad"}}},
				Jobs: Jobs{{ID: "build", Spec: JobSpec{Steps: []StepSpec{
					{Run: "true"},    // missing name
					{Name: "no-run"}, // missing run
				}}}},
			},
			// missing workflow name, invalid cron, missing step name,
			// missing run command
			expectedIssues: 4,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			issues := testCase.definition.Validate()
			if len(issues) != testCase.expectedIssues {
				t.Fatalf("got %d issues, want %d:\n%s", len(issues), testCase.expectedIssues, strings.Join(issues, "\n"))
			}

			for _, substring := range testCase.wantSubstrings {
				found := false
				for _, issue := range issues {
					if strings.Contains(issue, substring) {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("expected issue containing %q, got:\n%s", substring, strings.Join(issues, "\n"))
				}
			}
		})
	}
}
