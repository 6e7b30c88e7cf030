// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "conveyor",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(args []string) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "runs",
				Run: func(args []string) error {
					called = "runs"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"runs"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "runs" {
		t.Errorf("dispatched to %q, want %q", called, "runs")
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var socketPath string
	var target string

	command := &Command{
		Name: "summary",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("summary", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", "/default.sock", "socket path")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute([]string{"--socket", "/custom.sock", "run-4fd1a2b9c03e"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if socketPath != "/custom.sock" {
		t.Errorf("socketPath = %q, want %q", socketPath, "/custom.sock")
	}
	if target != "run-4fd1a2b9c03e" {
		t.Errorf("target = %q, want %q", target, "run-4fd1a2b9c03e")
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "runs",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("runs", pflag.ContinueOnError)
			flagSet.String("workflow", "", "filter by workflow")
			flagSet.String("status", "", "filter by status")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--workfolw", "ci"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "did you mean --workflow") {
		t.Errorf("error = %q, want suggestion for '--workflow'", errStr)
	}
	if !strings.Contains(errStr, "--help") {
		t.Errorf("error = %q, should point to --help", errStr)
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "conveyor",
		Subcommands: []*Command{
			{Name: "runs"},
			{Name: "summary"},
			{Name: "cancel"},
		},
	}

	err := root.Execute([]string{"sumary"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), "did you mean \"summary\"") {
		t.Errorf("error = %q, want suggestion for 'summary'", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandNoSuggestion(t *testing.T) {
	root := &Command{
		Name: "conveyor",
		Subcommands: []*Command{
			{Name: "runs"},
			{Name: "summary"},
		},
	}

	err := root.Execute([]string{"zzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not contain suggestion for distant input", err.Error())
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			root := &Command{
				Name:    "conveyor",
				Summary: "CI run orchestration",
				Subcommands: []*Command{
					{Name: "runs", Summary: "List stored runs"},
				},
			}

			if err := root.Execute([]string{helpArg}); err != nil {
				t.Errorf("Execute(%q) error: %v", helpArg, err)
			}
		})
	}
}

func TestCommand_Execute_NoArgsShowsHelp(t *testing.T) {
	root := &Command{
		Name: "conveyor",
		Subcommands: []*Command{
			{Name: "runs", Summary: "List stored runs"},
		},
	}

	err := root.Execute([]string{})
	if err == nil {
		t.Fatal("Execute() = nil, want error for missing subcommand")
	}
	if !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %q, want 'subcommand required'", err.Error())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	command := &Command{
		Name:        "conveyor",
		Description: "CI run orchestration.",
		Subcommands: []*Command{
			{Name: "validate", Summary: "Check workflow definition files"},
			{Name: "runs", Summary: "List stored runs, newest first"},
			{Name: "version", Summary: "Print version information"},
		},
		Examples: []Example{
			{
				Description: "List recent failed runs",
				Command:     "conveyor runs --status failed",
			},
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"CI run orchestration.",
		"Usage:",
		"conveyor <command> [flags]",
		"Commands:",
		"validate",
		"Check workflow definition files",
		"Examples:",
		"conveyor runs --status failed",
		"Run 'conveyor <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_PrintHelp_WithFlags(t *testing.T) {
	command := &Command{
		Name:    "runs",
		Summary: "List stored runs",
		Usage:   "conveyor runs [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("runs", pflag.ContinueOnError)
			flagSet.String("workflow", "", "filter by workflow name")
			flagSet.Bool("json", false, "output as JSON")
			return flagSet
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"conveyor runs [flags]",
		"Flags:",
		"workflow",
		"json",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_FullName(t *testing.T) {
	root := &Command{Name: "conveyor"}
	runs := &Command{Name: "runs", parent: root}

	if got := root.fullName(); got != "conveyor" {
		t.Errorf("root.fullName() = %q, want %q", got, "conveyor")
	}
	if got := runs.fullName(); got != "conveyor runs" {
		t.Errorf("runs.fullName() = %q, want %q", got, "conveyor runs")
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"runs", "runs", 0},
		{"sumary", "summary", 1},
		{"matrx", "matrix", 1},
		{"cancel", "runs", 6},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
