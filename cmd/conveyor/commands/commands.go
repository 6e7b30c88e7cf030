// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the conveyor CLI command tree.
package commands

import (
	"fmt"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/lib/version"
)

// Root builds and returns the complete conveyor CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "conveyor",
		Description: `Conveyor: CI run orchestration.

Validate workflow definitions, execute one-shot local runs, and
operate a running conveyor-engine over its control socket.`,
		Subcommands: []*cli.Command{
			validateCommand(),
			localRunCommand(),
			submitCommand(),
			runsCommand(),
			summaryCommand(),
			cancelCommand(),
			workflowsCommand(),
			activeCommand(),
			pingCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("conveyor %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Check a workflow definition before committing it",
				Command:     "conveyor validate .conveyor/ci.yaml",
			},
			{
				Description: "Execute a workflow locally without a daemon",
				Command:     "conveyor run .conveyor/ci.yaml --branch main",
			},
			{
				Description: "Submit a push event to a running engine",
				Command:     "conveyor submit push --branch main --sha 4fd1a2b",
			},
			{
				Description: "List recent failed runs",
				Command:     "conveyor runs --status failed --limit 10",
			},
			{
				Description: "Inspect one run's jobs and steps",
				Command:     "conveyor summary run-4fd1a2b9c03e",
			},
		},
	}
}
