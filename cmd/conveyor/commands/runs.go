// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/spf13/pflag"
)

func runsCommand() *cli.Command {
	var (
		socket       string
		workflowName string
		status       string
		limit        int
		outputJSON   bool
	)

	return &cli.Command{
		Name:    "runs",
		Summary: "List stored runs, newest first",
		Usage:   "conveyor runs [flags]",
		Examples: []cli.Example{
			{
				Description: "Recent failures for one workflow",
				Command:     "conveyor runs --workflow ci --status failed",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("runs", pflag.ContinueOnError)
			flags.StringVar(&socket, "socket", "", "control socket path (default: $CONVEYOR_SOCKET)")
			flags.StringVarP(&workflowName, "workflow", "w", "", "filter by workflow name")
			flags.StringVarP(&status, "status", "s", "", "filter by status (pending, running, succeeded, failed, cancelled)")
			flags.IntVarP(&limit, "limit", "n", 0, "maximum rows (0 uses the store default)")
			flags.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			ctx, cancel := callContext()
			defer cancel()

			response, err := engineClient(socket).Runs(ctx, workflowName, status, limit)
			if err != nil {
				return err
			}

			if outputJSON {
				return cli.WriteJSON(response.Runs)
			}
			if len(response.Runs) == 0 {
				fmt.Println("no runs")
				return nil
			}
			return writeRunTable(response.Runs)
		},
	}
}

func summaryCommand() *cli.Command {
	var (
		socket     string
		outputJSON bool
	)

	return &cli.Command{
		Name:    "summary",
		Summary: "Show one run's jobs, steps, and artifacts",
		Usage:   "conveyor summary <run-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("summary", pflag.ContinueOnError)
			flags.StringVar(&socket, "socket", "", "control socket path (default: $CONVEYOR_SOCKET)")
			flags.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one run id is required")
			}

			ctx, cancel := callContext()
			defer cancel()

			summary, err := engineClient(socket).Summary(ctx, args[0])
			if err != nil {
				return err
			}

			if outputJSON {
				return cli.WriteJSON(summary)
			}
			return writeSummary(summary)
		},
	}
}

func cancelCommand() *cli.Command {
	var socket string

	return &cli.Command{
		Name:    "cancel",
		Summary: "Cancel a pending or running run",
		Usage:   "conveyor cancel <run-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("cancel", pflag.ContinueOnError)
			flags.StringVar(&socket, "socket", "", "control socket path (default: $CONVEYOR_SOCKET)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one run id is required")
			}

			ctx, cancel := callContext()
			defer cancel()

			if err := engineClient(socket).Cancel(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("cancellation requested for %s\n", args[0])
			return nil
		},
	}
}
