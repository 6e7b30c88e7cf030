// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/spf13/pflag"
)

func submitCommand() *cli.Command {
	var (
		socket       string
		workflowName string
		repository   string
		branch       string
		baseBranch   string
		sha          string
		prNumber     int
		changedPaths []string
		outputJSON   bool
	)

	return &cli.Command{
		Name:    "submit",
		Summary: "Submit an event to a running engine",
		Description: `Build a push or pull_request event and submit it over the control
socket. Without --workflow the event is evaluated against every loaded
workflow; with it, only the named one.`,
		Usage: "conveyor submit <push|pull_request> [flags]",
		Examples: []cli.Example{
			{
				Description: "Re-run CI for a pushed commit",
				Command:     "conveyor submit push --branch main --sha 4fd1a2b",
			},
			{
				Description: "Simulate a pull request update against one workflow",
				Command:     "conveyor submit pull_request --pr 42 --branch feature/x --base main --sha 9c03ea1 --workflow ci",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("submit", pflag.ContinueOnError)
			flags.StringVar(&socket, "socket", "", "control socket path (default: $CONVEYOR_SOCKET)")
			flags.StringVarP(&workflowName, "workflow", "w", "", "evaluate only this workflow")
			flags.StringVar(&repository, "repo", "", "repository slug (owner/name)")
			flags.StringVarP(&branch, "branch", "b", "", "branch carrying the code under test")
			flags.StringVar(&baseBranch, "base", "", "base branch a pull request targets")
			flags.StringVar(&sha, "sha", "", "commit SHA the run executes against")
			flags.IntVar(&prNumber, "pr", 0, "pull request number")
			flags.StringSliceVar(&changedPaths, "path", nil, "changed path (repeatable)")
			flags.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one event kind is required: push or pull_request")
			}
			kind := event.Kind(args[0])
			if !kind.Valid() || kind == event.Schedule {
				return fmt.Errorf("unsupported event kind %q: use push or pull_request", args[0])
			}

			ev := event.Event{
				Kind:              kind,
				Repository:        repository,
				Branch:            branch,
				BaseBranch:        baseBranch,
				CommitSHA:         sha,
				PullRequestNumber: prNumber,
				ChangedPaths:      changedPaths,
				ReceivedAt:        time.Now().UTC(),
			}
			if err := ev.Validate(); err != nil {
				return err
			}

			ctx, cancel := callContext()
			defer cancel()

			response, err := engineClient(socket).Submit(ctx, workflowName, ev)
			if err != nil {
				return err
			}

			if outputJSON {
				return cli.WriteJSON(response.Submissions)
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "WORKFLOW\tACCEPTED\tRUN\tREASON")
			for _, submission := range response.Submissions {
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n",
					submission.Workflow,
					submission.Accepted,
					orDash(submission.RunID),
					orDash(submission.Reason),
				)
			}
			return tw.Flush()
		},
	}
}
