// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/lib/artifact"
	"github.com/conveyor-ci/conveyor/lib/engine"
	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/run"
	"github.com/conveyor-ci/conveyor/lib/runstore"
	"github.com/conveyor-ci/conveyor/lib/workflow"
	"github.com/spf13/pflag"
)

func localRunCommand() *cli.Command {
	var (
		branch     string
		sha        string
		workers    int
		keep       bool
		outputJSON bool
	)

	return &cli.Command{
		Name:    "run",
		Summary: "Execute a workflow locally, without a daemon",
		Description: `Execute one workflow file to completion in a throwaway environment:
an ephemeral run store, a temporary artifact and log directory, and a
synthesized push event. Triggers are still honored, so a workflow
whose filters reject the event reports that instead of running.

Exits non-zero unless the run succeeds.`,
		Usage: "conveyor run <workflow-file> [flags]",
		Examples: []cli.Example{
			{
				Description: "Dry-run the CI workflow against a feature branch",
				Command:     "conveyor run .conveyor/ci.yaml --branch feature/x --sha 4fd1a2b",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flags.StringVarP(&branch, "branch", "b", "main", "branch for the synthesized push event")
			flags.StringVar(&sha, "sha", "local", "commit SHA for the synthesized push event")
			flags.IntVar(&workers, "workers", 4, "concurrent job executors")
			flags.BoolVar(&keep, "keep", false, "keep the working directory (prints its path)")
			flags.BoolVar(&outputJSON, "json", false, "output the summary as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one workflow file is required")
			}

			def, err := workflow.ReadFile(args[0])
			if err != nil {
				return err
			}
			if issues := def.Validate(); len(issues) > 0 {
				for _, issue := range issues {
					fmt.Fprintf(os.Stderr, "%s: %s\n", args[0], issue)
				}
				return fmt.Errorf("workflow %q is invalid", def.Name)
			}

			workDir, err := os.MkdirTemp("", "conveyor-run-*")
			if err != nil {
				return err
			}
			if keep {
				fmt.Fprintf(os.Stderr, "working directory: %s\n", workDir)
			} else {
				defer os.RemoveAll(workDir)
			}

			logger := cli.NewCommandLogger()

			store, err := runstore.Open(runstore.Config{
				Path:   filepath.Join(workDir, "runs.db"),
				Logger: logger,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			artifacts, err := artifact.Open(filepath.Join(workDir, "artifacts"))
			if err != nil {
				return err
			}

			eng, err := engine.New(engine.Options{
				Store:         store,
				Artifacts:     artifacts,
				Logger:        logger,
				Workers:       workers,
				DefaultBranch: branch,
				RunsDir:       filepath.Join(workDir, "runs"),
			})
			if err != nil {
				return err
			}
			if err := eng.AddDefinition(def); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			eng.Start(ctx)

			submission, err := eng.SubmitTo(ctx, def.Name, event.Event{
				Kind:       event.Push,
				Branch:     branch,
				CommitSHA:  sha,
				ReceivedAt: time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			if !submission.Accepted {
				return fmt.Errorf("workflow %q did not accept the event: %s",
					def.Name, submission.Reason)
			}

			done, ok := eng.RunDone(submission.RunID)
			if !ok {
				return fmt.Errorf("run %s disappeared before completing", submission.RunID)
			}
			<-done
			eng.Wait()

			summary, err := eng.Summary(context.Background(), submission.RunID)
			if err != nil {
				return err
			}

			if outputJSON {
				if err := cli.WriteJSON(summary); err != nil {
					return err
				}
			} else if err := writeSummary(summary); err != nil {
				return err
			}

			if summary.Status != run.StatusSucceeded {
				return fmt.Errorf("run %s %s", summary.ID, summary.Status)
			}
			return nil
		},
	}
}
