// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/conveyor-ci/conveyor/lib/control"
	"github.com/conveyor-ci/conveyor/lib/run"
)

// defaultSocketPath matches the engine's listen.socket default.
const defaultSocketPath = "/run/conveyor/engine.sock"

// callTimeout bounds one control call end to end.
const callTimeout = 60 * time.Second

// resolveSocket picks the control socket path: the --socket flag, then
// $CONVEYOR_SOCKET, then the default.
func resolveSocket(override string) string {
	if override != "" {
		return override
	}
	if env := os.Getenv("CONVEYOR_SOCKET"); env != "" {
		return env
	}
	return defaultSocketPath
}

// engineClient builds a control client for the resolved socket.
func engineClient(socketOverride string) *control.Client {
	return control.NewClient(resolveSocket(socketOverride))
}

// callContext returns a bounded context for one control call.
func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

// formatDuration renders a millisecond duration compactly; "-" when
// not yet measured.
func formatDuration(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}

// orDash substitutes "-" for empty table cells.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// writeRunTable renders run summaries as an aligned table.
func writeRunTable(summaries []run.Summary) error {
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "RUN\tWORKFLOW\tSTATUS\tCREATED\tDURATION\tREASON")
	for _, summary := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			summary.ID,
			summary.Workflow,
			summary.Status,
			orDash(summary.CreatedAt),
			formatDuration(summary.DurationMS),
			orDash(summary.Reason),
		)
	}
	return tw.Flush()
}

// writeSummary renders one run with its jobs, steps, and artifacts.
func writeSummary(summary run.Summary) error {
	fmt.Printf("%s  %s  %s\n", summary.ID, summary.Workflow, summary.Status)
	fmt.Printf("  event:    %s\n", summary.Event.String())
	if summary.GroupKey != "" {
		fmt.Printf("  group:    %s\n", summary.GroupKey)
	}
	fmt.Printf("  created:  %s\n", orDash(summary.CreatedAt))
	fmt.Printf("  duration: %s\n", formatDuration(summary.DurationMS))
	if summary.Reason != "" {
		fmt.Printf("  reason:   %s\n", summary.Reason)
	}
	for _, warning := range summary.Warnings {
		fmt.Printf("  warning:  %s\n", warning)
	}

	for _, job := range summary.Jobs {
		fmt.Printf("\n%s  %s  %s\n", job.ID, job.Label, job.Status)
		if job.Reason != "" {
			fmt.Printf("  reason: %s\n", job.Reason)
		}
		tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
		for _, step := range job.Steps {
			detail := ""
			switch {
			case step.Error != "":
				detail = step.Error
			case step.ContinuedOnError:
				detail = "continued on error"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n",
				step.Name, step.Status, formatDuration(step.DurationMS), detail)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	for identity, refs := range summary.Artifacts {
		label := identity
		if label == "" {
			label = "(no matrix)"
		}
		fmt.Printf("\nartifacts %s\n", label)
		for _, ref := range refs {
			fmt.Printf("  %s  %s  %d bytes\n", ref.Name, ref.Ref, ref.Size)
		}
	}
	return nil
}
