// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/conveyor-ci/conveyor/lib/cron"
	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/workflow"
)

// schedulerInterval is how often the scheduler checks for due cron
// entries. Cron resolution is one minute, so half of that keeps every
// entry within a minute of its nominal time without busy-waiting.
const schedulerInterval = 30 * time.Second

// scheduleEntry is one cron expression of one workflow, with its next
// due time.
type scheduleEntry struct {
	def      *workflow.Definition
	schedule cron.Schedule
	next     time.Time
}

// RunScheduler evaluates the on.schedule entries of every loaded
// workflow against the engine clock, synthesizing schedule events on
// the configured default branch as they come due. Blocks until ctx is
// cancelled. Definitions are snapshotted at entry, matching the
// engine's load-at-startup model.
//
// A tick that arrives late (engine paused, clock jumped) fires each
// missed entry once rather than once per missed occurrence: CI runs
// sample the repository state, so back-filling stale occurrences
// would only duplicate work.
func (e *Engine) RunScheduler(ctx context.Context) {
	logger := e.logger.With("component", "scheduler")

	now := e.clock.Now()
	var entries []*scheduleEntry
	for _, def := range e.Definitions() {
		for _, rule := range def.On.Schedule {
			schedule, err := cron.Parse(rule.Cron)
			if err != nil {
				// Validate rejects malformed crons at load; this
				// guards definitions added through other paths.
				logger.Error("unparseable cron expression",
					"workflow", def.Name, "cron", rule.Cron, "error", err)
				continue
			}
			next, err := schedule.Next(now)
			if err != nil {
				logger.Error("cron expression never fires",
					"workflow", def.Name, "cron", rule.Cron, "error", err)
				continue
			}
			entries = append(entries, &scheduleEntry{def: def, schedule: schedule, next: next})
			logger.Info("schedule registered",
				"workflow", def.Name, "cron", rule.Cron, "next", next)
		}
	}
	if len(entries) == 0 {
		logger.Info("no schedules configured")
		<-ctx.Done()
		return
	}

	ticker := e.clock.NewTicker(schedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			for _, entry := range entries {
				if tick.Before(entry.next) {
					continue
				}
				e.fireSchedule(ctx, entry, tick, logger)
				next, err := entry.schedule.Next(tick)
				if err != nil {
					logger.Error("cron expression has no further occurrence",
						"workflow", entry.def.Name, "error", err)
					entry.next = time.Time{}
					continue
				}
				entry.next = next
			}
		}
	}
}

// fireSchedule submits one due cron occurrence as a schedule event.
func (e *Engine) fireSchedule(ctx context.Context, entry *scheduleEntry, at time.Time, logger *slog.Logger) {
	ev := event.Event{
		Kind:       event.Schedule,
		Branch:     e.defaultBranch,
		ReceivedAt: at,
	}
	submission, err := e.Submit(ctx, entry.def, ev)
	if err != nil {
		logger.Error("scheduled submit failed", "workflow", entry.def.Name, "error", err)
		return
	}
	logger.Info("schedule fired",
		"workflow", entry.def.Name,
		"run", submission.RunID,
		"accepted", submission.Accepted,
		"reason", submission.Reason)
}
