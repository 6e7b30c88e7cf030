// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package aggregate folds a run's job records into a run summary and
// publishes the summary's artifacts. Aggregation is pure bookkeeping:
// the aggregate status follows from the job statuses alone, and
// nothing here can retroactively change a job's outcome. Publishing
// is a best-effort side channel: upload failures become summary
// warnings, never run failures.
package aggregate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyor-ci/conveyor/lib/artifact"
	"github.com/conveyor-ci/conveyor/lib/run"
)

// Collect builds the summary for a run from its completed job
// records.
//
// Aggregate status precedence: any failed job fails the run; else any
// cancelled job cancels it; else the run succeeded. A run with no
// jobs succeeded vacuously. The status change goes through the run's
// transition machine; a record that is already terminal (refused
// admission, cancelled before start) keeps its status.
//
// Artifacts merge keyed by the producing job's matrix identity. A
// duplicate artifact name within one identity keeps the later job's
// ref and appends a warning naming both.
func Collect(record run.Run, jobs []run.Job, now time.Time) run.Summary {
	record.Jobs = jobs

	summary := run.Summary{Run: record}

	if !record.Status.Terminal() {
		status := aggregateStatus(jobs)
		if err := summary.Transition(status, now); err != nil {
			// Collect is called once, after the last job completes;
			// an illegal transition here means the engine called it
			// from the wrong state. Record the anomaly instead of
			// losing it.
			summary.Warnings = append(summary.Warnings,
				fmt.Sprintf("status aggregation: %v", err))
		}
		if status == run.StatusCancelled && summary.Reason == "" {
			for _, job := range jobs {
				if job.Status == run.StatusCancelled && job.Reason != "" {
					summary.Reason = job.Reason
					break
				}
			}
		}
	}

	for _, job := range jobs {
		for _, ref := range job.Artifacts {
			identity := ref.MatrixIdentity
			if summary.Artifacts == nil {
				summary.Artifacts = make(map[string][]run.ArtifactRef)
			}
			existing := summary.Artifacts[identity]
			replaced := false
			for i := range existing {
				if existing[i].Name == ref.Name {
					summary.Warnings = append(summary.Warnings, fmt.Sprintf(
						"artifact %q for %q staged twice; keeping %s over %s",
						ref.Name, identity, ref.Ref, existing[i].Ref))
					existing[i] = ref
					replaced = true
					break
				}
			}
			if !replaced {
				summary.Artifacts[identity] = append(existing, ref)
			}
		}
	}

	return summary
}

// aggregateStatus reduces job statuses to the run status.
func aggregateStatus(jobs []run.Job) run.Status {
	anyCancelled := false
	for _, job := range jobs {
		switch job.Status {
		case run.StatusFailed:
			return run.StatusFailed
		case run.StatusCancelled:
			anyCancelled = true
		}
	}
	if anyCancelled {
		return run.StatusCancelled
	}
	return run.StatusSucceeded
}

// Aggregator publishes run summaries: it pushes each summarized
// artifact to the configured uploader. Collection itself is the pure
// Collect function; the Aggregator only owns the side effects.
type Aggregator struct {
	uploader Uploader
	logger   *slog.Logger
}

// New returns an Aggregator publishing through the given uploader.
// A nil uploader discards; a nil logger means slog.Default.
func New(uploader Uploader, logger *slog.Logger) *Aggregator {
	if uploader == nil {
		uploader = NullUploader{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{uploader: uploader, logger: logger}
}

// Publish uploads every artifact in the summary, reading content from
// the store. Upload and read failures are appended to the summary's
// warnings and logged; they never alter run or job status. The
// returned error reports only invariant violations (nil summary, or
// artifacts present without a store).
func (a *Aggregator) Publish(ctx context.Context, summary *run.Summary, store *artifact.Store) error {
	if summary == nil {
		return errors.New("aggregate: nil summary")
	}
	if len(summary.Artifacts) == 0 {
		return nil
	}
	if store == nil {
		return errors.New("aggregate: summary has artifacts but no store was provided")
	}

	for identity, refs := range summary.Artifacts {
		for _, ref := range refs {
			if err := a.publishOne(ctx, summary.ID, identity, ref, store); err != nil {
				warning := fmt.Sprintf("upload %q (%s) for %q: %v", ref.Name, ref.Ref, identity, err)
				summary.Warnings = append(summary.Warnings, warning)
				a.logger.Warn("artifact upload failed",
					"run", summary.ID,
					"artifact", ref.Name,
					"ref", ref.Ref,
					"identity", identity,
					"error", err)
			}
		}
	}
	return nil
}

func (a *Aggregator) publishOne(ctx context.Context, runID, identity string, ref run.ArtifactRef, store *artifact.Store) error {
	data, err := store.Read(ref.Ref)
	if err != nil {
		return err
	}
	return a.uploader.Upload(ctx, runID, identity, ref, bytes.NewReader(data))
}
