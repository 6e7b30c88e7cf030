// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/conveyor-ci/conveyor/lib/run"
)

// progressLog writes structured JSONL to a file during job execution.
// Each line is an independent JSON object, making the log:
//
//   - Crash-safe: a SIGKILL mid-job preserves every completed step
//     result. A single JSON document would be truncated and
//     unparseable.
//   - Streamable: the control surface can tail the file for
//     step-by-step progress instead of waiting for completion.
//
// All methods are nil-safe no-ops, so callers without a log directory
// need no branching.
type progressLog struct {
	logger  *slog.Logger
	file    *os.File
	encoder *json.Encoder
}

// newProgressLog creates a JSONL progress log at the given path,
// truncating any existing content.
func newProgressLog(path string, logger *slog.Logger) (*progressLog, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating progress log %s: %w", path, err)
	}
	return &progressLog{
		logger:  logger,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Close flushes and closes the progress log file.
func (p *progressLog) Close() error {
	if p == nil {
		return nil
	}
	return p.file.Close()
}

// writeStart records job execution start.
func (p *progressLog) writeStart(job string, stepCount int, at time.Time) {
	if p == nil {
		return
	}
	p.write(progressStartEntry{
		Type:      "start",
		Job:       job,
		StepCount: stepCount,
		Timestamp: run.Timestamp(at),
	})
}

// writeStep records the outcome of a single step.
func (p *progressLog) writeStep(index int, result run.StepResult) {
	if p == nil {
		return
	}
	p.write(progressStepEntry{
		Type:             "step",
		Index:            index,
		Name:             result.Name,
		Status:           result.Status,
		DurationMS:       result.DurationMS,
		Error:            result.Error,
		ContinuedOnError: result.ContinuedOnError,
	})
}

// writeComplete records the job's terminal status as the last line.
func (p *progressLog) writeComplete(status run.Status, durationMS int64, reason string) {
	if p == nil {
		return
	}
	p.write(progressCompleteEntry{
		Type:       "complete",
		Status:     status,
		DurationMS: durationMS,
		Reason:     reason,
	})
}

func (p *progressLog) write(entry any) {
	if err := p.encoder.Encode(entry); err != nil {
		p.logger.Warn("failed to write progress log entry", "error", err)
		return
	}
	// Sync after each line so partial progress survives a crash and
	// is visible to tailing readers immediately.
	if err := p.file.Sync(); err != nil {
		p.logger.Warn("failed to sync progress log", "error", err)
	}
}

// JSONL entry types. Separate structs per line type keep the wire
// format explicit.

// progressStartEntry is the first line, written at job start.
type progressStartEntry struct {
	Type      string `json:"type"`
	Job       string `json:"job"`
	StepCount int    `json:"step_count"`
	Timestamp string `json:"timestamp"`
}

// progressStepEntry is written after each step completes or is
// skipped.
type progressStepEntry struct {
	Type             string         `json:"type"`
	Index            int            `json:"index"`
	Name             string         `json:"name"`
	Status           run.StepStatus `json:"status"`
	DurationMS       int64          `json:"duration_ms"`
	Error            string         `json:"error,omitempty"`
	ContinuedOnError bool           `json:"continued_on_error,omitempty"`
}

// progressCompleteEntry is the last line, written once the job
// reaches a terminal status.
type progressCompleteEntry struct {
	Type       string     `json:"type"`
	Status     run.Status `json:"status"`
	DurationMS int64      `json:"duration_ms"`
	Reason     string     `json:"reason,omitempty"`
}
