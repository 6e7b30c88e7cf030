// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package run

import "fmt"

// Summary is the aggregated record of a completed (or refused) run:
// the run itself with its job records, plus run-level artifact and
// warning rollups. Summaries are what the store persists and the
// control surface serves.
type Summary struct {
	Run

	// Artifacts groups every artifact produced by the run's jobs,
	// keyed by the producing job's matrix identity ("" for jobs
	// without a matrix). Within one identity, artifact names are
	// unique; a later step's artifact replaces an earlier one of the
	// same name, with a warning.
	Artifacts map[string][]ArtifactRef `json:"artifacts,omitempty"`

	// Warnings are non-fatal problems observed while aggregating or
	// publishing: duplicate artifact names, upload failures. They
	// never change the run's status.
	Warnings []string `json:"warnings,omitempty"`
}

// Validate checks structural requirements of a summary.
func (s *Summary) Validate() error {
	if err := s.Run.Validate(); err != nil {
		return err
	}
	for identity, refs := range s.Artifacts {
		for i := range refs {
			if err := refs[i].Validate(); err != nil {
				return fmt.Errorf("run: artifacts[%q][%d]: %w", identity, i, err)
			}
		}
	}
	return nil
}
