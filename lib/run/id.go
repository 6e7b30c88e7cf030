// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
)

// Run and job identifiers are short BLAKE3 digests over the entity's
// scope plus mint time and a process-local counter. The counter
// disambiguates identifiers minted within the same nanosecond; the
// keyed hash gives domain separation so a run and a job derived from
// identical inputs can never collide.
//
// The domain keys are ASCII domain names zero-padded to the 32 bytes
// BLAKE3 keyed mode requires. Fixed constants: changing them changes
// every identifier minted afterwards.
var (
	runIDDomainKey = [32]byte{
		'c', 'o', 'n', 'v', 'e', 'y', 'o', 'r', '.', 'r', 'u', 'n', '.', 'i', 'd', 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	jobIDDomainKey = [32]byte{
		'c', 'o', 'n', 'v', 'e', 'y', 'o', 'r', '.', 'j', 'o', 'b', '.', 'i', 'd', 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

var idCounter atomic.Uint64

// NewRunID mints a run identifier: "run-" followed by 12 hex
// characters derived from the workflow name, the event's run key,
// and the mint time.
func NewRunID(workflowName, runKey string, at time.Time) string {
	return "run-" + mintID(runIDDomainKey, workflowName+"\x00"+runKey, at)
}

// NewJobID mints a job identifier: "job-" followed by 12 hex
// characters derived from the owning run, the job's label, and the
// mint time.
func NewJobID(runID, label string, at time.Time) string {
	return "job-" + mintID(jobIDDomainKey, runID+"\x00"+label, at)
}

func mintID(key [32]byte, scope string, at time.Time) string {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails on wrong key length, which the array
		// type rules out.
		panic("run: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	var tail [16]byte
	binary.BigEndian.PutUint64(tail[:8], uint64(at.UnixNano()))
	binary.BigEndian.PutUint64(tail[8:], idCounter.Add(1))

	hasher.Write([]byte(scope))
	hasher.Write(tail[:])

	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:6])
}
