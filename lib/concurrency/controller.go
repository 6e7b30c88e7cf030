// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package concurrency

import (
	"fmt"
	"sync"
)

// Controller tracks the active run per concurrency group and decides
// admission for newcomers. It holds no run state beyond the active
// map: the engine owns run records and invokes Release when a run
// reaches a terminal status.
type Controller struct {
	mu     sync.Mutex
	active map[string]activeRun
}

type activeRun struct {
	runID  string
	cancel func(reason string)
}

// Admission is the outcome of an Admit call.
type Admission struct {
	// Admitted reports whether the run may execute.
	Admitted bool

	// Reason explains a refusal: which active run holds the group.
	// Empty when admitted.
	Reason string

	// Superseded is the run id the newcomer displaced, when the
	// group runs with cancel-in-progress. Empty otherwise.
	Superseded string
}

// NewController returns an empty controller.
func NewController() *Controller {
	return &Controller{active: make(map[string]activeRun)}
}

// Admit decides whether a run may execute under its group key.
//
// An empty group key is unconstrained: always admitted, never
// tracked. Otherwise at most one run is active per key. When the key
// is free the run is admitted and becomes active. When the key is
// held and cancelInProgress is true, the incumbent is cancelled and
// the newcomer takes the slot; when false, the newcomer is refused
// and never becomes active.
//
// cancel is invoked if a LATER admission displaces this run. It is
// called exactly once, after the controller's lock is released, so
// it may call back into the controller (Release in particular).
func (c *Controller) Admit(groupKey, runID string, cancelInProgress bool, cancel func(reason string)) Admission {
	if groupKey == "" {
		return Admission{Admitted: true}
	}

	c.mu.Lock()
	incumbent, held := c.active[groupKey]
	if held && !cancelInProgress {
		c.mu.Unlock()
		return Admission{
			Reason: fmt.Sprintf("group %q already has active run %s", groupKey, incumbent.runID),
		}
	}
	c.active[groupKey] = activeRun{runID: runID, cancel: cancel}
	c.mu.Unlock()

	admission := Admission{Admitted: true}
	if held {
		admission.Superseded = incumbent.runID
		if incumbent.cancel != nil {
			incumbent.cancel(fmt.Sprintf("superseded by %s", runID))
		}
	}
	return admission
}

// Release frees the group slot held by runID. A release for a run
// that no longer holds the slot (it was superseded) is a no-op, so
// every run can release unconditionally on completion.
func (c *Controller) Release(groupKey, runID string) {
	if groupKey == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if incumbent, held := c.active[groupKey]; held && incumbent.runID == runID {
		delete(c.active, groupKey)
	}
}

// Active returns the run currently holding a group slot.
func (c *Controller) Active(groupKey string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	incumbent, held := c.active[groupKey]
	return incumbent.runID, held
}

// ActiveGroups returns a snapshot of held groups mapped to their
// active run ids.
func (c *Controller) ActiveGroups() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[string]string, len(c.active))
	for groupKey, incumbent := range c.active {
		snapshot[groupKey] = incumbent.runID
	}
	return snapshot
}
