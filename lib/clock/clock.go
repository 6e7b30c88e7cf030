// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the engine so that scheduling,
// admission timestamps, and step timing are deterministic under test.
// Production code injects Real(); tests inject Fake() and advance it
// explicitly.
package clock

import "time"

// Clock is the time surface used by the engine. Any code that would
// otherwise call time.Now, time.After, time.NewTicker, or time.Sleep
// takes a Clock instead, either as a parameter or as a struct field
// set at construction.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering on its C channel every d.
	// Panics if d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker wraps a periodic timer. The C channel has capacity 1; ticks
// are dropped, not queued, when the consumer falls behind. Call Stop
// to release the underlying timer.
type Ticker struct {
	C <-chan time.Time

	stopFunc  func()
	resetFunc func(time.Duration)
}

// Stop turns the ticker off. No sends happen on C after Stop returns,
// and C is never closed.
func (t *Ticker) Stop() { t.stopFunc() }

// Reset restarts the tick cycle with a new interval. The next tick
// arrives after the new duration elapses.
func (t *Ticker) Reset(d time.Duration) { t.resetFunc(d) }
