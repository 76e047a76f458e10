// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so cooldown windows, retry backoff, and
// profile staleness can be tested deterministically. Production code
// injects Real(); tests inject Fake() and call Advance.
//
// Any production function that would call time.Now, time.After, or
// time.Sleep takes a Clock (or sits on a struct with a Clock field)
// instead of reaching for the time package directly.
package clock

import "time"

// Clock is the time surface the session core needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d elapses. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
