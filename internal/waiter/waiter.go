// Package waiter blocks until a sentinel file appears or a polling budget
// runs out. Each call is independent; the filesystem is the only state.
package waiter

import (
	"context"
	"fmt"
	"os"
	"time"
)

// DefaultInterval is the pause between existence probes.
const DefaultInterval = time.Minute

// Waiter polls for marker files on a fixed interval.
type Waiter struct {
	interval time.Duration
}

// Option adjusts Waiter construction.
type Option func(*Waiter)

// WithInterval overrides the polling interval (tests).
func WithInterval(d time.Duration) Option {
	return func(w *Waiter) {
		if d > 0 {
			w.interval = d
		}
	}
}

// New constructs a Waiter polling once per minute.
func New(opts ...Option) *Waiter {
	w := &Waiter{interval: DefaultInterval}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WaitForMarker polls for path once per interval until it exists or the
// budget of attempts is spent. Returns false on timeout. The budget is
// checked before sleeping, so a zero budget probes exactly once and never
// waits. Context cancellation aborts the wait with the context's error.
func (w *Waiter) WaitForMarker(ctx context.Context, path string, budgetMinutes int) (bool, error) {
	remaining := budgetMinutes
	for {
		if _, err := os.Stat(path); err == nil {
			return true, nil
		}
		if remaining <= 0 {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("waiting for %s: %w", path, ctx.Err())
		case <-time.After(w.interval):
		}
		remaining--
	}
}
