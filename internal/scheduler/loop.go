// Package scheduler drives the fixed-interval polling loops. Each loop owns
// one pass function (a reminder dispatch pass or a redeem coordination pass)
// and invokes it repeatedly for the process lifetime with skip-if-running
// semantics: a tick that fires while the previous pass is still in flight is
// skipped, never overlapped, since concurrent passes over the same store
// collection could double-process a document.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// PassFunc is one complete poll pass: scan, act, mutate store.
type PassFunc func(ctx context.Context) error

// Stats is a point-in-time snapshot of a loop's counters, exposed through
// the ops endpoint.
type Stats struct {
	Name      string     `json:"name"`
	Passes    uint64     `json:"passes"`
	Skips     uint64     `json:"skips"`
	Errors    uint64     `json:"errors"`
	LastPass  *time.Time `json:"last_pass,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Loop runs one PassFunc at a fixed interval.
type Loop struct {
	name     string
	interval time.Duration
	pass     PassFunc
	logger   *slog.Logger

	running atomic.Bool
	passes  atomic.Uint64
	skips   atomic.Uint64
	errs    atomic.Uint64

	mu       sync.Mutex
	lastPass time.Time
	lastErr  string
}

// NewLoop creates a loop that invokes pass every interval.
func NewLoop(name string, interval time.Duration, pass PassFunc, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		name:     name,
		interval: interval,
		pass:     pass,
		logger:   logger.With("loop", name),
	}
}

// Run blocks until ctx is cancelled, invoking the pass on every tick. The
// first pass fires immediately rather than one interval in. Errors and
// panics escaping a pass are absorbed and logged so one bad pass never
// terminates the loop.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			l.logger.InfoContext(ctx, "loop stopped", "passes", l.passes.Load())
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick runs one guarded pass. The running flag gives skip-if-running:
// overlapping invocations of the same poller are not a supported mode.
func (l *Loop) tick(ctx context.Context) {
	if !l.running.CompareAndSwap(false, true) {
		l.skips.Add(1)
		l.logger.WarnContext(ctx, "previous pass still running, tick skipped")
		return
	}
	defer l.running.Store(false)

	start := time.Now()
	err := l.safePass(ctx)

	l.passes.Add(1)
	l.mu.Lock()
	l.lastPass = start
	if err != nil {
		l.lastErr = err.Error()
	} else {
		l.lastErr = ""
	}
	l.mu.Unlock()

	if err != nil {
		l.errs.Add(1)
		l.logger.ErrorContext(ctx, "pass failed",
			"error", err,
			"duration", time.Since(start).String(),
		)
		return
	}

	l.logger.DebugContext(ctx, "pass complete",
		"duration", time.Since(start).String(),
	)
}

// safePass converts a pass panic into an error.
func (l *Loop) safePass(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pass panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return l.pass(ctx)
}

// Stats returns a snapshot of the loop's counters.
func (l *Loop) Stats() Stats {
	s := Stats{
		Name:   l.name,
		Passes: l.passes.Load(),
		Skips:  l.skips.Load(),
		Errors: l.errs.Load(),
	}
	l.mu.Lock()
	if !l.lastPass.IsZero() {
		t := l.lastPass
		s.LastPass = &t
	}
	s.LastError = l.lastErr
	l.mu.Unlock()
	return s
}
