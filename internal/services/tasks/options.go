package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"taskwatch/internal/cache"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultMaxInterval  = 10 * time.Second
	DefaultChildTimeout = 3600 * time.Second
)

// Option configures a Waiter
type Option func(*Waiter)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(w *Waiter) {
		if log != nil {
			w.log = log
		}
	}
}

// WithCache records terminal states seen by WaitForTerminalState and lets
// SettleChildTasks skip children already recorded terminal.
func WithCache(c cache.StateCache) Option {
	return func(w *Waiter) { w.cache = c }
}

// WithMaxInterval caps the doubling poll interval
func WithMaxInterval(d time.Duration) Option {
	return func(w *Waiter) {
		if d > 0 {
			w.maxInterval = d
		}
	}
}

// WithChildTimeout sets the budget for each child task in WaitForChildTasks
func WithChildTimeout(d time.Duration) Option {
	return func(w *Waiter) {
		if d > 0 {
			w.childTimeout = d
		}
	}
}

// WithDefaultPollInterval sets the first sleep used when a wait does not pass PollInterval
func WithDefaultPollInterval(d time.Duration) Option {
	return func(w *Waiter) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithClock replaces wall-clock time and sleeping, for tests
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Waiter) {
		w.now = now
		w.sleep = sleep
	}
}

// Stats reports how a single wait went
type Stats struct {
	Polls   int
	Elapsed time.Duration
}

type waitSettings struct {
	pollInterval time.Duration
	message      string
	stats        *Stats
}

// WaitOption tunes a single wait call
type WaitOption func(*waitSettings)

// PollInterval sets the first sleep between polls; later sleeps double from it
func PollInterval(d time.Duration) WaitOption {
	return func(s *waitSettings) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// Message sets the text carried by the TimeoutError if the wait times out
func Message(msg string) WaitOption {
	return func(s *waitSettings) { s.message = msg }
}

// CollectStats fills stats when the wait returns, whatever the outcome
func CollectStats(stats *Stats) WaitOption {
	return func(s *waitSettings) { s.stats = stats }
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
