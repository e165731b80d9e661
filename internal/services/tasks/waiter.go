package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taskwatch/internal/cache"
	"taskwatch/internal/models"
)

// TaskSource is the part of the Task API the waiter reads from
type TaskSource interface {
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	ListChildTasks(ctx context.Context, rootTaskID string) ([]models.Task, error)
}

// Waiter blocks until remote tasks reach a condition. It never mutates a task
// and every wait queries the Task API; the optional terminal-state cache is
// written here and read only while settling child tasks.
type Waiter struct {
	source       TaskSource
	log          *zap.SugaredLogger
	cache        cache.StateCache
	pollInterval time.Duration
	maxInterval  time.Duration
	childTimeout time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewWaiter creates a Waiter reading from source
func NewWaiter(source TaskSource, opts ...Option) *Waiter {
	w := &Waiter{
		source:       source,
		log:          zap.NewNop().Sugar(),
		pollInterval: DefaultPollInterval,
		maxInterval:  DefaultMaxInterval,
		childTimeout: DefaultChildTimeout,
		now:          time.Now,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WaitForTerminalState polls taskID until its state is neither running nor
// initialized and returns that state lower-cased. Collaborator errors are
// returned unchanged.
func (w *Waiter) WaitForTerminalState(ctx context.Context, taskID string, timeout time.Duration, opts ...WaitOption) (string, error) {
	settings := w.settings(opts)

	task, err := w.poll(ctx, taskID, timeout, settings, "reach a terminal state", func(t *models.Task) bool {
		return t.State.IsTerminal()
	})
	if err != nil {
		return "", err
	}

	state := task.State.Normalized()
	if w.cache != nil {
		w.cache.Put(taskID, state)
	}
	w.log.Infow("task reached terminal state", "task_id", taskID, "state", state)
	return state, nil
}

// WaitForError polls taskID until its error field is populated and returns
// the error text.
func (w *Waiter) WaitForError(ctx context.Context, taskID string, timeout time.Duration, opts ...WaitOption) (string, error) {
	settings := w.settings(opts)

	task, err := w.poll(ctx, taskID, timeout, settings, "report an error", func(t *models.Task) bool {
		return t.ErrorText() != ""
	})
	if err != nil {
		return "", err
	}

	w.log.Infow("task reported error", "task_id", taskID, "error", task.ErrorText())
	return task.ErrorText(), nil
}

// WaitForProgress polls taskID until progressPercent >= targetPercent. The
// task does not have to be terminal.
func (w *Waiter) WaitForProgress(ctx context.Context, taskID string, targetPercent int, timeout time.Duration, opts ...WaitOption) error {
	settings := w.settings(opts)
	if settings.message == "" {
		settings.message = fmt.Sprintf("task %s did not reach %d%% progress within %v", taskID, targetPercent, timeout)
	}

	task, err := w.poll(ctx, taskID, timeout, settings, fmt.Sprintf("reach %d%% progress", targetPercent), func(t *models.Task) bool {
		return t.ProgressPercent >= targetPercent
	})
	if err != nil {
		return err
	}

	w.log.Infow("task reached progress target", "task_id", taskID, "target", targetPercent, "progress", task.ProgressPercent)
	return nil
}

func (w *Waiter) settings(opts []WaitOption) waitSettings {
	s := waitSettings{pollInterval: w.pollInterval}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// poll fetches the task until done holds or the budget runs out. Sleeps start
// at the poll interval and double up to maxInterval; the last sleep is clipped
// so the final poll lands on the deadline.
func (w *Waiter) poll(ctx context.Context, taskID string, timeout time.Duration, s waitSettings, condition string, done func(*models.Task) bool) (*models.Task, error) {
	start := w.now()
	deadline := start.Add(timeout)
	interval := s.pollInterval
	if interval > w.maxInterval {
		interval = w.maxInterval
	}
	polls := 0

	if s.stats != nil {
		defer func() {
			*s.stats = Stats{Polls: polls, Elapsed: w.now().Sub(start)}
		}()
	}

	for {
		task, err := w.source.GetTask(ctx, taskID)
		polls++
		if err != nil {
			return nil, err
		}
		if done(task) {
			return task, nil
		}

		remaining := deadline.Sub(w.now())
		if remaining <= 0 {
			elapsed := w.now().Sub(start)
			w.log.Warnw("task wait timed out", "task_id", taskID, "condition", condition,
				"state", string(task.State), "progress", task.ProgressPercent, "polls", polls, "elapsed", elapsed)
			return nil, &TimeoutError{
				TaskID:    taskID,
				Condition: condition,
				Message:   s.message,
				Elapsed:   elapsed,
			}
		}

		wait := interval
		if wait > remaining {
			wait = remaining
		}
		w.log.Debugw("task not ready", "task_id", taskID, "condition", condition,
			"state", string(task.State), "progress", task.ProgressPercent, "poll", polls, "next_poll_in", wait)

		if err := w.sleep(ctx, wait); err != nil {
			return nil, err
		}

		interval *= 2
		if interval > w.maxInterval {
			interval = w.maxInterval
		}
	}
}
