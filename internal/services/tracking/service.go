package tracking

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"taskwatch/internal/events"
	"taskwatch/internal/models"
	"taskwatch/internal/services/tasks"
)

const publishTimeout = 5 * time.Second

// Service runs waits through the waiter and journals and publishes every
// outcome. Journal or publish failures are logged and never change the
// result handed back to the caller.
type Service struct {
	waiter    *tasks.Waiter
	journal   Journal
	publisher events.Publisher
	log       *zap.SugaredLogger
	now       func() time.Time
}

// NewService creates a tracking service. A nil publisher disables events.
func NewService(waiter *tasks.Waiter, journal Journal, publisher events.Publisher, log *zap.SugaredLogger) *Service {
	if publisher == nil {
		publisher = events.Discard{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		waiter:    waiter,
		journal:   journal,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

func (s *Service) WaitForTerminalState(ctx context.Context, taskID string, timeout time.Duration, opts ...tasks.WaitOption) (string, error) {
	var stats tasks.Stats
	state, err := s.waiter.WaitForTerminalState(ctx, taskID, timeout, append(opts, tasks.CollectStats(&stats))...)
	s.record(ctx, taskID, models.OperationTerminalState, state, stats.Polls, stats.Elapsed, err)
	return state, err
}

func (s *Service) WaitForError(ctx context.Context, taskID string, timeout time.Duration, opts ...tasks.WaitOption) (string, error) {
	var stats tasks.Stats
	text, err := s.waiter.WaitForError(ctx, taskID, timeout, append(opts, tasks.CollectStats(&stats))...)
	s.record(ctx, taskID, models.OperationError, text, stats.Polls, stats.Elapsed, err)
	return text, err
}

func (s *Service) WaitForProgress(ctx context.Context, taskID string, targetPercent int, timeout time.Duration, opts ...tasks.WaitOption) error {
	var stats tasks.Stats
	err := s.waiter.WaitForProgress(ctx, taskID, targetPercent, timeout, append(opts, tasks.CollectStats(&stats))...)
	s.record(ctx, taskID, models.OperationProgress, "", stats.Polls, stats.Elapsed, err)
	return err
}

// SettleChildTasks waits for the children of rootTaskID and returns the child
// count it settled on.
func (s *Service) SettleChildTasks(ctx context.Context, rootTaskID string, expectedChildCount int, raiseOnFailure bool) (int, error) {
	var stats tasks.Stats
	count, err := s.waiter.SettleChildTasks(ctx, rootTaskID, expectedChildCount, raiseOnFailure, tasks.CollectStats(&stats))
	s.record(ctx, rootTaskID, models.OperationChildTasks, "", stats.Polls, stats.Elapsed, err)
	return count, err
}

func (s *Service) WaitForChildTasks(ctx context.Context, rootTaskID string, expectedChildCount int, raiseOnFailure bool) error {
	_, err := s.SettleChildTasks(ctx, rootTaskID, expectedChildCount, raiseOnFailure)
	return err
}

// History returns the journaled waits for a task, newest first
func (s *Service) History(ctx context.Context, taskID string) ([]models.WaitRecord, error) {
	return s.journal.ListByTask(ctx, taskID)
}

func (s *Service) record(ctx context.Context, taskID, operation, result string, polls int, elapsed time.Duration, waitErr error) {
	outcome := Classify(waitErr)
	detail := ""
	if waitErr != nil {
		detail = waitErr.Error()
	}

	rec := &models.WaitRecord{
		TaskID:     taskID,
		Operation:  operation,
		Outcome:    outcome,
		Result:     result,
		Polls:      polls,
		DurationMs: elapsed.Milliseconds(),
		Detail:     detail,
	}

	// the wait's own context may already be cancelled
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if s.journal != nil {
		if err := s.journal.Record(bg, rec); err != nil {
			s.log.Warnw("failed to journal wait", "task_id", taskID, "operation", operation, "error", err)
		}
	}

	event := events.WaitEvent{
		TaskID:     taskID,
		Operation:  operation,
		Outcome:    outcome,
		Result:     result,
		Polls:      polls,
		DurationMs: rec.DurationMs,
		Detail:     detail,
		OccurredAt: s.now().UTC(),
	}
	if err := s.publisher.Publish(bg, event); err != nil {
		s.log.Warnw("failed to publish wait event", "task_id", taskID, "operation", operation, "error", err)
	}

	s.log.Infow("wait finished", "task_id", taskID, "operation", operation, "outcome", outcome,
		"result", result, "polls", polls, "duration", elapsed)
}

// Classify maps a wait error onto a journal outcome
func Classify(err error) string {
	switch {
	case err == nil:
		return models.OutcomeCompleted
	case errors.Is(err, tasks.ErrTimeout):
		return models.OutcomeTimeout
	case errors.Is(err, tasks.ErrChildTaskFailed):
		return models.OutcomeChildFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.OutcomeCancelled
	default:
		return models.OutcomeCollaboratorError
	}
}
