package tasks

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches every *TimeoutError via errors.Is
	ErrTimeout = errors.New("task wait timed out")
	// ErrChildTaskFailed matches every *ChildTaskFailure via errors.Is
	ErrChildTaskFailed = errors.New("child task failed")
)

// TimeoutError means the wait budget ran out before the awaited condition held.
// Message is exactly what the caller supplied and may be empty.
type TimeoutError struct {
	TaskID    string
	Condition string
	Message   string
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("timed out after %v waiting for task %s to %s", e.Elapsed, e.TaskID, e.Condition)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ChildTaskFailure reports a child task that ended in a non-success state.
// Logs holds the child's log messages, one per line.
type ChildTaskFailure struct {
	RootTaskID string
	TaskID     string
	State      string
	Logs       string
}

func (e *ChildTaskFailure) Error() string {
	return fmt.Sprintf("child task %s of %s ended in state %q: %s", e.TaskID, e.RootTaskID, e.State, e.Logs)
}

func (e *ChildTaskFailure) Is(target error) bool {
	return target == ErrChildTaskFailed
}
