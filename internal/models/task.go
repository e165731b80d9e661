package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// State is the lifecycle state reported by the Task API. The API's casing is
// authoritative, so comparisons always go through Normalized.
type State string

const (
	StateInitialized State = "INITIALIZED"
	StateRunning     State = "RUNNING"
	StateSucceeded   State = "SUCCEEDED"
	StateFailed      State = "FAILED"
)

// Normalized returns the lower-cased state
func (s State) Normalized() string {
	return strings.ToLower(strings.TrimSpace(string(s)))
}

// IsTerminal reports whether the task will not change state any further.
// Anything other than running/initialized counts, including values this
// package does not know about.
func (s State) IsTerminal() bool {
	switch s.Normalized() {
	case "running", "initialized":
		return false
	}
	return true
}

// IsSuccess reports whether the state is the success terminal state
func (s State) IsSuccess() bool {
	return s.Normalized() == StateSucceeded.Normalized()
}

// ErrMissingState is returned when a task payload carries no state
var ErrMissingState = errors.New("task payload has no state")

// Task is one server-tracked asynchronous operation. It is read-only here.
type Task struct {
	ID              string          `json:"id"`
	State           State           `json:"state"`
	ProgressPercent int             `json:"progressPercent"`
	DisplayName     string          `json:"displayName,omitempty"`
	SourceResource  *SourceResource `json:"sourceResource,omitempty"`
	Error           *TaskError      `json:"error,omitempty"`
	LogMessages     []LogMessage    `json:"logMessages,omitempty"`
	ChildTasks      []ChildTaskRef  `json:"childTasks,omitempty"`
	RootTask        *TaskRef        `json:"rootTask,omitempty"`
	ParentTask      *TaskRef        `json:"parentTask,omitempty"`
	CreatedAt       *time.Time      `json:"createdAt,omitempty"`
	UpdatedAt       *time.Time      `json:"updatedAt,omitempty"`
}

// SourceResource identifies the entity a task operates on
type SourceResource struct {
	Type        string `json:"type"`
	ResourceURI string `json:"resourceUri"`
	Name        string `json:"name"`
}

// TaskError is populated only on FAILED tasks
type TaskError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

type LogMessage struct {
	Message     string `json:"message"`
	TimestampAt string `json:"timestampAt"`
}

// ChildTaskRef is the lightweight child reference embedded in a parent task
type ChildTaskRef struct {
	Name        string `json:"name"`
	ResourceURI string `json:"resourceUri"`
}

// TaskRef points at a root or parent task; lookup only
type TaskRef struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	ResourceURI string `json:"resourceUri,omitempty"`
}

// UnmarshalJSON decodes a task and fails when state is absent rather than
// defaulting it.
func (t *Task) UnmarshalJSON(data []byte) error {
	type plain Task
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if strings.TrimSpace(string(p.State)) == "" {
		return ErrMissingState
	}
	*t = Task(p)
	return nil
}

// ErrorText returns the error message of a failed task, or "".
func (t *Task) ErrorText() string {
	if t.Error == nil {
		return ""
	}
	return t.Error.Error
}

// LogText concatenates the task's log messages, one per line
func (t *Task) LogText() string {
	messages := make([]string, 0, len(t.LogMessages))
	for _, m := range t.LogMessages {
		messages = append(messages, m.Message)
	}
	return strings.Join(messages, "\n")
}

// TaskPage is one page of a task listing
type TaskPage struct {
	Items  []Task `json:"items"`
	Count  int    `json:"count"`
	Offset int    `json:"offset"`
	Total  int    `json:"total"`
}
