package scheduler

import "time"

// WatchResponse is a child watch as reported to operators
type WatchResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	RootTaskID      string  `json:"root_task_id"`
	Cron            string  `json:"cron"`
	RaiseOnFailure  bool    `json:"raise_on_failure"`
	KnownChildCount int     `json:"known_child_count"`
	Enabled         bool    `json:"enabled"`
	LastError       string  `json:"last_error,omitempty"`
	LastRunAt       *string `json:"last_run_at"` // RFC 3339
	NextRun         *string `json:"next_run"`    // RFC 3339
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// UpsertWatchRequest creates a watch or replaces the one with the same name
type UpsertWatchRequest struct {
	Name           string `json:"name"`
	RootTaskID     string `json:"root_task_id"`
	Cron           string `json:"cron"` // 5- or 6-field
	RaiseOnFailure bool   `json:"raise_on_failure"`
	Enabled        bool   `json:"enabled"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
