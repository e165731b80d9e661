package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Wait operations
const (
	OperationTerminalState = "terminal_state"
	OperationError         = "error"
	OperationProgress      = "progress"
	OperationChildTasks    = "child_tasks"
)

// Wait outcomes
const (
	OutcomeCompleted         = "completed"
	OutcomeTimeout           = "timeout"
	OutcomeChildFailure      = "child_failure"
	OutcomeCollaboratorError = "collaborator_error"
	OutcomeCancelled         = "cancelled"
)

// WaitRecord journals the outcome of one wait on a remote task
type WaitRecord struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	TaskID     string    `gorm:"not null;index;column:task_id" json:"task_id"`
	Operation  string    `gorm:"not null" json:"operation"` // terminal_state, error, progress, child_tasks
	Outcome    string    `gorm:"not null" json:"outcome"`   // completed, timeout, child_failure, collaborator_error, cancelled
	Result     string    `gorm:"type:text" json:"result"`   // terminal state or error text
	Polls      int       `gorm:"not null;default:0" json:"polls"`
	DurationMs int64     `gorm:"not null;default:0;column:duration_ms" json:"duration_ms"`
	Detail     string    `gorm:"type:text" json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BeforeCreate hook to generate UUID before creating record
func (r *WaitRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for GORM
func (WaitRecord) TableName() string {
	return "wait_records"
}
