package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChildWatch is a recurring check of a root task for newly spawned children
type ChildWatch struct {
	ID              string     `gorm:"primaryKey" json:"id"`
	Name            string     `gorm:"unique;not null" json:"name"`
	RootTaskID      string     `gorm:"not null;column:root_task_id" json:"root_task_id"`
	Cron            string     `gorm:"not null" json:"cron"` // 6-field, seconds first
	RaiseOnFailure  bool       `gorm:"not null;column:raise_on_failure" json:"raise_on_failure"`
	KnownChildCount int        `gorm:"not null;default:0;column:known_child_count" json:"known_child_count"`
	Enabled         bool       `gorm:"not null" json:"enabled"`
	LastRunAt       *time.Time `gorm:"column:last_run_at" json:"last_run_at"`
	NextRunAt       *time.Time `gorm:"column:next_run_at" json:"next_run_at"`
	LastError       string     `gorm:"type:text;column:last_error" json:"last_error"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// BeforeCreate hook to generate UUID before creating record
func (w *ChildWatch) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for GORM
func (ChildWatch) TableName() string {
	return "child_watches"
}
