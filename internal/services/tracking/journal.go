package tracking

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"taskwatch/internal/models"
)

// Journal persists wait outcomes
type Journal interface {
	Record(ctx context.Context, rec *models.WaitRecord) error
	ListByTask(ctx context.Context, taskID string) ([]models.WaitRecord, error)
}

// GormJournal stores WaitRecords through gorm
type GormJournal struct {
	db *gorm.DB
}

func NewGormJournal(db *gorm.DB) *GormJournal {
	return &GormJournal{db: db}
}

func (j *GormJournal) Record(ctx context.Context, rec *models.WaitRecord) error {
	if err := j.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create wait record: %w", err)
	}
	return nil
}

func (j *GormJournal) ListByTask(ctx context.Context, taskID string) ([]models.WaitRecord, error) {
	var records []models.WaitRecord
	err := j.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list wait records: %w", err)
	}
	return records, nil
}
