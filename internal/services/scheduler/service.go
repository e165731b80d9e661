package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"taskwatch/internal/models"
)

// ChildSettler waits for the children of a root task and reports how many it
// settled on. Satisfied by tasks.Waiter and tracking.Service.
type ChildSettler interface {
	SettleChildTasks(ctx context.Context, rootTaskID string, expectedChildCount int, raiseOnFailure bool) (int, error)
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Service runs child watches on cron schedules. Each run feeds the child
// count from the previous run back in, so a run returns at once when no
// new children appeared.
type Service struct {
	db        *gorm.DB
	ctx       context.Context
	cron      *cron.Cron
	watches   map[string]cron.EntryID // watch ID -> cron entry ID
	watchesMu sync.RWMutex
	settler   ChildSettler
	log       *zap.SugaredLogger
	now       func() time.Time
}

// NewService creates a scheduler. Runs use ctx, so cancelling it aborts
// in-flight waits.
func NewService(db *gorm.DB, ctx context.Context, settler ChildSettler, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	// overlapping runs of one watch would race on known_child_count
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
		cron.WithLogger(cronLogger{log}),
	)

	return &Service{
		db:      db,
		ctx:     ctx,
		cron:    c,
		watches: make(map[string]cron.EntryID),
		settler: settler,
		log:     log,
		now:     time.Now,
	}
}

// Start schedules every enabled watch and starts the cron loop
func (s *Service) Start() error {
	var watches []models.ChildWatch
	if err := s.db.Where("enabled = ?", true).Find(&watches).Error; err != nil {
		return fmt.Errorf("failed to load child watches: %w", err)
	}

	for i := range watches {
		watch := &watches[i]
		if err := s.scheduleWatch(watch); err != nil {
			s.log.Warnw("failed to schedule watch", "watch", watch.Name, "id", watch.ID, "error", err)
			continue
		}
		s.log.Infow("scheduled watch", "watch", watch.Name, "id", watch.ID, "cron", watch.Cron, "root_task_id", watch.RootTaskID)
	}

	s.cron.Start()
	s.log.Infow("scheduler started", "watches", len(watches))
	return nil
}

// Stop stops the cron loop and waits for running watches to return
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.log.Info("scheduler stopped")
	}
}

func (s *Service) ListWatches() ([]WatchResponse, error) {
	var watches []models.ChildWatch
	if err := s.db.Order("created_at DESC").Find(&watches).Error; err != nil {
		return nil, fmt.Errorf("failed to list watches: %w", err)
	}

	responses := make([]WatchResponse, len(watches))
	for i := range watches {
		responses[i] = toWatchResponse(&watches[i])
	}
	return responses, nil
}

// UpsertWatch creates or updates the watch named req.Name and reschedules it.
// Pointing a watch at another root task resets its known child count.
func (s *Service) UpsertWatch(req UpsertWatchRequest) (string, error) {
	if req.Name == "" || req.RootTaskID == "" || req.Cron == "" {
		return "", fmt.Errorf("name, root_task_id, and cron are required")
	}

	normalizedCron, err := normalizeCron(req.Cron)
	if err != nil {
		return "", err
	}

	var watch models.ChildWatch
	err = s.db.Where("name = ?", req.Name).First(&watch).Error
	exists := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to query watch: %w", err)
	}

	if !exists {
		watch = models.ChildWatch{Name: req.Name}
	}
	if watch.RootTaskID != req.RootTaskID {
		watch.KnownChildCount = 0
		watch.LastError = ""
	}
	watch.RootTaskID = req.RootTaskID
	watch.Cron = normalizedCron
	watch.RaiseOnFailure = req.RaiseOnFailure
	watch.Enabled = req.Enabled

	schedule, err := cronParser.Parse(watch.Cron)
	if err != nil {
		return "", fmt.Errorf("failed to parse cron for next run: %w", err)
	}
	nextRun := schedule.Next(s.now())
	watch.NextRunAt = &nextRun

	if exists {
		err = s.db.Save(&watch).Error
	} else {
		err = s.db.Create(&watch).Error
	}
	if err != nil {
		return "", fmt.Errorf("failed to save watch: %w", err)
	}

	if err := s.rescheduleWatch(watch.ID); err != nil {
		return "", fmt.Errorf("failed to reschedule watch: %w", err)
	}
	return watch.ID, nil
}

func (s *Service) DeleteWatch(watchID string) error {
	s.unscheduleWatch(watchID)

	result := s.db.Delete(&models.ChildWatch{}, "id = ?", watchID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete watch: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("watch %s not found", watchID)
	}
	return nil
}

// RunWatch runs one watch immediately and records the outcome on it. The
// error from the child wait is returned after the watch row is updated.
func (s *Service) RunWatch(watchID string) error {
	var watch models.ChildWatch
	if err := s.db.First(&watch, "id = ?", watchID).Error; err != nil {
		return fmt.Errorf("failed to load watch %s: %w", watchID, err)
	}

	s.log.Infow("running watch", "watch", watch.Name, "root_task_id", watch.RootTaskID, "known_children", watch.KnownChildCount)

	count, runErr := s.settler.SettleChildTasks(s.ctx, watch.RootTaskID, watch.KnownChildCount, watch.RaiseOnFailure)

	now := s.now()
	watch.LastRunAt = &now
	watch.KnownChildCount = count
	watch.LastError = ""
	if runErr != nil {
		watch.LastError = runErr.Error()
	}
	if schedule, err := cronParser.Parse(watch.Cron); err != nil {
		s.log.Warnw("failed to parse cron for next run", "watch", watch.Name, "error", err)
	} else {
		next := schedule.Next(now)
		watch.NextRunAt = &next
	}

	if err := s.db.Save(&watch).Error; err != nil {
		s.log.Warnw("failed to update watch after run", "watch", watch.Name, "error", err)
	}

	if runErr != nil {
		s.log.Warnw("watch run failed", "watch", watch.Name, "root_task_id", watch.RootTaskID, "error", runErr)
		return runErr
	}
	s.log.Infow("watch run completed", "watch", watch.Name, "children", count)
	return nil
}

func (s *Service) scheduleWatch(watch *models.ChildWatch) error {
	s.unscheduleWatch(watch.ID)
	if !watch.Enabled {
		return nil
	}

	watchID := watch.ID
	entryID, err := s.cron.AddFunc(watch.Cron, func() {
		_ = s.RunWatch(watchID)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron entry: %w", err)
	}

	s.watchesMu.Lock()
	s.watches[watchID] = entryID
	s.watchesMu.Unlock()
	return nil
}

func (s *Service) rescheduleWatch(watchID string) error {
	var watch models.ChildWatch
	if err := s.db.First(&watch, "id = ?", watchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.unscheduleWatch(watchID)
			return nil
		}
		return fmt.Errorf("failed to load watch: %w", err)
	}
	return s.scheduleWatch(&watch)
}

func (s *Service) unscheduleWatch(watchID string) {
	s.watchesMu.Lock()
	defer s.watchesMu.Unlock()
	if entryID, ok := s.watches[watchID]; ok {
		s.cron.Remove(entryID)
		delete(s.watches, watchID)
	}
}

func (s *Service) scheduled(watchID string) bool {
	s.watchesMu.RLock()
	defer s.watchesMu.RUnlock()
	_, ok := s.watches[watchID]
	return ok
}

// normalizeCron turns a 5-field expression into the 6-field, seconds-first
// form stored on watches. 6-field expressions are validated and kept.
func normalizeCron(cronExpr string) (string, error) {
	cronExpr = strings.TrimSpace(cronExpr)
	if strings.HasPrefix(cronExpr, "@") {
		if _, err := cronParser.Parse(cronExpr); err != nil {
			return "", fmt.Errorf("invalid cron expression descriptor: %w", err)
		}
		return cronExpr, nil
	}
	fields := strings.Fields(cronExpr)

	switch len(fields) {
	case 6:
		if _, err := cronParser.Parse(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 6-field cron expression: %w", err)
		}
		return cronExpr, nil
	case 5:
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 5-field cron expression: %w", err)
		}
		return "0 " + cronExpr, nil
	default:
		return "", fmt.Errorf("invalid cron expression: expected 5 or 6 fields, got %d", len(fields))
	}
}

func toWatchResponse(watch *models.ChildWatch) WatchResponse {
	return WatchResponse{
		ID:              watch.ID,
		Name:            watch.Name,
		RootTaskID:      watch.RootTaskID,
		Cron:            watch.Cron,
		RaiseOnFailure:  watch.RaiseOnFailure,
		KnownChildCount: watch.KnownChildCount,
		Enabled:         watch.Enabled,
		LastError:       watch.LastError,
		LastRunAt:       formatTime(watch.LastRunAt),
		NextRun:         formatTime(watch.NextRunAt),
		CreatedAt:       watch.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       watch.UpdatedAt.Format(time.RFC3339),
	}
}

// cronLogger routes cron's own logging through zap
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
