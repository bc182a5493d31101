package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/faceid/internal/retry"
)

// ErrNotFound is returned when no attempt matches.
var ErrNotFound = errors.New("attempt not found")

// AttemptLog is the audit record of one submission. It never holds images or
// identity metadata.
type AttemptLog struct {
	ID         uint      `gorm:"primaryKey"`
	AttemptID  string    `gorm:"column:attempt_id;uniqueIndex;size:64"`
	Route      string    `gorm:"column:route;size:16;index"`
	Code       string    `gorm:"column:code;size:32"`
	Score      *float64  `gorm:"column:score"`
	IsReal     *bool     `gorm:"column:is_real"`
	DurationMs int64     `gorm:"column:duration_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (AttemptLog) TableName() string {
	return "attempt_logs"
}

// AttemptRepository persists attempt logs.
type AttemptRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	retry  retry.Policy
}

// Open connects to Postgres at dsn.
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
}

// NewAttemptRepository creates a new repository instance.
func NewAttemptRepository(db *gorm.DB, logger *zap.Logger) *AttemptRepository {
	policy := retry.DefaultPolicy()
	policy.Quiet = isNotFound
	return &AttemptRepository{
		db:     db,
		logger: logger.Named("attempt_repository"),
		retry:  policy,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AttemptRepository) AutoMigrate(ctx context.Context) error {
	return r.do(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&AttemptLog{})
	})
}

// SaveLog persists an attempt log entry.
func (r *AttemptRepository) SaveLog(ctx context.Context, log *AttemptLog) error {
	return r.do(ctx, "repository.save_log", log.AttemptID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByAttemptID retrieves the log for attemptID.
func (r *AttemptRepository) FindByAttemptID(ctx context.Context, attemptID string) (*AttemptLog, error) {
	var log AttemptLog
	err := r.do(ctx, "repository.find_by_attempt_id", attemptID, func() error {
		return r.db.WithContext(ctx).First(&log, "attempt_id = ?", attemptID).Error
	})
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *AttemptRepository) do(ctx context.Context, operation, attemptID string, fn func() error) error {
	return r.retry.Do(ctx, r.logger, operation, attemptID, fn)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
