package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/faceid/internal/logging"
	"github.com/example/faceid/internal/outcome"
	"github.com/example/faceid/internal/repository"
	"github.com/example/faceid/internal/retry"
	"github.com/example/faceid/internal/verification"
)

// AttemptRecord is the stored summary of one submission. It carries no images
// and no identity metadata.
type AttemptRecord struct {
	AttemptID  string       `json:"attempt_id"`
	Route      string       `json:"route"`
	Code       outcome.Code `json:"code"`
	Score      *float64     `json:"score,omitempty"`
	IsReal     *bool        `json:"is_real,omitempty"`
	DurationMs int64        `json:"duration_ms"`
	CreatedAt  time.Time    `json:"created_at"`
}

func attemptCacheKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s", attemptID)
}

// record writes the attempt log and caches it. Failures here are logged and do
// not change the outcome the user already sees.
func (o *Orchestrator) record(ctx context.Context, route verification.Route, attemptID string, code outcome.Code, result *outcome.Outcome, elapsed time.Duration) {
	rec := AttemptRecord{
		AttemptID:  attemptID,
		Route:      route.String(),
		Code:       code,
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  o.now().UTC(),
	}
	if result != nil {
		if result.Match != nil {
			score := result.Match.Score
			rec.Score = &score
		} else if result.Similarity != nil {
			score := *result.Similarity
			rec.Score = &score
		}
		if result.AntiSpoofing != nil {
			isReal := result.AntiSpoofing.IsReal
			rec.IsReal = &isReal
		}
	}

	// The request context may already be past its deadline; audit writes get their own.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	opLogger := logging.WithOperation(o.logger, "usecase.record_attempt", attemptID)
	if err := o.deps.Repo.SaveLog(ctx, &repository.AttemptLog{
		AttemptID:  rec.AttemptID,
		Route:      rec.Route,
		Code:       string(rec.Code),
		Score:      rec.Score,
		IsReal:     rec.IsReal,
		DurationMs: rec.DurationMs,
		CreatedAt:  rec.CreatedAt,
	}); err != nil {
		opLogger.Error("failed to persist attempt log", zap.Error(err))
	}

	serialized, err := json.Marshal(rec)
	if err != nil {
		opLogger.Error("failed to serialize attempt", zap.Error(err))
		return
	}
	if err := o.cacheRetry.Do(ctx, o.logger, "cache.set.attempt", attemptID, func() error {
		return o.deps.Cache.Set(ctx, attemptCacheKey(attemptID), string(serialized), o.cacheTTL)
	}); err != nil {
		opLogger.Error("failed to cache attempt", zap.Error(err))
	}
}

// GetAttempt retrieves a cached attempt or loads it from the attempt log.
func (o *Orchestrator) GetAttempt(ctx context.Context, attemptID string) (*AttemptRecord, error) {
	opLogger := logging.WithOperation(o.logger, "usecase.get_attempt", attemptID)

	cached, err := o.cacheGet(ctx, attemptID, attemptCacheKey(attemptID))
	if err == nil {
		var rec AttemptRecord
		if err := json.Unmarshal([]byte(cached), &rec); err != nil {
			opLogger.Warn("failed to decode cached attempt", zap.Error(err))
		} else {
			return &rec, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	log, err := o.deps.Repo.FindByAttemptID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return &AttemptRecord{
		AttemptID:  log.AttemptID,
		Route:      log.Route,
		Code:       outcome.Code(log.Code),
		Score:      log.Score,
		IsReal:     log.IsReal,
		DurationMs: log.DurationMs,
		CreatedAt:  log.CreatedAt,
	}, nil
}

func cacheRetryPolicy() retry.Policy {
	policy := retry.DefaultPolicy()
	policy.Quiet = func(err error) bool { return errors.Is(err, redis.Nil) }
	return policy
}

func (o *Orchestrator) cacheGet(ctx context.Context, attemptID, key string) (string, error) {
	var value string
	err := o.cacheRetry.Do(ctx, o.logger, "cache.get.attempt", attemptID, func() error {
		v, err := o.deps.Cache.Get(ctx, key)
		value = v
		return err
	})
	return value, err
}

// nopRepository is used when no database is configured.
type nopRepository struct{}

func (nopRepository) SaveLog(context.Context, *repository.AttemptLog) error { return nil }

func (nopRepository) FindByAttemptID(context.Context, string) (*repository.AttemptLog, error) {
	return nil, repository.ErrNotFound
}
