package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nodeo/internal/common/cache"
	"nodeo/internal/evaluator/model"
	appErr "nodeo/pkg/errors"
)

const statusKeyPrefix = "eval:status:"

// StatusKey is the cache key of a run's status document.
func StatusKey(runID string) string {
	return statusKeyPrefix + runID
}

// StatusRepository keeps run status documents in the cache and announces
// final ones through the publisher.
type StatusRepository struct {
	cache     cache.Cache
	TTL       time.Duration
	publisher StatusEventPublisher
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration, publisher StatusEventPublisher) *StatusRepository {
	return &StatusRepository{cache: cacheClient, TTL: ttl, publisher: publisher}
}

// Get returns status by run id.
func (r *StatusRepository) Get(ctx context.Context, runID string) (model.RunStatusResponse, error) {
	if runID == "" {
		return model.RunStatusResponse{}, appErr.ValidationError("run_id", "required")
	}
	if r.cache == nil {
		return model.RunStatusResponse{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, StatusKey(runID))
	if err != nil {
		return model.RunStatusResponse{}, appErr.Wrapf(err, appErr.CacheError, "read status failed")
	}
	if val == "" || val == cache.NullCacheValue {
		return model.RunStatusResponse{}, appErr.New(appErr.RunNotFound).WithDetail("run_id", runID)
	}
	var resp model.RunStatusResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return model.RunStatusResponse{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return resp, nil
}

// Save stores status and, when it is final, publishes it.
func (r *StatusRepository) Save(ctx context.Context, status model.RunStatusResponse) error {
	if status.RunID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if status.Status.IsFinal() && r.publisher == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("status publisher is not configured")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, StatusKey(status.RunID), string(data), cache.JitterTTL(r.TTL)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	if status.Status.IsFinal() {
		return r.publisher.PublishFinalStatus(ctx, status)
	}
	return nil
}
