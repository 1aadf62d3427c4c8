package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"nodeo/internal/common/mq"
	"nodeo/internal/evaluator/model"
	appErr "nodeo/pkg/errors"
	"nodeo/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "eval:idem:"
	processingMarker     = "processing"
)

// SubmitInput is a queued run request.
type SubmitInput struct {
	model.RunRequest
	// IdempotencyKey makes retried submissions return the first run id.
	IdempotencyKey string
}

// Submit queues a run and returns its id with the Pending status.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (string, model.RunStatusResponse, error) {
	if s.queue == nil || s.sources == nil || s.statusRepo == nil || s.runTopic == "" {
		return "", model.RunStatusResponse{}, appErr.New(appErr.ServiceUnavailable).WithMessage("run queue is not configured")
	}
	tests, err := s.prepare(input.RunRequest)
	if err != nil {
		return "", model.RunStatusResponse{}, err
	}

	acquired, existingID, err := s.acquireIdempotency(ctx, input.IdempotencyKey)
	if err != nil {
		return "", model.RunStatusResponse{}, err
	}
	if !acquired && existingID != "" {
		status, statusErr := s.statusRepo.Get(ctx, existingID)
		if statusErr != nil {
			return "", model.RunStatusResponse{}, statusErr
		}
		return existingID, status, nil
	}

	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	receivedAt := time.Now().Unix()

	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	sourceKey, sourceHash, err := s.sources.Put(ctxStorage.ctx, runID, input.Code)
	ctxStorage.cancel()
	if err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return "", model.RunStatusResponse{}, err
	}

	language := strings.ToLower(strings.TrimSpace(input.Language))
	pending := model.RunStatusResponse{
		RunID:       runID,
		Language:    language,
		ChallengeID: input.ChallengeID,
		Status:      model.StatusPending,
		Timestamps:  model.Timestamps{ReceivedAt: receivedAt},
		Progress:    model.Progress{TotalTests: len(tests)},
	}
	if err := s.saveStatus(ctx, pending); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return "", model.RunStatusResponse{}, err
	}

	payload := model.RunMessage{
		RunID:       runID,
		Language:    language,
		ChallengeID: input.ChallengeID,
		SourceKey:   sourceKey,
		SourceHash:  sourceHash,
		Tests:       tests,
		ReceivedAt:  receivedAt,
	}
	if err := s.publishMessage(ctx, payload); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return "", model.RunStatusResponse{}, err
	}

	s.finalizeIdempotency(ctx, input.IdempotencyKey, runID, acquired)
	logger.Info(ctx, "run queued", zap.String("language", language), zap.Int("tests", len(tests)))
	return runID, pending, nil
}

func (s *Service) publishMessage(ctx context.Context, payload model.RunMessage) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return appErr.Wrapf(err, appErr.RunCreateFailed, "encode run message failed")
	}
	message := mq.NewMessage(body)
	message.ID = payload.RunID
	message.SetHeader("language", payload.Language)

	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.queue.Publish(ctxMQ.ctx, s.runTopic, message); err != nil {
		return appErr.Wrapf(err, appErr.RunCreateFailed, "publish run message failed")
	}
	return nil
}

func (s *Service) acquireIdempotency(ctx context.Context, key string) (bool, string, error) {
	key = strings.TrimSpace(key)
	if key == "" || s.cache == nil {
		return true, "", nil
	}
	cacheKey := idempotencyKeyPrefix + key
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	existing, err := s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	ok, err := s.cache.SetNX(ctxCache.ctx, cacheKey, processingMarker, s.idempotencyTTL)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err = s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
}

func (s *Service) finalizeIdempotency(ctx context.Context, key, runID string, acquired bool) {
	key = strings.TrimSpace(key)
	if !acquired || key == "" || s.cache == nil {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Set(ctxCache.ctx, idempotencyKeyPrefix+key, runID, s.idempotencyTTL); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *Service) releaseIdempotency(ctx context.Context, key string, acquired bool) {
	key = strings.TrimSpace(key)
	if !acquired || key == "" || s.cache == nil {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Del(ctxCache.ctx, idempotencyKeyPrefix+key); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}
