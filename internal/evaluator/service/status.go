package service

import (
	"context"
	"encoding/json"
	"time"

	"nodeo/internal/common/cache"
	"nodeo/internal/common/mq"
	"nodeo/internal/evaluator/model"
	"nodeo/internal/evaluator/repository"
	appErr "nodeo/pkg/errors"
)

// DefaultWatchInterval is the polling period of Watch.
const DefaultWatchInterval = 500 * time.Millisecond

// GetStatus returns the status of a queued run. Live runs are served from
// the status cache; expired ones are reloaded from history and cached again.
func (s *Service) GetStatus(ctx context.Context, runID string) (model.RunStatusResponse, error) {
	if runID == "" {
		return model.RunStatusResponse{}, appErr.ValidationError("run_id", "required")
	}
	if s.cache == nil || s.history == nil {
		if s.statusRepo == nil {
			return model.RunStatusResponse{}, appErr.New(appErr.ServiceUnavailable).WithMessage("run status is not configured")
		}
		ctxStatus := withTimeout(ctx, s.timeouts.Status)
		defer ctxStatus.cancel()
		return s.statusRepo.Get(ctxStatus.ctx, runID)
	}

	ctxStatus := withTimeout(ctx, s.timeouts.Status)
	defer ctxStatus.cancel()
	reader := cache.ReadThrough[model.RunStatusResponse]{Cache: s.cache, TTL: s.statusTTL, EmptyTTL: s.emptyTTL}
	status, found, err := reader.Get(ctxStatus.ctx, repository.StatusKey(runID),
		func(ctx context.Context) (model.RunStatusResponse, bool, error) {
			ctxDB := withTimeout(ctx, s.timeouts.DB)
			defer ctxDB.cancel()
			st, err := s.history.Get(ctxDB.ctx, runID)
			if appErr.Is(err, appErr.RunNotFound) {
				return model.RunStatusResponse{}, false, nil
			}
			return st, err == nil, err
		})
	if err != nil {
		return model.RunStatusResponse{}, err
	}
	if !found {
		return model.RunStatusResponse{}, appErr.New(appErr.RunNotFound).WithDetail("run_id", runID)
	}
	return status, nil
}

// Watch calls fn with the run's status each time it changes until the run
// is final, ctx ends or fn fails.
func (s *Service) Watch(ctx context.Context, runID string, interval time.Duration, fn func(model.RunStatusResponse) error) error {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *model.RunStatusResponse
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		status, err := s.GetStatus(ctx, runID)
		if err != nil {
			return err
		}
		if last == nil || changed(*last, status) {
			if err := fn(status); err != nil {
				return err
			}
			last = &status
		}
		if status.Status.IsFinal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func changed(prev, next model.RunStatusResponse) bool {
	return prev.Status != next.Status || prev.Progress != next.Progress
}

// HandleFinalStatusMessage persists a final status event to history.
func (s *Service) HandleFinalStatusMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var event model.StatusEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "decode status event failed")
	}
	if event.Type != model.StatusEventFinal {
		return appErr.New(appErr.InvalidParams).WithMessage("status event type is invalid")
	}
	if event.Status.RunID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	if s.history == nil {
		return nil
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	return s.history.Save(ctxDB.ctx, nil, event.Status)
}
