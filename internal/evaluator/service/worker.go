package service

import (
	"context"
	"encoding/json"
	"time"

	"nodeo/internal/common/mq"
	"nodeo/internal/evaluator/model"
	appErr "nodeo/pkg/errors"
	"nodeo/pkg/utils/logger"

	"go.uber.org/zap"
)

const runLockPrefix = "eval:lock:"

// HandleMessage executes one queued run. A nil return commits the message;
// an error hands it back to the queue for a retry. Messages that can never
// succeed are logged and committed.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return nil
	}
	var payload model.RunMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		logger.Error(ctx, "dropping undecodable run message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if payload.RunID == "" || payload.Language == "" || payload.SourceKey == "" {
		logger.Error(ctx, "dropping incomplete run message",
			zap.String("message_id", msg.ID),
			zap.String("run_id", payload.RunID),
			zap.String("language", payload.Language),
		)
		return nil
	}
	if s.statusRepo == nil || s.sources == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("run worker is not configured")
	}
	ctx = logger.WithRunID(ctx, payload.RunID)

	locked, err := s.acquireRunLock(ctx, payload.RunID)
	if err != nil {
		return err
	}
	if !locked {
		logger.Info(ctx, "run already claimed, skipping duplicate delivery")
		return nil
	}
	lastAttempt := msg.MaxRetries <= 0 || msg.RetryCount >= msg.MaxRetries
	err = s.execute(ctx, payload, lastAttempt)
	if err != nil {
		s.releaseRunLock(ctx, payload.RunID)
	}
	return err
}

func (s *Service) execute(ctx context.Context, payload model.RunMessage, lastAttempt bool) error {
	if err := s.acquireSlot(ctx); err != nil {
		return err
	}
	defer s.releaseSlot()

	running := model.RunStatusResponse{
		RunID:       payload.RunID,
		Language:    payload.Language,
		ChallengeID: payload.ChallengeID,
		Status:      model.StatusRunning,
		Timestamps:  model.Timestamps{ReceivedAt: payload.ReceivedAt},
		Progress:    model.Progress{TotalTests: len(payload.Tests)},
	}
	if err := s.saveStatus(ctx, running); err != nil {
		return err
	}

	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	code, err := s.sources.Get(ctxStorage.ctx, payload.SourceKey, payload.SourceHash)
	ctxStorage.cancel()
	if err != nil {
		return s.handleFailure(ctx, running, err, lastAttempt)
	}

	ctxWorker := ctx
	if s.workerTimeout > 0 {
		var cancel context.CancelFunc
		ctxWorker, cancel = context.WithTimeout(ctx, s.workerTimeout)
		defer cancel()
	}
	obs := &progressObserver{svc: s, status: running}
	res, err := s.runner.RunObserved(ctxWorker, payload.Language, code, payload.Tests, obs)
	if err != nil {
		return s.handleFailure(ctx, running, err, lastAttempt)
	}

	finished := running
	finished.Status = model.StatusFinished
	finished.Result = &res
	finished.Timestamps.FinishedAt = time.Now().Unix()
	finished.Progress = model.Progress{TotalTests: len(payload.Tests), DoneTests: len(res.Results)}
	return s.saveStatus(ctx, finished)
}

// progressObserver stores DoneTests after every finished test.
type progressObserver struct {
	svc    *Service
	status model.RunStatusResponse
}

func (o *progressObserver) ObserveTest(ctx context.Context, index, total int, result model.TestResult) {
	o.status.Progress = model.Progress{TotalTests: total, DoneTests: index + 1}
	if err := o.svc.saveStatus(ctx, o.status); err != nil {
		logger.Warn(ctx, "update progress failed", zap.Int("done", index+1), zap.Error(err))
	}
}

func (s *Service) acquireSlot(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
		return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
	}
}

func (s *Service) releaseSlot() {
	select {
	case <-s.sem:
	default:
	}
}

func (s *Service) acquireRunLock(ctx context.Context, runID string) (bool, error) {
	if s.cache == nil {
		return true, nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	ok, err := s.cache.SetNX(ctxCache.ctx, runLockPrefix+runID, "1", s.lockTTL)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "claim run failed")
	}
	return ok, nil
}

func (s *Service) releaseRunLock(ctx context.Context, runID string) {
	if s.cache == nil {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Del(ctxCache.ctx, runLockPrefix+runID); err != nil {
		logger.Warn(ctx, "release run lock failed", zap.Error(err))
	}
}

func (s *Service) saveStatus(ctx context.Context, status model.RunStatusResponse) error {
	ctxStatus := withTimeout(ctx, s.timeouts.Status)
	defer ctxStatus.cancel()
	return s.statusRepo.Save(ctxStatus.ctx, status)
}

// handleFailure decides between a final Failed status and a retry. Errors a
// retry cannot fix, and any error on the last delivery, mark the run Failed;
// permanent ones are swallowed so the message is committed. Otherwise the
// run goes back to Pending with the error attached and err is returned for
// redelivery, so no final event is published for a run that may still pass.
func (s *Service) handleFailure(ctx context.Context, current model.RunStatusResponse, err error, lastAttempt bool) error {
	code := appErr.GetCode(err)
	permanent := isPermanent(code)

	next := current
	next.Result = nil
	next.ErrorCode = int(code)
	next.ErrorMessage = err.Error()
	if permanent || lastAttempt {
		next.Status = model.StatusFailed
		next.Timestamps.FinishedAt = time.Now().Unix()
	} else {
		next.Status = model.StatusPending
		next.Progress.DoneTests = 0
	}
	if saveErr := s.saveStatus(ctx, next); saveErr != nil {
		logger.Warn(ctx, "update failure status failed", zap.Error(saveErr))
	}

	switch {
	case permanent:
		logger.Warn(ctx, "run rejected", zap.Int("code", int(code)), zap.Error(err))
		return nil
	case lastAttempt:
		logger.Error(ctx, "run failed", zap.Int("code", int(code)), zap.Error(err))
	default:
		logger.Warn(ctx, "run failed, requeued", zap.Int("code", int(code)), zap.Error(err))
	}
	return err
}

func isPermanent(code appErr.ErrorCode) bool {
	switch code {
	case appErr.InvalidParams, appErr.TestCaseInvalid, appErr.LanguageNotSupported, appErr.CodeTooLarge:
		return true
	}
	return false
}
