// Package service runs evaluations synchronously or through the run queue
// and tracks the status of queued runs.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nodeo/internal/common/cache"
	"nodeo/internal/common/db"
	"nodeo/internal/common/mq"
	"nodeo/internal/evaluator/model"
	"nodeo/internal/evaluator/runner"
	appErr "nodeo/pkg/errors"
	"nodeo/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxCodeBytes caps submitted source size when not configured.
const DefaultMaxCodeBytes = 64 * 1024

// Runner evaluates code against tests.
type Runner interface {
	RunObserved(ctx context.Context, language, code string, tests []model.TestCase, obs runner.Observer) (model.ExecutionResult, error)
	Languages() []runner.LanguageInfo
	Supports(language string) bool
}

// StatusStore keeps the status document of queued runs.
type StatusStore interface {
	Get(ctx context.Context, runID string) (model.RunStatusResponse, error)
	Save(ctx context.Context, status model.RunStatusResponse) error
}

// HistoryStore persists finished runs.
type HistoryStore interface {
	Save(ctx context.Context, tx db.Transaction, status model.RunStatusResponse) error
	Get(ctx context.Context, runID string) (model.RunStatusResponse, error)
}

// SourceStore keeps queued source code until a worker picks it up.
type SourceStore interface {
	Put(ctx context.Context, runID, code string) (string, string, error)
	Get(ctx context.Context, key, hash string) (string, error)
}

// ChallengeSource resolves a challenge's tests for a language.
type ChallengeSource interface {
	TestsFor(challengeID, language string) (model.LanguageTests, error)
}

// Timeouts bounds calls to each dependency. Zero means no bound.
type Timeouts struct {
	Status  time.Duration `yaml:"status"`
	Storage time.Duration `yaml:"storage"`
	MQ      time.Duration `yaml:"mq"`
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
}

// Config holds service dependencies and settings.
type Config struct {
	Runner     Runner
	StatusRepo StatusStore
	History    HistoryStore
	Sources    SourceStore
	Challenges ChallengeSource
	Cache      cache.Cache
	Queue      mq.MessageQueue
	RunTopic   string

	MaxCodeBytes   int
	WorkerPoolSize int
	WorkerTimeout  time.Duration
	StatusTTL      time.Duration
	EmptyTTL       time.Duration
	LockTTL        time.Duration
	IdempotencyTTL time.Duration
	Timeouts       Timeouts
}

// Service is the evaluation entry point for the HTTP API and the run queue.
type Service struct {
	runner     Runner
	statusRepo StatusStore
	history    HistoryStore
	sources    SourceStore
	challenges ChallengeSource
	cache      cache.Cache
	queue      mq.MessageQueue
	runTopic   string

	maxCodeBytes   int
	workerTimeout  time.Duration
	statusTTL      time.Duration
	emptyTTL       time.Duration
	lockTTL        time.Duration
	idempotencyTTL time.Duration
	timeouts       Timeouts
	sem            chan struct{}
}

// New creates a service. Only the runner is required; the queue-backed
// operations report ServiceUnavailable when their dependencies are missing.
func New(cfg Config) (*Service, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	maxCode := cfg.MaxCodeBytes
	if maxCode <= 0 {
		maxCode = DefaultMaxCodeBytes
	}
	statusTTL := cfg.StatusTTL
	if statusTTL <= 0 {
		statusTTL = 24 * time.Hour
	}
	emptyTTL := cfg.EmptyTTL
	if emptyTTL <= 0 {
		emptyTTL = 30 * time.Second
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	idemTTL := cfg.IdempotencyTTL
	if idemTTL <= 0 {
		idemTTL = 10 * time.Minute
	}
	return &Service{
		runner:         cfg.Runner,
		statusRepo:     cfg.StatusRepo,
		history:        cfg.History,
		sources:        cfg.Sources,
		challenges:     cfg.Challenges,
		cache:          cfg.Cache,
		queue:          cfg.Queue,
		runTopic:       cfg.RunTopic,
		maxCodeBytes:   maxCode,
		workerTimeout:  cfg.WorkerTimeout,
		statusTTL:      statusTTL,
		emptyTTL:       emptyTTL,
		lockTTL:        lockTTL,
		idempotencyTTL: idemTTL,
		timeouts:       cfg.Timeouts,
		sem:            make(chan struct{}, poolSize),
	}, nil
}

// Languages lists the languages the runner accepts.
func (s *Service) Languages() []runner.LanguageInfo {
	return s.runner.Languages()
}

// Run evaluates a request in the caller's goroutine. The finished run is
// recorded in history when a history store is configured.
func (s *Service) Run(ctx context.Context, req model.RunRequest) (model.RunStatusResponse, error) {
	tests, err := s.prepare(req)
	if err != nil {
		return model.RunStatusResponse{}, err
	}
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	received := time.Now().Unix()

	res, err := s.runner.RunObserved(ctx, req.Language, req.Code, tests, nil)
	if err != nil {
		return model.RunStatusResponse{}, err
	}
	status := model.RunStatusResponse{
		RunID:       runID,
		Language:    strings.ToLower(strings.TrimSpace(req.Language)),
		ChallengeID: req.ChallengeID,
		Status:      model.StatusFinished,
		Result:      &res,
		Timestamps:  model.Timestamps{ReceivedAt: received, FinishedAt: time.Now().Unix()},
		Progress:    model.Progress{TotalTests: len(tests), DoneTests: len(res.Results)},
	}
	s.recordHistory(ctx, status)
	return status, nil
}

// prepare validates a request and resolves its tests.
func (s *Service) prepare(req model.RunRequest) ([]model.TestCase, error) {
	if strings.TrimSpace(req.Language) == "" {
		return nil, appErr.ValidationError("language", "required")
	}
	if len(req.Code) > s.maxCodeBytes {
		return nil, appErr.Newf(appErr.CodeTooLarge, "code is %d bytes, limit is %d", len(req.Code), s.maxCodeBytes).
			WithDetail("limit", s.maxCodeBytes)
	}
	if !s.runner.Supports(req.Language) {
		return nil, appErr.UnsupportedLanguage(req.Language)
	}
	tests := req.AllTests()
	if len(tests) == 0 && req.ChallengeID != "" {
		if s.challenges == nil {
			return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("challenges are not configured")
		}
		lt, err := s.challenges.TestsFor(req.ChallengeID, req.Language)
		if err != nil {
			return nil, err
		}
		tests = lt.Normalize()
	}
	if err := model.ValidateTests(tests); err != nil {
		return nil, err
	}
	return tests, nil
}

func (s *Service) recordHistory(ctx context.Context, status model.RunStatusResponse) {
	if s.history == nil {
		return
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.history.Save(ctxDB.ctx, nil, status); err != nil {
		logger.Warn(ctx, "record run history failed", zap.Error(err))
	}
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
