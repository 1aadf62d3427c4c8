// Package runner dispatches a run to the local evaluator or the remote judge
// and returns one uniform result.
package runner

import (
	"context"
	"fmt"
	"time"

	"nodeo/internal/evaluator/judge"
	"nodeo/internal/evaluator/local"
	"nodeo/internal/evaluator/model"
	appErr "nodeo/pkg/errors"
	"nodeo/pkg/utils/logger"

	"go.uber.org/zap"
)

// Judge submits one program run to a remote judge.
type Judge interface {
	Supports(language string) bool
	Submit(ctx context.Context, sub judge.Submission) (judge.Result, error)
}

// Observer is told about each finished test.
type Observer interface {
	ObserveTest(ctx context.Context, index, total int, result model.TestResult)
}

// Config holds runner settings.
type Config struct {
	// LocalLanguages overrides the local dispatch entries; an empty engine
	// sends the language to the remote judge.
	LocalLanguages map[string]string `yaml:"localLanguages"`
	// LocalTimeout caps one local evaluation. Zero means no cap.
	LocalTimeout time.Duration `yaml:"localTimeout"`
	Evaluator    local.Config  `yaml:"evaluator"`
}

// Runner is safe for concurrent use; each call evaluates in isolation.
type Runner struct {
	table        Table
	evaluators   map[string]local.Evaluator
	remote       Judge
	localTimeout time.Duration
}

// New creates a runner over a dispatch table. remote may be nil when the
// table has no remote languages.
func New(table Table, remote Judge, cfg Config) (*Runner, error) {
	evaluators := make(map[string]local.Evaluator)
	for _, info := range table.Languages() {
		if info.Backend.Kind != BackendLocal {
			continue
		}
		if _, ok := evaluators[info.Backend.Engine]; ok {
			continue
		}
		ev, err := local.New(info.Backend.Engine, cfg.Evaluator)
		if err != nil {
			return nil, fmt.Errorf("language %s: %w", info.Name, err)
		}
		evaluators[info.Backend.Engine] = ev
	}
	return &Runner{
		table:        table,
		evaluators:   evaluators,
		remote:       remote,
		localTimeout: cfg.LocalTimeout,
	}, nil
}

// Languages lists what the runner accepts.
func (r *Runner) Languages() []LanguageInfo {
	return r.table.Languages()
}

// Supports reports whether language has a backend.
func (r *Runner) Supports(language string) bool {
	_, ok := r.table.Lookup(language)
	return ok
}

// Run evaluates code against tests in the backend registered for language.
// Returned errors mean nothing was executed: the language is unknown or a
// test is malformed. Everything that happens during execution is reported
// inside the result.
func (r *Runner) Run(ctx context.Context, language, code string, tests []model.TestCase) (model.ExecutionResult, error) {
	return r.RunObserved(ctx, language, code, tests, nil)
}

// RunChallenge normalises a challenge's per-language tests and runs them.
func (r *Runner) RunChallenge(ctx context.Context, language, code string, lt model.LanguageTests) (model.ExecutionResult, error) {
	return r.Run(ctx, language, code, lt.Normalize())
}

// RunObserved is Run with a per-test observer, which may be nil.
func (r *Runner) RunObserved(ctx context.Context, language, code string, tests []model.TestCase, obs Observer) (model.ExecutionResult, error) {
	backend, ok := r.table.Lookup(language)
	if !ok {
		return model.ExecutionResult{}, appErr.UnsupportedLanguage(language)
	}
	if err := model.ValidateTests(tests); err != nil {
		return model.ExecutionResult{}, err
	}

	start := time.Now()
	var (
		res model.ExecutionResult
		err error
	)
	switch backend.Kind {
	case BackendLocal:
		res, err = r.runLocal(ctx, backend, code, tests, obs)
	default:
		res, err = r.runRemote(ctx, language, code, tests, obs)
	}
	if err != nil {
		return model.ExecutionResult{}, err
	}

	logger.Info(ctx, "run finished",
		zap.String("language", language),
		zap.String("backend", string(backend.Kind)),
		zap.Bool("passed", res.Passed),
		zap.Int("tests", len(tests)),
		zap.Int("failed", res.FailedCount()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (r *Runner) runLocal(ctx context.Context, backend Backend, code string, tests []model.TestCase, obs Observer) (model.ExecutionResult, error) {
	for i, tc := range tests {
		if tc.Kind() == model.KindOutput {
			return model.ExecutionResult{}, appErr.Newf(appErr.TestCaseInvalid,
				"test %d (%q) is graded on output, which %s does not support", i, tc.Description, backend.Engine).
				WithDetail("index", i)
		}
	}
	ev, ok := r.evaluators[backend.Engine]
	if !ok {
		return model.ExecutionResult{}, appErr.Newf(appErr.JudgeSystemError, "no evaluator for engine %s", backend.Engine)
	}
	if r.localTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.localTimeout)
		defer cancel()
	}
	res := ev.Evaluate(ctx, code, tests)
	if obs != nil {
		for i, tr := range res.Results {
			obs.ObserveTest(ctx, i, len(tests), tr)
		}
	}
	return res, nil
}

// runRemote submits one request per test, strictly in order.
func (r *Runner) runRemote(ctx context.Context, language, code string, tests []model.TestCase, obs Observer) (model.ExecutionResult, error) {
	if r.remote == nil {
		return model.ExecutionResult{}, appErr.Newf(appErr.JudgeSystemError, "no remote judge configured for %s", language)
	}
	// The judge's language map is configured apart from the dispatch table.
	if !r.remote.Supports(language) {
		return model.ExecutionResult{}, appErr.UnsupportedLanguage(language)
	}
	out := model.ExecutionResult{Results: make([]model.TestResult, 0, len(tests))}
	for i, tc := range tests {
		jr, err := r.remote.Submit(ctx, judge.Submission{
			SourceCode:     code,
			Language:       language,
			Stdin:          tc.StdinValue(),
			ExpectedOutput: tc.ExpectedOutput,
		})
		if err != nil {
			return model.ExecutionResult{}, err
		}
		tr := Verdict(jr, tc.ExpectedOutput)
		tr.Description = tc.Description
		out.Results = append(out.Results, tr)
		out.Time += jr.Time
		out.Memory += jr.Memory
		if obs != nil {
			obs.ObserveTest(ctx, i, len(tests), tr)
		}
	}
	out.Aggregate(len(tests))
	return out, nil
}
