// Package judge submits code to a remote stdin/stdout judge such as Judge0.
package judge

import (
	"context"

	"nodeo/pkg/errors"
	"nodeo/pkg/utils/logger"

	"go.uber.org/zap"
)

// StatusError is reported when the judge could not be reached or refused the submission.
const StatusError = "Error"

// Submission is one program run against one stdin.
type Submission struct {
	SourceCode     string
	Language       string
	Stdin          string
	ExpectedOutput *string
}

// Result is the judge's raw answer for one submission.
type Result struct {
	Stdout string
	Stderr string
	Status string
	// Time is in seconds.
	Time float64
	// Memory is in kilobytes.
	Memory int64
}

// Request is what a Client sends to the judge.
type Request struct {
	SourceCode     string
	LanguageID     int
	Stdin          string
	ExpectedOutput *string
	CPUTimeLimit   float64
	MemoryLimit    int64
}

// Client executes a request against a judge backend.
type Client interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Limits are passed through to the judge with every request.
type Limits struct {
	CPUTimeLimit float64 `yaml:"cpuTimeLimit"`
	MemoryLimit  int64   `yaml:"memoryLimit"`
}

// Adapter maps languages to judge ids and turns client failures into results.
type Adapter struct {
	client    Client
	languages LanguageTable
	limits    Limits
}

// NewAdapter creates an adapter. Zero limits fall back to the defaults.
func NewAdapter(client Client, languages LanguageTable, limits Limits) *Adapter {
	if limits.CPUTimeLimit <= 0 {
		limits.CPUTimeLimit = DefaultCPUTimeLimit
	}
	if limits.MemoryLimit <= 0 {
		limits.MemoryLimit = DefaultMemoryLimit
	}
	return &Adapter{client: client, languages: languages, limits: limits}
}

// Supports reports whether the language has a judge id.
func (a *Adapter) Supports(language string) bool {
	_, ok := a.languages.Lookup(language)
	return ok
}

// Submit runs one submission. The only error it returns is for an unknown
// language; everything else is reported inside the result.
func (a *Adapter) Submit(ctx context.Context, sub Submission) (Result, error) {
	id, ok := a.languages.Lookup(sub.Language)
	if !ok {
		return Result{}, errors.UnsupportedLanguage(sub.Language)
	}
	res, err := a.client.Execute(ctx, Request{
		SourceCode:     sub.SourceCode,
		LanguageID:     id,
		Stdin:          sub.Stdin,
		ExpectedOutput: sub.ExpectedOutput,
		CPUTimeLimit:   a.limits.CPUTimeLimit,
		MemoryLimit:    a.limits.MemoryLimit,
	})
	if err != nil {
		logger.Warn(ctx, "judge request failed",
			zap.String("language", sub.Language),
			zap.Int("language_id", id),
			zap.Error(err),
		)
		return Result{Status: StatusError, Stderr: "Execution error: " + err.Error()}, nil
	}
	return res, nil
}
