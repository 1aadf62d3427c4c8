// Package local evaluates learner code in embedded interpreters. Each call
// gets a fresh interpreter whose global scope holds only the capture
// primitives: console.log/print, __LOGS__, __RETURNS__ and __RESET__.
package local

import (
	"context"
	"fmt"
	"strings"

	"nodeo/internal/evaluator/model"
)

const (
	EngineJavaScript = "javascript"
	EngineLua        = "lua"

	defaultSeed          = 20240601
	defaultCallStackSize = 1024
)

// Evaluator runs learner code and then its tests in one interpreter.
type Evaluator interface {
	// Engine names the interpreter.
	Engine() string
	// Evaluate never returns an error: load failures and assertion
	// exceptions are reported inside the result.
	Evaluate(ctx context.Context, code string, tests []model.TestCase) model.ExecutionResult
}

// Config tunes the interpreters.
type Config struct {
	// Seed makes Math.random / math.random reproducible.
	Seed int64 `yaml:"seed"`
	// CallStackSize bounds recursion depth.
	CallStackSize int `yaml:"callStackSize"`
}

func (c Config) withDefaults() Config {
	if c.Seed == 0 {
		c.Seed = defaultSeed
	}
	if c.CallStackSize <= 0 {
		c.CallStackSize = defaultCallStackSize
	}
	return c
}

// New returns the evaluator for an engine name.
func New(engine string, cfg Config) (Evaluator, error) {
	switch strings.ToLower(engine) {
	case EngineJavaScript, "js", "goja":
		return NewJavaScriptEvaluator(cfg), nil
	case EngineLua, "gopher-lua":
		return NewLuaEvaluator(cfg), nil
	default:
		return nil, fmt.Errorf("unknown local engine %q", engine)
	}
}

// evaluateTests runs each test through assert in order. An assertion error
// fails only its own test.
func evaluateTests(tests []model.TestCase, assert func(expr string) (bool, error)) []model.TestResult {
	results := make([]model.TestResult, 0, len(tests))
	for _, tc := range tests {
		res := model.TestResult{Description: tc.Description}
		ok, err := assert(tc.Expression())
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Passed = ok
		}
		results = append(results, res)
	}
	return results
}

func finish(state *ExecutionState, results []model.TestResult, expected int) model.ExecutionResult {
	out := model.ExecutionResult{
		Results: results,
		Logs:    state.Logs(),
		Returns: state.Returns(),
	}
	out.Aggregate(expected)
	return out
}

// assertionError keeps the interpreter's own message for a failed assertion.
type assertionError struct {
	msg string
}

func (e *assertionError) Error() string { return e.msg }
