package model

import (
	"strings"

	appErr "nodeo/pkg/errors"
)

// AlwaysTrue is the expression given to tests that are graded on output only.
const AlwaysTrue = "true"

// TestKind tells which grading path a test case takes.
type TestKind int

const (
	// KindExpression tests are boolean expressions evaluated after the learner code.
	KindExpression TestKind = iota
	// KindOutput tests feed stdin and compare standard output.
	KindOutput
	// KindInvalid tests mix a real expression with stdin or expected output.
	KindInvalid
)

func (k TestKind) String() string {
	switch k {
	case KindExpression:
		return "expression"
	case KindOutput:
		return "output"
	default:
		return "invalid"
	}
}

// TestCase is one declarative check against learner code.
type TestCase struct {
	Description    string  `json:"description" yaml:"description"`
	Run            string  `json:"run,omitempty" yaml:"run,omitempty"`
	Stdin          *string `json:"stdin,omitempty" yaml:"stdin,omitempty"`
	ExpectedOutput *string `json:"expected_output,omitempty" yaml:"expected_output,omitempty"`
}

// ExpressionTest builds a boolean-expression test.
func ExpressionTest(description, run string) TestCase {
	return TestCase{Description: description, Run: run}
}

// OutputTest builds a stdin/expected-output test.
func OutputTest(description, stdin, expected string) TestCase {
	return TestCase{
		Description:    description,
		Run:            AlwaysTrue,
		Stdin:          &stdin,
		ExpectedOutput: &expected,
	}
}

func (t TestCase) hasIO() bool {
	return t.Stdin != nil || t.ExpectedOutput != nil
}

// Kind classifies the test. A test with neither an expression nor I/O
// fields is an expression test of the placeholder.
func (t TestCase) Kind() TestKind {
	if !t.hasIO() {
		return KindExpression
	}
	run := strings.TrimSpace(t.Run)
	if run == "" || run == AlwaysTrue {
		return KindOutput
	}
	return KindInvalid
}

// Expression returns the boolean expression to evaluate.
func (t TestCase) Expression() string {
	if strings.TrimSpace(t.Run) == "" {
		return AlwaysTrue
	}
	return t.Run
}

// StdinValue returns the stdin text, empty when absent.
func (t TestCase) StdinValue() string {
	if t.Stdin == nil {
		return ""
	}
	return *t.Stdin
}

// ValidateTests rejects test lists containing mixed test cases.
func ValidateTests(tests []TestCase) error {
	for i, tc := range tests {
		if tc.Kind() == KindInvalid {
			return appErr.Newf(appErr.TestCaseInvalid,
				"test %d (%q) mixes an expression with stdin/expected output", i, tc.Description).
				WithDetail("index", i)
		}
	}
	return nil
}

// StdinTest is the stdin/expected-output form a challenge declares for
// languages judged on standard output.
type StdinTest struct {
	Description    string `json:"description" yaml:"description"`
	Stdin          string `json:"stdin" yaml:"stdin"`
	ExpectedOutput string `json:"expected_output" yaml:"expected_output"`
}

// LanguageTests is the starter code and test list for one language.
type LanguageTests struct {
	Starter    string      `json:"starter" yaml:"starter"`
	Tests      []TestCase  `json:"tests" yaml:"tests"`
	StdinTests []StdinTest `json:"stdinTests,omitempty" yaml:"stdinTests,omitempty"`
}

// Normalize returns the tests in TestCase shape. Stdin tests come after the
// declared tests and carry the AlwaysTrue expression.
func (l LanguageTests) Normalize() []TestCase {
	out := make([]TestCase, 0, len(l.Tests)+len(l.StdinTests))
	out = append(out, l.Tests...)
	for _, st := range l.StdinTests {
		out = append(out, OutputTest(st.Description, st.Stdin, st.ExpectedOutput))
	}
	return out
}
