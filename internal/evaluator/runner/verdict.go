package runner

import (
	"fmt"
	"strings"

	"nodeo/internal/evaluator/judge"
	"nodeo/internal/evaluator/model"
)

// Verdict grades one judge result. Stderr always fails the test; otherwise
// the trimmed stdout is compared with the expected output when there is
// one, and the judge status decides when there is not.
func Verdict(res judge.Result, expected *string) model.TestResult {
	if res.Stderr != "" {
		return model.TestResult{Passed: false, Error: res.Stderr}
	}
	if expected != nil {
		want := strings.TrimSpace(*expected)
		got := strings.TrimSpace(res.Stdout)
		if want == got {
			return model.TestResult{Passed: true}
		}
		return model.TestResult{Error: fmt.Sprintf("Expected: \"%s\", Got: \"%s\"", want, got)}
	}
	switch res.Status {
	case "Accepted", "OK":
		return model.TestResult{Passed: true}
	default:
		return model.TestResult{Error: "Status: " + res.Status}
	}
}
