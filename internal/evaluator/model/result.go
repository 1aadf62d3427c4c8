package model

// TestResult is the outcome of one test case.
type TestResult struct {
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Error       string `json:"error,omitempty"`
}

// ExecutionResult is the outcome of a whole run.
//
// Results is never nil. Time is summed seconds and Memory summed kilobytes
// across remote judge calls; both stay zero for local runs.
type ExecutionResult struct {
	Passed  bool         `json:"passed"`
	Results []TestResult `json:"results"`
	Error   string       `json:"error,omitempty"`
	Logs    []any        `json:"logs,omitempty"`
	Returns []any        `json:"returns,omitempty"`
	Time    float64      `json:"time,omitempty"`
	Memory  int64        `json:"memory,omitempty"`
}

// NewFailedResult is the result of a run whose code never loaded.
func NewFailedResult(message string) ExecutionResult {
	return ExecutionResult{
		Passed:  false,
		Results: []TestResult{},
		Error:   message,
	}
}

// Aggregate sets Passed from results: every test of the expected count ran
// and passed.
func (r *ExecutionResult) Aggregate(expected int) {
	if r.Results == nil {
		r.Results = []TestResult{}
	}
	if len(r.Results) != expected {
		r.Passed = false
		return
	}
	for _, res := range r.Results {
		if !res.Passed {
			r.Passed = false
			return
		}
	}
	r.Passed = true
}

// FailedCount returns how many results did not pass.
func (r ExecutionResult) FailedCount() int {
	n := 0
	for _, res := range r.Results {
		if !res.Passed {
			n++
		}
	}
	return n
}
