package model

// RunStatus is the lifecycle state of an asynchronous run.
type RunStatus string

const (
	StatusPending  RunStatus = "Pending"
	StatusRunning  RunStatus = "Running"
	StatusFinished RunStatus = "Finished"
	StatusFailed   RunStatus = "Failed"
)

// IsFinal reports whether no further transitions happen.
func (s RunStatus) IsFinal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Timestamps records when a run was received and finished, in unix seconds.
type Timestamps struct {
	ReceivedAt int64 `json:"received_at"`
	FinishedAt int64 `json:"finished_at,omitempty"`
}

// Progress counts tests of an in-flight run.
type Progress struct {
	TotalTests int `json:"total_tests"`
	DoneTests  int `json:"done_tests"`
}

// RunStatusResponse is the status document stored per run.
type RunStatusResponse struct {
	RunID        string           `json:"run_id"`
	Language     string           `json:"language"`
	ChallengeID  string           `json:"challenge_id,omitempty"`
	Status       RunStatus        `json:"status"`
	Result       *ExecutionResult `json:"result,omitempty"`
	ErrorCode    int              `json:"error_code,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Timestamps   Timestamps       `json:"timestamps"`
	Progress     Progress         `json:"progress"`
}

// RunMessage is the queue payload for an asynchronous run.
type RunMessage struct {
	RunID       string     `json:"run_id"`
	Language    string     `json:"language"`
	ChallengeID string     `json:"challenge_id,omitempty"`
	SourceKey   string     `json:"source_key"`
	SourceHash  string     `json:"source_hash,omitempty"`
	Tests       []TestCase `json:"tests"`
	ReceivedAt  int64      `json:"received_at"`
}

// StatusEventType names a status event.
type StatusEventType string

const StatusEventFinal StatusEventType = "final"

// StatusEvent is published when a run reaches a final state.
type StatusEvent struct {
	Type      StatusEventType   `json:"type"`
	Status    RunStatusResponse `json:"status"`
	CreatedAt int64             `json:"created_at"`
}

// RunRequest is an evaluation request as accepted by the service layer.
type RunRequest struct {
	Language    string      `json:"language" binding:"required"`
	Code        string      `json:"code"`
	ChallengeID string      `json:"challenge_id,omitempty"`
	Tests       []TestCase  `json:"tests,omitempty"`
	StdinTests  []StdinTest `json:"stdinTests,omitempty"`
}

// AllTests merges declared and stdin tests into one list.
func (r RunRequest) AllTests() []TestCase {
	return LanguageTests{Tests: r.Tests, StdinTests: r.StdinTests}.Normalize()
}
