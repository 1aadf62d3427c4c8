package local

// ExecutionState records what learner code printed during one evaluation.
// Logs and returns are filled identically; both exist because assertions
// address them under separate names.
type ExecutionState struct {
	logs    []any
	returns []any
}

// NewExecutionState returns an empty state.
func NewExecutionState() *ExecutionState {
	return &ExecutionState{logs: []any{}, returns: []any{}}
}

// Print appends one printed value to both sequences.
func (s *ExecutionState) Print(v any) {
	s.logs = append(s.logs, v)
	s.returns = append(s.returns, v)
}

// Reset empties both sequences in place.
func (s *ExecutionState) Reset() {
	clear(s.logs)
	clear(s.returns)
	s.logs = s.logs[:0]
	s.returns = s.returns[:0]
}

// Len returns the number of recorded values.
func (s *ExecutionState) Len() int {
	return len(s.logs)
}

// Logs returns a copy of the logs sequence.
func (s *ExecutionState) Logs() []any {
	return append([]any{}, s.logs...)
}

// Returns returns a copy of the returns sequence.
func (s *ExecutionState) Returns() []any {
	return append([]any{}, s.returns...)
}
