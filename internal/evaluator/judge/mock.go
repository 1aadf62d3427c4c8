package judge

import (
	"context"
	"time"
)

const mockStdout = "Mock output from Judge0"

// MockClient answers every request as accepted, echoing the expected output.
type MockClient struct {
	Delay time.Duration
}

// Execute waits for the configured delay and returns a canned result.
func (m MockClient) Execute(ctx context.Context, req Request) (Result, error) {
	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}
	out := mockStdout
	if req.ExpectedOutput != nil {
		out = *req.ExpectedOutput
	}
	return Result{
		Stdout: out,
		Status: "Accepted",
		Time:   0.001,
		Memory: 1024,
	}, nil
}
