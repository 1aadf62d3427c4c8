package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const submissionsPath = "/submissions?base64_encoded=false&wait=true"

// Judge0Client talks to a Judge0 instance (self-hosted or RapidAPI).
type Judge0Client struct {
	baseURL string
	apiKey  string
	apiHost string
	http    *http.Client
}

// NewJudge0Client creates a client with a request timeout.
func NewJudge0Client(baseURL, apiKey, apiHost string, timeout time.Duration) *Judge0Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Judge0Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		apiHost: apiHost,
		http:    &http.Client{Timeout: timeout},
	}
}

type judge0Request struct {
	SourceCode     string  `json:"source_code"`
	LanguageID     int     `json:"language_id"`
	Stdin          string  `json:"stdin"`
	ExpectedOutput *string `json:"expected_output,omitempty"`
	CPUTimeLimit   float64 `json:"cpu_time_limit"`
	MemoryLimit    int64   `json:"memory_limit"`
}

type judge0Response struct {
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Message       *string `json:"message"`
	Time          *string `json:"time"`
	Memory        *int64  `json:"memory"`
	Status        struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
}

// Execute posts the submission and waits for the verdict.
func (c *Judge0Client) Execute(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(judge0Request{
		SourceCode:     req.SourceCode,
		LanguageID:     req.LanguageID,
		Stdin:          req.Stdin,
		ExpectedOutput: req.ExpectedOutput,
		CPUTimeLimit:   req.CPUTimeLimit,
		MemoryLimit:    req.MemoryLimit,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode submission failed: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submissionsPath, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-RapidAPI-Key", c.apiKey)
	}
	if c.apiHost != "" {
		httpReq.Header.Set("X-RapidAPI-Host", c.apiHost)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response body failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("judge returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out judge0Response
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, fmt.Errorf("decode response failed: %w", err)
	}
	return out.toResult(), nil
}

func (r judge0Response) toResult() Result {
	res := Result{
		Stdout: deref(r.Stdout),
		Stderr: deref(r.Stderr),
		Status: r.Status.Description,
	}
	if res.Stderr == "" {
		res.Stderr = deref(r.CompileOutput)
	}
	if r.Time != nil {
		if t, err := strconv.ParseFloat(*r.Time, 64); err == nil {
			res.Time = t
		}
	}
	if r.Memory != nil {
		res.Memory = *r.Memory
	}
	return res
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
