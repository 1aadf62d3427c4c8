package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp source failed: %v", err)
	}
	return path
}

func TestBuildRunWithSourceFile(t *testing.T) {
	sourcePath := writeSource(t, "main.js", "console.log(1)")

	cmd := Registry()["run"]
	params, err := ParseArgs(cmd, []string{"JavaScript", sourcePath, "hello-world"})
	if err != nil {
		t.Fatalf("parse args failed: %v", err)
	}
	req, err := BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Method != "POST" || req.Path != "/api/v1/runs" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	var payload map[string]string
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		t.Fatalf("unmarshal body failed: %v", err)
	}
	if payload["code"] != "console.log(1)" || payload["language"] != "javascript" || payload["challenge_id"] != "hello-world" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
	if _, ok := req.Headers["Idempotency-Key"]; ok {
		t.Fatalf("sync run should not carry an idempotency key")
	}
}

func TestBuildSubmitIdempotencyKey(t *testing.T) {
	sourcePath := writeSource(t, "main.lua", "print(1)")
	cmd := Registry()["submit"]

	params, err := ParseArgs(cmd, []string{"lua", sourcePath, "key=retry-1"})
	if err != nil {
		t.Fatalf("parse args failed: %v", err)
	}
	req, err := BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Headers["Idempotency-Key"] != "retry-1" {
		t.Fatalf("expected explicit key, got %q", req.Headers["Idempotency-Key"])
	}
	if strings.Contains(string(req.Body), "challenge_id") {
		t.Fatalf("empty challenge should be omitted: %s", req.Body)
	}

	params, _ = ParseArgs(cmd, []string{"lua", sourcePath})
	req, err = BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Headers["Idempotency-Key"] == "" {
		t.Fatalf("expected generated key")
	}
}

func TestBuildPathParams(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		path   string
		stream bool
	}{
		{name: "status", args: []string{"run-1"}, path: "/api/v1/runs/run-1"},
		{name: "status", args: []string{"run_id=run-2"}, path: "/api/v1/runs/run-2"},
		{name: "watch", args: []string{"run-3"}, path: "/api/v1/runs/run-3/watch", stream: true},
		{name: "languages", path: "/api/v1/languages"},
	}
	for _, tt := range tests {
		cmd := Registry()[tt.name]
		params, err := ParseArgs(cmd, tt.args)
		if err != nil {
			t.Fatalf("%s: parse args failed: %v", tt.name, err)
		}
		req, err := BuildRequest(cmd, params)
		if err != nil {
			t.Fatalf("%s: build request failed: %v", tt.name, err)
		}
		if req.Path != tt.path || req.Stream != tt.stream || req.Body != nil {
			t.Fatalf("%s: unexpected request %+v", tt.name, req)
		}
	}
}

func TestBuildRequestErrors(t *testing.T) {
	registry := Registry()

	if _, err := ParseArgs(registry["status"], []string{"a", "b"}); err == nil {
		t.Fatalf("expected too many arguments error")
	}
	if _, err := BuildRequest(registry["status"], Params{}); err == nil || !strings.Contains(err.Error(), "missing id") {
		t.Fatalf("expected missing id error, got %v", err)
	}
	params, _ := ParseArgs(registry["run"], []string{"javascript", filepath.Join(t.TempDir(), "absent.js")})
	if _, err := BuildRequest(registry["run"], params); err == nil {
		t.Fatalf("expected read error for absent file")
	}
}

func TestParseArgsKeepsPathsPositional(t *testing.T) {
	cmd := Registry()["run"]
	params, err := ParseArgs(cmd, []string{"javascript", "./dir/a=b.js"})
	if err != nil {
		t.Fatalf("parse args failed: %v", err)
	}
	if params.Get("file") != "./dir/a=b.js" {
		t.Fatalf("expected path to stay positional, got %#v", params)
	}
	if missing := Missing(cmd, params); len(missing) != 0 {
		t.Fatalf("unexpected missing fields: %v", missing)
	}
}

func TestNames(t *testing.T) {
	names := Names(Registry())
	want := []string{"languages", "run", "status", "submit", "watch"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected names: %v", names)
	}
}
