package local_test

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"nodeo/internal/evaluator/local"
	"nodeo/internal/evaluator/model"
)

const sumToN = `
function sumToN(n) {
  let total = 0;
  for (let i = 1; i <= n; i++) total += i;
  console.log(total);
  return total;
}
const limit = 10;
`

func runJS(t *testing.T, code string, tests ...model.TestCase) model.ExecutionResult {
	t.Helper()
	ev := local.NewJavaScriptEvaluator(local.Config{})
	return ev.Evaluate(context.Background(), code, tests)
}

func TestJavaScriptAssertionsSeeTopLevelDeclarations(t *testing.T) {
	t.Parallel()
	res := runJS(t, sumToN,
		model.ExpressionTest("function exists", "typeof sumToN === 'function'"),
		model.ExpressionTest("const visible", "limit === 10"),
		model.ExpressionTest("sum of 3", "(()=>{ __RESET__(); sumToN(3); return __RETURNS__[0] === 6 })()"),
	)
	if !res.Passed {
		t.Fatalf("expected pass, got %+v", res)
	}
	if len(res.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res.Results))
	}
}

func TestJavaScriptResetIsolatesTests(t *testing.T) {
	t.Parallel()
	code := sumToN + "sumToN(100);"
	res := runJS(t, code,
		model.ExpressionTest("first", "(()=>{ __RESET__(); sumToN(1); return __LOGS__.length === 1 && __LOGS__[0] === 1 })()"),
		model.ExpressionTest("second", "(()=>{ __RESET__(); sumToN(2); return __LOGS__.length === 1 && __LOGS__[0] === 3 })()"),
		model.ExpressionTest("arrays", "Array.isArray(__LOGS__) && Array.isArray(__RETURNS__)"),
	)
	if !res.Passed {
		t.Fatalf("expected pass, got %+v", res.Results)
	}
	if !reflect.DeepEqual(res.Logs, []any{int64(3)}) {
		t.Fatalf("unexpected logs snapshot: %#v", res.Logs)
	}
	if !reflect.DeepEqual(res.Logs, res.Returns) {
		t.Fatalf("logs and returns diverged: %v vs %v", res.Logs, res.Returns)
	}
}

func TestJavaScriptLoadErrorIsFatal(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"syntax":    "function (",
		"reference": "notDefined();",
		"throw":     "throw new Error('boom')",
	}
	for name, code := range cases {
		res := runJS(t, code, model.ExpressionTest("never runs", "true"))
		if res.Passed {
			t.Fatalf("%s: expected failure", name)
		}
		if res.Error == "" {
			t.Fatalf("%s: expected load error message", name)
		}
		if res.Results == nil || len(res.Results) != 0 {
			t.Fatalf("%s: expected empty results, got %v", name, res.Results)
		}
	}
	res := runJS(t, "notDefined();")
	if !strings.Contains(res.Error, "ReferenceError") {
		t.Fatalf("expected ReferenceError, got %q", res.Error)
	}
}

func TestJavaScriptAssertionErrorStaysLocal(t *testing.T) {
	t.Parallel()
	res := runJS(t, "var x = 1;",
		model.ExpressionTest("throws", "missing.field"),
		model.ExpressionTest("false", "x === 2"),
		model.ExpressionTest("true", "x === 1"),
	)
	if res.Passed {
		t.Fatalf("expected overall failure")
	}
	if res.Error != "" {
		t.Fatalf("assertion errors must not set the run error: %q", res.Error)
	}
	if res.Results[0].Passed || !strings.Contains(res.Results[0].Error, "ReferenceError") {
		t.Fatalf("unexpected first result: %+v", res.Results[0])
	}
	if res.Results[1].Passed || res.Results[1].Error != "" {
		t.Fatalf("false assertion must fail without error: %+v", res.Results[1])
	}
	if !res.Results[2].Passed {
		t.Fatalf("sibling test should pass: %+v", res.Results[2])
	}
}

func TestJavaScriptIsDeterministic(t *testing.T) {
	t.Parallel()
	code := "for (let i = 0; i < 3; i++) console.log(Math.random());"
	first := runJS(t, code)
	second := runJS(t, code)
	if !reflect.DeepEqual(first.Logs, second.Logs) {
		t.Fatalf("runs differ: %v vs %v", first.Logs, second.Logs)
	}
	if len(first.Logs) != 3 {
		t.Fatalf("expected 3 logs, got %d", len(first.Logs))
	}
}

func TestJavaScriptCapturePrimitivesAreReadOnly(t *testing.T) {
	t.Parallel()
	res := runJS(t, "print = function(){}; console = null; print('a'); console.log('b');",
		model.ExpressionTest("captured", "__LOGS__.join(',') === 'a,b'"),
		model.ExpressionTest("no require", "typeof require === 'undefined'"),
	)
	if !res.Passed {
		t.Fatalf("expected capture to survive reassignment: %+v", res)
	}
}

func TestJavaScriptPrintCapturesFirstArgument(t *testing.T) {
	t.Parallel()
	res := runJS(t, "console.log('x', 'y'); console.log({a: 1}); console.log();")
	if len(res.Logs) != 3 {
		t.Fatalf("expected 3 logs, got %v", res.Logs)
	}
	if res.Logs[0] != "x" {
		t.Fatalf("expected first argument only, got %v", res.Logs[0])
	}
	if m, ok := res.Logs[1].(map[string]any); !ok || m["a"] != int64(1) {
		t.Fatalf("unexpected object export: %#v", res.Logs[1])
	}
	if res.Logs[2] != nil {
		t.Fatalf("expected undefined to export as nil, got %v", res.Logs[2])
	}
}

func TestJavaScriptHonoursContextDeadline(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ev := local.NewJavaScriptEvaluator(local.Config{})
	start := time.Now()
	res := ev.Evaluate(ctx, "while (true) {}", []model.TestCase{model.ExpressionTest("t", "true")})
	if time.Since(start) > 5*time.Second {
		t.Fatalf("evaluation was not interrupted")
	}
	if res.Passed || res.Error == "" {
		t.Fatalf("expected interrupted load to fail, got %+v", res)
	}
}

func TestJavaScriptDeadlineStopsEveryAssertion(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	ev := local.NewJavaScriptEvaluator(local.Config{})

	done := make(chan model.ExecutionResult, 1)
	go func() {
		done <- ev.Evaluate(ctx, "function spin() { while (true) {} }", []model.TestCase{
			model.ExpressionTest("first", "spin()"),
			model.ExpressionTest("second", "spin()"),
		})
	}()
	select {
	case res := <-done:
		if res.Passed || len(res.Results) != 2 {
			t.Fatalf("unexpected result %+v", res)
		}
		for _, r := range res.Results {
			if r.Passed || r.Error == "" {
				t.Fatalf("expected %q to fail with an error, got %+v", r.Description, r)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("second assertion was not interrupted")
	}
}

func TestJavaScriptLearnerDeclarationsShadowCapture(t *testing.T) {
	t.Parallel()
	res := runJS(t, "function print(s) { return s * 2 }\nlet __RETURNS__ = 'mine';\nconsole.log('kept');",
		model.ExpressionTest("own print", "print(3) === 6"),
		model.ExpressionTest("own binding", "__RETURNS__ === 'mine'"),
		model.ExpressionTest("console still captures", "__LOGS__[0] === 'kept'"),
	)
	if res.Error != "" || !res.Passed {
		t.Fatalf("expected declarations to shadow capture globals: %+v", res)
	}
}

func TestJavaScriptReportsScriptSideLogs(t *testing.T) {
	t.Parallel()
	res := runJS(t, "print('a'); print('b');",
		model.ExpressionTest("drop last", "(__LOGS__.length = 1) === 1"),
		model.ExpressionTest("append", "__LOGS__.push('c') === 2"),
	)
	if !res.Passed {
		t.Fatalf("expected assertions to pass: %+v", res)
	}
	if !reflect.DeepEqual(res.Logs, []any{"a", "c"}) {
		t.Fatalf("expected logs to match what assertions saw, got %v", res.Logs)
	}
	if !reflect.DeepEqual(res.Returns, []any{"a", "b"}) {
		t.Fatalf("returns were not touched, got %v", res.Returns)
	}
}

func TestNewSelectsEngine(t *testing.T) {
	for _, name := range []string{"javascript", "JS", "lua"} {
		ev, err := local.New(name, local.Config{})
		if err != nil {
			t.Fatalf("engine %s: %v", name, err)
		}
		if ev.Engine() == "" {
			t.Fatalf("engine %s has no name", name)
		}
	}
	if _, err := local.New("python", local.Config{}); err == nil {
		t.Fatalf("expected unknown engine error")
	}
}
