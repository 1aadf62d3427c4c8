package local

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"strconv"

	"nodeo/internal/evaluator/model"

	"github.com/dop251/goja"
)

// JavaScriptEvaluator runs JavaScript on goja.
type JavaScriptEvaluator struct {
	cfg Config
}

// NewJavaScriptEvaluator creates a goja-backed evaluator.
func NewJavaScriptEvaluator(cfg Config) *JavaScriptEvaluator {
	return &JavaScriptEvaluator{cfg: cfg.withDefaults()}
}

func (e *JavaScriptEvaluator) Engine() string { return EngineJavaScript }

// Evaluate runs code as a global script, so top-level declarations stay
// visible to the assertions evaluated afterwards in the same runtime.
func (e *JavaScriptEvaluator) Evaluate(ctx context.Context, code string, tests []model.TestCase) model.ExecutionResult {
	vm := goja.New()
	vm.SetMaxCallStackSize(e.cfg.CallStackSize)
	vm.SetRandSource(rand.New(rand.NewSource(e.cfg.Seed)).Float64)

	state := NewExecutionState()
	capture, err := installJSCapture(vm, state)
	if err != nil {
		return model.NewFailedResult(err.Error())
	}

	stop := interruptOnDone(ctx, vm)
	defer stop()

	if _, err := vm.RunScript("submission.js", code); err != nil {
		return model.NewFailedResult(jsErrorMessage(err))
	}

	results := evaluateTests(tests, func(expr string) (bool, error) {
		// goja clears the interrupt once raised, so later assertions must
		// not start after the deadline.
		if ctx != nil && ctx.Err() != nil {
			return false, ctx.Err()
		}
		v, err := vm.RunScript("assertion.js", "("+expr+"\n)")
		if err != nil {
			return false, &assertionError{msg: jsErrorMessage(err)}
		}
		return v.ToBoolean(), nil
	})
	out := finish(state, results, len(tests))
	// Report what assertions saw, including script-side edits to the arrays.
	out.Logs = exportJSArray(capture.logs)
	out.Returns = exportJSArray(capture.returns)
	return out
}

type jsCapture struct {
	state   *ExecutionState
	logs    *goja.Object
	returns *goja.Object
}

// installJSCapture defines the capture globals as non-writable but
// configurable, so assignments are ignored while learner declarations of
// the same names shadow them instead of failing to load.
func installJSCapture(vm *goja.Runtime, state *ExecutionState) (*jsCapture, error) {
	c := &jsCapture{
		state:   state,
		logs:    vm.NewArray(),
		returns: vm.NewArray(),
	}
	printFn := vm.ToValue(c.print)

	console := vm.NewObject()
	if err := console.DefineDataProperty("log", printFn, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return nil, err
	}

	globals := []struct {
		name  string
		value goja.Value
	}{
		{"console", console},
		{"print", printFn},
		{"__LOGS__", c.logs},
		{"__RETURNS__", c.returns},
		{"__RESET__", vm.ToValue(c.reset)},
	}
	global := vm.GlobalObject()
	for _, g := range globals {
		if err := global.DefineDataProperty(g.name, g.value, goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// print records its first argument only.
func (c *jsCapture) print(call goja.FunctionCall) goja.Value {
	v := call.Argument(0)
	c.state.Print(exportJSValue(v))
	appendJS(c.logs, v)
	appendJS(c.returns, v)
	return goja.Undefined()
}

func (c *jsCapture) reset(goja.FunctionCall) goja.Value {
	c.state.Reset()
	_ = c.logs.Set("length", 0)
	_ = c.returns.Set("length", 0)
	return goja.Undefined()
}

func appendJS(arr *goja.Object, v goja.Value) {
	n := arr.Get("length").ToInteger()
	_ = arr.Set(strconv.FormatInt(n, 10), v)
}

func exportJSArray(arr *goja.Object) []any {
	n := arr.Get("length").ToInteger()
	out := make([]any, 0, n)
	for i := int64(0); i < n; i++ {
		out = append(out, exportJSValue(arr.Get(strconv.FormatInt(i, 10))))
	}
	return out
}

// exportJSValue converts a script value into something encoding/json accepts.
func exportJSValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	exported := v.Export()
	switch x := exported.(type) {
	case string, bool, int64:
		return exported
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return v.String()
		}
		return x
	}
	if _, err := json.Marshal(exported); err != nil {
		return v.String()
	}
	return exported
}

func jsErrorMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) && ex.Value() != nil {
		return ex.Value().String()
	}
	return err.Error()
}

func interruptOnDone(ctx context.Context, vm *goja.Runtime) func() {
	if ctx == nil || ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() { close(done) }
}
