package local

import (
	"context"
	"errors"
	"math"
	"math/rand"

	"nodeo/internal/evaluator/model"

	lua "github.com/yuin/gopher-lua"
)

// Globals dropped after the base library is opened. Everything here reaches
// the host filesystem, loads code by name or tampers with environments.
var luaBlockedGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module",
	"collectgarbage", "setfenv", "getfenv", "newproxy",
}

const luaMaxTableDepth = 8

// LuaEvaluator runs Lua 5.1 on gopher-lua.
type LuaEvaluator struct {
	cfg Config
}

// NewLuaEvaluator creates a gopher-lua-backed evaluator.
func NewLuaEvaluator(cfg Config) *LuaEvaluator {
	return &LuaEvaluator{cfg: cfg.withDefaults()}
}

func (e *LuaEvaluator) Engine() string { return EngineLua }

func (e *LuaEvaluator) Evaluate(ctx context.Context, code string, tests []model.TestCase) model.ExecutionResult {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: e.cfg.CallStackSize,
	})
	defer L.Close()
	if ctx != nil {
		L.SetContext(ctx)
	}

	if err := openLuaLibs(L); err != nil {
		return model.NewFailedResult(luaErrorMessage(err))
	}
	installLuaRandom(L, rand.New(rand.NewSource(e.cfg.Seed)))

	state := NewExecutionState()
	installLuaCapture(L, state)

	if err := L.DoString(code); err != nil {
		return model.NewFailedResult(luaErrorMessage(err))
	}

	results := evaluateTests(tests, func(expr string) (bool, error) {
		fn, err := L.LoadString("return (" + expr + "\n)")
		if err != nil {
			return false, &assertionError{msg: luaErrorMessage(err)}
		}
		L.Push(fn)
		if err := L.PCall(0, 1, nil); err != nil {
			return false, &assertionError{msg: luaErrorMessage(err)}
		}
		ret := L.Get(-1)
		L.Pop(1)
		return lua.LVAsBool(ret), nil
	})
	return finish(state, results, len(tests))
}

func openLuaLibs(L *lua.LState) error {
	libs := []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return err
		}
	}
	for _, name := range luaBlockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return nil
}

// installLuaRandom replaces math.random and math.randomseed with versions
// bound to a per-run source.
func installLuaRandom(L *lua.LState, rng *rand.Rand) {
	mathTbl, ok := L.GetGlobal(lua.MathLibName).(*lua.LTable)
	if !ok {
		return
	}
	L.SetField(mathTbl, "random", L.NewFunction(func(L *lua.LState) int {
		switch L.GetTop() {
		case 0:
			L.Push(lua.LNumber(rng.Float64()))
		case 1:
			hi := L.CheckInt(1)
			if hi < 1 {
				L.ArgError(1, "interval is empty")
			}
			L.Push(lua.LNumber(rng.Intn(hi) + 1))
		default:
			lo, hi := L.CheckInt(1), L.CheckInt(2)
			if lo > hi {
				L.ArgError(2, "interval is empty")
			}
			L.Push(lua.LNumber(lo + rng.Intn(hi-lo+1)))
		}
		return 1
	}))
	L.SetField(mathTbl, "randomseed", L.NewFunction(func(L *lua.LState) int {
		rng.Seed(L.CheckInt64(1))
		return 0
	}))
}

type luaCapture struct {
	state   *ExecutionState
	logs    *lua.LTable
	returns *lua.LTable
	count   int
}

func installLuaCapture(L *lua.LState, state *ExecutionState) {
	c := &luaCapture{
		state:   state,
		logs:    L.NewTable(),
		returns: L.NewTable(),
	}
	L.SetGlobal("print", L.NewFunction(c.print))
	L.SetGlobal("__LOGS__", c.logs)
	L.SetGlobal("__RETURNS__", c.returns)
	L.SetGlobal("__RESET__", L.NewFunction(c.reset))
}

// print records its first argument only.
func (c *luaCapture) print(L *lua.LState) int {
	v := L.Get(1)
	c.count++
	c.logs.RawSetInt(c.count, v)
	c.returns.RawSetInt(c.count, v)
	c.state.Print(exportLuaValue(v, 0))
	return 0
}

func (c *luaCapture) reset(L *lua.LState) int {
	for i := 1; i <= c.count; i++ {
		c.logs.RawSetInt(i, lua.LNil)
		c.returns.RawSetInt(i, lua.LNil)
	}
	c.count = 0
	c.state.Reset()
	return 0
}

// exportLuaValue converts a Lua value into plain Go data. Sequences become
// slices, other tables become maps keyed by their string form.
func exportLuaValue(v lua.LValue, depth int) any {
	switch x := v.(type) {
	case lua.LBool:
		return bool(x)
	case lua.LString:
		return string(x)
	case lua.LNumber:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return x.String()
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case *lua.LTable:
		if depth >= luaMaxTableDepth {
			return x.String()
		}
		if n := x.Len(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, exportLuaValue(x.RawGetInt(i), depth+1))
			}
			return out
		}
		out := map[string]any{}
		x.ForEach(func(k, val lua.LValue) {
			out[k.String()] = exportLuaValue(val, depth+1)
		})
		return out
	default:
		if v == lua.LNil {
			return nil
		}
		return v.String()
	}
}

func luaErrorMessage(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil && apiErr.Object != lua.LNil {
		return apiErr.Object.String()
	}
	return err.Error()
}
