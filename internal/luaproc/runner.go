// Package luaproc runs Lua-scripted procedural steps. A script defines a
// global run(params, prev) function; its return value converts to a
// JSON-serializable Go value and becomes the step result.
package luaproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"

	"github.com/acteon/acteon/internal/action"
)

// Proc wraps a script path as an action procedure. Each invocation gets a
// fresh Lua state; gopher-lua states are not safe for concurrent use.
func Proc(scriptPath string) action.ProcFunc {
	return func(ctx context.Context, params map[string]any, prev any) (any, error) {
		return Run(ctx, scriptPath, params, prev)
	}
}

// Run loads the script and calls run(params, prev).
func Run(ctx context.Context, scriptPath string, params map[string]any, prev any) (any, error) {
	lState := lua.NewState()
	defer lState.Close()
	lState.SetContext(ctx)

	// Scripts may read env vars (e.g. feature fragments) but get no wider
	// os surface: the standard os library is replaced, both as a global and
	// as what require("os") returns.
	lState.Push(lState.NewFunction(osModuleLoader))
	lState.Call(0, 1)
	osMod := lState.Get(-1)
	lState.Pop(1)
	lState.SetGlobal("os", osMod)
	lState.SetField(lState.GetField(lState.Get(lua.RegistryIndex), "_LOADED"), "os", osMod)

	absPath, err := filepath.Abs(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("script path: %w", err)
	}
	if err := lState.DoFile(absPath); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}

	fn := lState.GetGlobal("run")
	if fn.Type() == lua.LTNil {
		return nil, fmt.Errorf("script must define global function run(params, prev)")
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("run must be a function, got %s", fn.Type().String())
	}

	lState.Push(fn)
	lState.Push(goToLua(lState, params))
	lState.Push(goToLua(lState, prev))
	if err := lState.PCall(2, 1, nil); err != nil {
		return nil, fmt.Errorf("run(): %w", err)
	}

	ret := lState.Get(-1)
	lState.Pop(1)
	return luaToGo(ret), nil
}

// osModuleLoader provides a minimal os module: getenv only.
func osModuleLoader(lState *lua.LState) int {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		key := ls.CheckString(1)
		val := os.Getenv(key)
		if val == "" {
			ls.Push(lua.LNil)
		} else {
			ls.Push(lua.LString(val))
		}
		return 1
	}))
	lState.Push(mod)
	return 1
}

func goToLua(l *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case []any:
		tbl := l.NewTable()
		for _, item := range t {
			tbl.Append(goToLua(l, item))
		}
		return tbl
	case map[string]any:
		tbl := l.NewTable()
		for k, item := range t {
			l.SetField(tbl, k, goToLua(l, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", t))
	}
}

func luaToGo(v lua.LValue) any {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(t)
	case lua.LString:
		return string(t)
	case lua.LNumber:
		return float64(t)
	case *lua.LTable:
		// A table with consecutive integer keys from 1 is an array.
		if t.Len() > 0 {
			arr := make([]any, 0, t.Len())
			for i := 1; i <= t.Len(); i++ {
				arr = append(arr, luaToGo(t.RawGetInt(i)))
			}
			return arr
		}
		obj := make(map[string]any)
		t.ForEach(func(k, val lua.LValue) {
			obj[k.String()] = luaToGo(val)
		})
		return obj
	default:
		return t.String()
	}
}
