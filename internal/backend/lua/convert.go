package lua

import (
	"fmt"
	"sort"

	glua "github.com/yuin/gopher-lua"
)

// fromLua converts a Lua value into plain Go values. Tables whose keys are
// exactly 1..n become []any; other tables become map[string]any.
func fromLua(lv glua.LValue) any {
	switch v := lv.(type) {
	case *glua.LNilType:
		return nil
	case glua.LBool:
		return bool(v)
	case glua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case glua.LString:
		return string(v)
	case *glua.LTable:
		return tableFromLua(v)
	default:
		return lv.String()
	}
}

func tableFromLua(t *glua.LTable) any {
	n := t.MaxN()
	count := 0
	t.ForEach(func(glua.LValue, glua.LValue) { count++ })

	if n > 0 && n == count {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, fromLua(t.RawGetInt(i)))
		}
		return out
	}

	out := make(map[string]any, count)
	t.ForEach(func(k, v glua.LValue) {
		out[glua.LVAsString(k)] = fromLua(v)
	})
	return out
}

// toLua converts a Go value into a Lua value.
func toLua(L *glua.LState, v any) glua.LValue {
	switch val := v.(type) {
	case nil:
		return glua.LNil
	case glua.LValue:
		return val
	case bool:
		return glua.LBool(val)
	case string:
		return glua.LString(val)
	case int:
		return glua.LNumber(val)
	case int32:
		return glua.LNumber(val)
	case int64:
		return glua.LNumber(val)
	case uint:
		return glua.LNumber(val)
	case uint64:
		return glua.LNumber(val)
	case float32:
		return glua.LNumber(val)
	case float64:
		return glua.LNumber(val)
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(toLua(L, item))
		}
		return t
	case []string:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(glua.LString(item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, toLua(L, val[k]))
		}
		return t
	case map[string]string:
		t := L.CreateTable(0, len(val))
		for k, s := range val {
			t.RawSetString(k, glua.LString(s))
		}
		return t
	case fmt.Stringer:
		return glua.LString(val.String())
	default:
		return glua.LString(fmt.Sprint(val))
	}
}
