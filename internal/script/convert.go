package script

import (
	"fmt"

	"github.com/bytedance/sonic"
	lua "github.com/yuin/gopher-lua"
)

// ToLua converts plain Go data into its Lua representation. Structs
// and anything else without a direct mapping go through their JSON
// form, so boundary types only need json tags to cross over.
func ToLua(L *lua.LState, val any) lua.LValue {
	switch v := val.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case uint32:
		return lua.LNumber(v)
	case uint64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []byte:
		return lua.LString(v)
	case []any:
		tbl := L.NewTable()
		for i, item := range v {
			L.RawSetInt(tbl, i+1, ToLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for i, item := range v {
			L.RawSetInt(tbl, i+1, lua.LString(item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range v {
			L.SetField(tbl, k, ToLua(L, item))
		}
		return tbl
	case map[string]string:
		tbl := L.NewTable()
		for k, item := range v {
			L.SetField(tbl, k, lua.LString(item))
		}
		return tbl
	default:
		if lv, err := toLuaJSON(L, val); err == nil {
			return lv
		}
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

func toLuaJSON(L *lua.LState, val any) (lua.LValue, error) {
	data, err := sonic.Marshal(val)
	if err != nil {
		return lua.LNil, err
	}
	var plain any
	if err := sonic.Unmarshal(data, &plain); err != nil {
		return lua.LNil, err
	}
	return ToLua(L, plain), nil
}

// FromLua converts a Lua value into plain Go data. Tables with only
// positive integer keys become slices, everything else a string map;
// keys that are neither strings nor numbers are dropped.
func FromLua(val lua.LValue) any {
	switch v := val.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		maxN := 0
		hasOther := false
		v.ForEach(func(key, _ lua.LValue) {
			if n, ok := key.(lua.LNumber); ok && n == lua.LNumber(int(n)) && int(n) > 0 {
				if int(n) > maxN {
					maxN = int(n)
				}
				return
			}
			hasOther = true
		})

		if maxN > 0 && !hasOther {
			arr := make([]any, maxN)
			for i := 1; i <= maxN; i++ {
				arr[i-1] = FromLua(v.RawGetInt(i))
			}
			return arr
		}

		m := make(map[string]any)
		v.ForEach(func(key, value lua.LValue) {
			switch k := key.(type) {
			case lua.LString:
				m[string(k)] = FromLua(value)
			case lua.LNumber:
				m[k.String()] = FromLua(value)
			}
		})
		return m
	default:
		return nil
	}
}
