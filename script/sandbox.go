package script

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/Shopify/go-lua"
)

// setupSandbox creates a safe Lua environment.
func setupSandbox(l *lua.State) {
	lua.Require(l, "_G", lua.BaseOpen, true)
	l.Pop(1)
	lua.Require(l, "string", lua.StringOpen, true)
	l.Pop(1)
	lua.Require(l, "table", lua.TableOpen, true)
	l.Pop(1)
	lua.Require(l, "math", lua.MathOpen, true)
	l.Pop(1)

	// os is limited to time functions.
	lua.Require(l, "os", lua.OSOpen, true)
	l.Pop(1)
	l.Global("os")
	for _, name := range []string{"execute", "exit", "getenv", "remove", "rename", "setlocale", "tmpname"} {
		l.PushNil()
		l.SetField(-2, name)
	}
	l.Pop(1)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		l.PushNil()
		l.SetGlobal(name)
	}

	l.Register("json_encode", jsonEncode)
	l.Register("json_decode", jsonDecode)
	l.Register("str_trim", strTrim)
	l.Register("str_split", strSplit)
	l.Register("str_contains", strContains)
	l.Register("type_of", typeOf)
}

// pushValue converts a Go value to Lua.
func pushValue(l *lua.State, v any) {
	switch val := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(val)
	case int:
		l.PushInteger(val)
	case int64:
		l.PushInteger(int(val))
	case uint64:
		l.PushNumber(float64(val))
	case float32:
		l.PushNumber(float64(val))
	case float64:
		l.PushNumber(val)
	case string:
		l.PushString(val)
	case []any:
		l.NewTable()
		for i, item := range val {
			l.PushInteger(i + 1)
			pushValue(l, item)
			l.SetTable(-3)
		}
	case []string:
		l.NewTable()
		for i, item := range val {
			l.PushInteger(i + 1)
			l.PushString(item)
			l.SetTable(-3)
		}
	case map[string]any:
		l.NewTable()
		for k, v := range val {
			l.PushString(k)
			pushValue(l, v)
			l.SetTable(-3)
		}
	case map[string]string:
		l.NewTable()
		for k, v := range val {
			l.PushString(k)
			l.PushString(v)
			l.SetTable(-3)
		}
	default:
		// Anything else goes through its JSON form.
		data, err := json.Marshal(val)
		if err != nil {
			l.PushNil()
			return
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			l.PushNil()
			return
		}
		pushValue(l, generic)
	}
}

// pullValue converts a Lua value to Go.
func pullValue(l *lua.State, idx int) any {
	switch l.TypeOf(idx) {
	case lua.TypeNil:
		return nil
	case lua.TypeBoolean:
		return l.ToBoolean(idx)
	case lua.TypeNumber:
		n, _ := l.ToNumber(idx)
		return n
	case lua.TypeString:
		s, _ := l.ToString(idx)
		return s
	case lua.TypeTable:
		return pullTable(l, idx)
	default:
		return nil
	}
}

// pullTable converts a table whose keys are exactly 1..n into a slice and
// any other table into a map keyed by the string form of its keys. Keys
// that are neither strings, numbers nor booleans are dropped.
func pullTable(l *lua.State, idx int) any {
	l.PushValue(idx)
	defer l.Pop(1)

	count, maxIndex := 0, 0
	sequence := true
	l.PushNil()
	for l.Next(-2) {
		count++
		if i, ok := arrayIndex(l, -2); ok && sequence {
			maxIndex = max(maxIndex, i)
		} else {
			sequence = false
		}
		l.Pop(1)
	}

	if sequence && count > 0 && maxIndex == count {
		arr := make([]any, count)
		for i := 1; i <= count; i++ {
			l.RawGetInt(-1, i)
			arr[i-1] = pullValue(l, -1)
			l.Pop(1)
		}
		return arr
	}

	obj := make(map[string]any, count)
	l.PushNil()
	for l.Next(-2) {
		if key, ok := tableKey(l, -2); ok {
			obj[key] = pullValue(l, -1)
		}
		l.Pop(1)
	}
	return obj
}

// arrayIndex reports whether the key at idx is a positive integer.
func arrayIndex(l *lua.State, idx int) (int, bool) {
	if l.TypeOf(idx) != lua.TypeNumber {
		return 0, false
	}
	n, _ := l.ToNumber(idx)
	if n < 1 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

// tableKey formats the key at idx. It never calls ToString on a number,
// which would convert the key in place and break the enclosing Next.
func tableKey(l *lua.State, idx int) (string, bool) {
	switch l.TypeOf(idx) {
	case lua.TypeString:
		s, _ := l.ToString(idx)
		return s, true
	case lua.TypeNumber:
		n, _ := l.ToNumber(idx)
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case lua.TypeBoolean:
		return strconv.FormatBool(l.ToBoolean(idx)), true
	default:
		return "", false
	}
}

func jsonEncode(l *lua.State) int {
	data, err := json.Marshal(pullValue(l, 1))
	if err != nil {
		l.PushNil()
		l.PushString(err.Error())
		return 2
	}
	l.PushString(string(data))
	return 1
}

func jsonDecode(l *lua.State) int {
	str := lua.CheckString(l, 1)
	var value any
	if err := json.Unmarshal([]byte(str), &value); err != nil {
		l.PushNil()
		l.PushString(err.Error())
		return 2
	}
	pushValue(l, value)
	return 1
}

func strTrim(l *lua.State) int {
	l.PushString(strings.TrimSpace(lua.CheckString(l, 1)))
	return 1
}

func strSplit(l *lua.State) int {
	parts := strings.Split(lua.CheckString(l, 1), lua.CheckString(l, 2))
	l.NewTable()
	for i, part := range parts {
		l.PushInteger(i + 1)
		l.PushString(part)
		l.SetTable(-3)
	}
	return 1
}

func strContains(l *lua.State) int {
	l.PushBoolean(strings.Contains(lua.CheckString(l, 1), lua.CheckString(l, 2)))
	return 1
}

func typeOf(l *lua.State) int {
	switch l.TypeOf(1) {
	case lua.TypeNil:
		l.PushString("nil")
	case lua.TypeBoolean:
		l.PushString("boolean")
	case lua.TypeNumber:
		l.PushString("number")
	case lua.TypeString:
		l.PushString("string")
	case lua.TypeTable:
		l.PushString("table")
	case lua.TypeFunction:
		l.PushString("function")
	default:
		l.PushString("unknown")
	}
	return 1
}
