package config

import (
	"context"
	"fmt"
	"math"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/buckle/internal/platform"
)

// luaGlobal is the table a Lua project file must define.
const luaGlobal = "buckle"

// HostInfo is exposed to Lua project files as the read-only platform table.
type HostInfo struct {
	Info   *platform.Info
	Triple platform.Triple
}

// ParseError represents a project file that could not be parsed.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw parser error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// parseLua evaluates a Lua project file in a sandbox and converts its
// global "buckle" table into plain Go values.
func parseLua(ctx context.Context, src []byte, host *HostInfo) (map[string]any, error) {
	L := newSandboxedVM()
	defer L.Close()

	ctx, cancel := context.WithTimeout(ctx, LuaTimeout)
	defer cancel()
	L.SetContext(ctx)

	if host != nil && host.Info != nil {
		if err := platform.InjectPlatformTable(L, host.Info, host.Triple); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(string(src)); err != nil {
		return nil, &ParseError{Message: "Lua error", Detail: trimTraceback(err.Error())}
	}

	value := L.GetGlobal(luaGlobal)
	table, ok := value.(*lua.LTable)
	if !ok {
		return nil, &ParseError{
			Message: fmt.Sprintf("missing or invalid '%s' table", luaGlobal),
			Detail:  fmt.Sprintf("expected table, got %s", value.Type()),
		}
	}

	converted, err := luaToGo(table, luaGlobal, 0)
	if err != nil {
		return nil, &ParseError{Message: "unsupported value", Detail: err.Error()}
	}
	m, ok := converted.(map[string]any)
	if !ok {
		// An empty table converts to an empty map; a non-empty array is
		// not a valid top level.
		return nil, &ParseError{Message: fmt.Sprintf("'%s' must be a table of keys", luaGlobal), Detail: "got an array"}
	}
	return m, nil
}

// luaToGo converts a Lua value. Tables with only consecutive integer keys
// from 1 become slices, other tables become maps with string keys. Nil
// entries, as produced by platform.when(...), are dropped.
func luaToGo(v lua.LValue, path string, depth int) (any, error) {
	if depth > 32 {
		return nil, fmt.Errorf("%s: nested too deeply", path)
	}

	switch val := v.(type) {
	case lua.LString:
		return string(val), nil
	case lua.LBool:
		return bool(val), nil
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case *lua.LTable:
		return tableToGo(val, path, depth)
	default:
		return nil, fmt.Errorf("%s: cannot use a Lua %s as a config value", path, v.Type())
	}
}

func tableToGo(t *lua.LTable, path string, depth int) (any, error) {
	maxIndex := 0
	isArray := true
	t.ForEach(func(k, _ lua.LValue) {
		num, ok := k.(lua.LNumber)
		if !ok || float64(num) != math.Trunc(float64(num)) || num < 1 {
			isArray = false
			return
		}
		if int(num) > maxIndex {
			maxIndex = int(num)
		}
	})

	if isArray && maxIndex > 1<<16 {
		return nil, fmt.Errorf("%s: array index %d too large", path, maxIndex)
	}
	if isArray && maxIndex > 0 {
		out := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			item := t.RawGetInt(i)
			if item == lua.LNil {
				continue
			}
			converted, err := luaToGo(item, fmt.Sprintf("%s[%d]", path, i), depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	}

	var convErr error
	out := make(map[string]any)
	t.ForEach(func(k, item lua.LValue) {
		if convErr != nil || item == lua.LNil {
			return
		}
		key, ok := k.(lua.LString)
		if !ok {
			convErr = fmt.Errorf("%s: table keys must be strings, got %s", path, k.Type())
			return
		}
		converted, err := luaToGo(item, path+"."+string(key), depth+1)
		if err != nil {
			convErr = err
			return
		}
		out[string(key)] = converted
	})
	if convErr != nil {
		return nil, convErr
	}
	return out, nil
}

// trimTraceback drops the stack traceback from a Lua error message.
func trimTraceback(detail string) string {
	if idx := strings.Index(detail, "stack traceback"); idx > 0 {
		return strings.TrimSpace(detail[:idx])
	}
	return detail
}
