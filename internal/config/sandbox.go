package config

import (
	lua "github.com/yuin/gopher-lua"
)

// sandboxLibs are the only standard libraries opened in a config VM.
var sandboxLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// blockedGlobals are base-library functions that could load code, reach
// the filesystem, or bypass the read-only platform table.
var blockedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"module",
	"collectgarbage",
	"getmetatable",
	"setmetatable",
	"rawset",
	"rawget",
	"rawequal",
	"getfenv",
	"setfenv",
	"newproxy",
}

// newSandboxedVM creates a Lua VM for evaluating project files. Only the
// base, table, string and math libraries exist; os, io, package and debug
// are never opened.
func newSandboxedVM() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: 256,
		RegistrySize:  1024 * 8,
	})
	for _, lib := range sandboxLibs {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}
