package script

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/stratawm/strata/scripting/internal/logging"
)

// strippedGlobals are removed after opening the base library. Config
// scripts drive the compositor; they do not load code from arbitrary
// paths or strings at runtime. The loader is the only way code enters
// the state.
var strippedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require"}

// newState builds the sandboxed interpreter: only the base, table,
// string and math libraries, no loaders, and print routed into the
// structured log so stdout stays clean for child processes.
func newState(logger *logging.Logger) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range strippedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		logger.Info("print", zap.String("message", strings.Join(parts, "\t")))
		return 0
	}))

	return L
}
