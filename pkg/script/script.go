// Package script embeds a Lua interpreter so one-off stimulus sequences can
// be generated without recompiling: the vector builder, the JTAG driver and
// the debug TAPs of a chip target are exposed as Lua modules.
package script

import (
	"fmt"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/chips"
	"github.com/pulp-platform/dumpling/pkg/vector"
	lua "github.com/yuin/gopher-lua"
)

// Runner owns the Lua state and the chip target a script operates on.
type Runner struct {
	L      *lua.LState
	target *chips.Target
}

// NewRunner creates a Lua state with the dumpling API installed.
func NewRunner(target *chips.Target) *Runner {
	r := &Runner{L: lua.NewState(), target: target}
	r.setupAPI()
	return r
}

// Close releases the Lua state.
func (r *Runner) Close() {
	r.L.Close()
}

// RunFile executes a script file. Vector generation errors inside API
// functions surface as Lua errors with the Go error text.
func (r *Runner) RunFile(path string) error {
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	return nil
}

// vectorsType is the userdata type wrapping []vector.Vector values passed
// between API calls.
const vectorsType = "dumpling.vectors"

func (r *Runner) wrapVectors(vectors []vector.Vector) *lua.LUserData {
	ud := r.L.NewUserData()
	ud.Value = vectors
	r.L.SetMetatable(ud, r.L.GetTypeMetatable(vectorsType))
	return ud
}

func (r *Runner) checkVectors(n int) []vector.Vector {
	ud := r.L.CheckUserData(n)
	if v, ok := ud.Value.([]vector.Vector); ok {
		return v
	}
	r.L.ArgError(n, "vectors expected")
	return nil
}

// setupAPI installs the builder, jtag, riscv, pulp and writer modules.
func (r *Runner) setupAPI() {
	mt := r.L.NewTypeMetatable(vectorsType)
	r.L.SetField(mt, "__index", r.L.NewFunction(func(L *lua.LState) int {
		return 0
	}))

	r.L.SetGlobal("builder", r.builderModule())
	r.L.SetGlobal("jtag", r.jtagModule())
	r.L.SetGlobal("writer", r.writerModule())
	if r.target.RISCV != nil {
		r.L.SetGlobal("riscv", r.riscvModule())
	}
	if r.target.Pulp != nil {
		r.L.SetGlobal("pulp", r.pulpModule())
	}
	r.L.SetGlobal("CHIP", lua.LString(r.target.Name))
}

func (r *Runner) builderModule() *lua.LTable {
	module := r.L.NewTable()
	r.L.SetField(module, "set", r.L.NewFunction(func(L *lua.LState) int {
		pin := L.CheckString(1)
		state := L.CheckString(2)
		if len(state) != 1 {
			L.ArgError(2, "single state character expected")
		}
		if err := r.target.Builder.Set(pin, vector.State(state[0])); err != nil {
			L.RaiseError("%v", err)
		}
		return 0
	}))
	r.L.SetField(module, "vector", r.L.NewFunction(func(L *lua.LState) int {
		repeat := uint(L.OptInt(1, 1))
		comment := L.OptString(2, "")
		v := r.target.Builder.Vector(repeat, comment)
		L.Push(r.wrapVectors([]vector.Vector{v}))
		return 1
	}))
	r.L.SetField(module, "init", r.L.NewFunction(func(L *lua.LState) int {
		r.target.Builder.Init()
		return 0
	}))
	return module
}

func (r *Runner) jtagModule() *lua.LTable {
	module := r.L.NewTable()
	r.L.SetField(module, "reset", r.L.NewFunction(func(L *lua.LState) int {
		L.Push(r.wrapVectors(r.target.Driver.Reset()))
		return 1
	}))
	r.L.SetField(module, "idle", r.L.NewFunction(func(L *lua.LState) int {
		count := L.OptInt(1, 1)
		L.Push(r.wrapVectors(r.target.Driver.IdleVectors(count)))
		return 1
	}))
	return module
}

func (r *Runner) riscvModule() *lua.LTable {
	module := r.L.NewTable()
	tap := r.target.RISCV
	r.L.SetField(module, "init_dmi", r.L.NewFunction(func(L *lua.LState) int {
		L.Push(r.wrapVectors(tap.InitDMI()))
		return 1
	}))
	r.L.SetField(module, "verify_idcode", r.L.NewFunction(func(L *lua.LState) int {
		vectors, err := tap.VerifyIDCode()
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(r.wrapVectors(vectors))
		return 1
	}))
	r.L.SetField(module, "halt", r.L.NewFunction(func(L *lua.LState) int {
		hart := r.checkBits(L, 1)
		wait := uint(L.OptInt(2, 10))
		vectors, err := tap.HaltHartNoLoop(hart, wait, "")
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(r.wrapVectors(vectors))
		return 1
	}))
	r.L.SetField(module, "resume", r.L.NewFunction(func(L *lua.LState) int {
		hart := r.checkBits(L, 1)
		wait := uint(L.OptInt(2, 10))
		vectors, err := tap.ResumeHartsNoLoop(hart, wait, "")
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(r.wrapVectors(vectors))
		return 1
	}))
	r.L.SetField(module, "write_mem", r.L.NewFunction(func(L *lua.LState) int {
		addr := r.checkBits(L, 1)
		data := r.checkBits(L, 2)
		vectors, err := tap.WriteMem(addr, data, false, 1, L.OptString(3, ""))
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(r.wrapVectors(vectors))
		return 1
	}))
	r.L.SetField(module, "read_mem", r.L.NewFunction(func(L *lua.LState) int {
		addr := r.checkBits(L, 1)
		expected := r.checkBits(L, 2)
		wait := uint(L.OptInt(3, 10))
		vectors, err := tap.ReadMemNoLoop(addr, expected.Bin(), wait, L.OptString(4, ""))
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(r.wrapVectors(vectors))
		return 1
	}))
	return module
}

func (r *Runner) pulpModule() *lua.LTable {
	module := r.L.NewTable()
	tap := r.target.Pulp
	r.L.SetField(module, "init", r.L.NewFunction(func(L *lua.LState) int {
		L.Push(r.wrapVectors(tap.Init()))
		return 1
	}))
	r.L.SetField(module, "write32", r.L.NewFunction(func(L *lua.LState) int {
		addr := r.checkBits(L, 1)
		data := r.checkBits(L, 2)
		vectors, err := tap.Write32(addr, []bits.Array{data}, L.OptString(3, ""))
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(r.wrapVectors(vectors))
		return 1
	}))
	r.L.SetField(module, "read32", r.L.NewFunction(func(L *lua.LState) int {
		addr := r.checkBits(L, 1)
		expected := r.checkBits(L, 2)
		wait := int(L.OptInt(3, 2))
		vectors, err := tap.Read32NoLoop(addr, []bits.Array{expected}, wait, L.OptString(4, ""))
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(r.wrapVectors(vectors))
		return 1
	}))
	return module
}

func (r *Runner) writerModule() *lua.LTable {
	module := r.L.NewTable()
	r.L.SetField(module, "write", r.L.NewFunction(func(L *lua.LState) int {
		vectors := r.checkVectors(1)
		compress := false
		if L.GetTop() >= 2 {
			compress = L.CheckBool(2)
		}
		if err := r.target.Writer.WriteVectors(vectors, compress); err != nil {
			L.RaiseError("%v", err)
		}
		return 0
	}))
	return module
}

// checkBits parses a Lua string argument ("0x…" or "0b…") into a bit array
// zero extended to 32 bits; values of 32 bits or more are returned unchanged.
func (r *Runner) checkBits(L *lua.LState, n int) bits.Array {
	parsed, err := bits.Parse(L.CheckString(n))
	if err != nil {
		L.ArgError(n, err.Error())
	}
	if parsed.Len() >= 32 {
		return parsed
	}
	full := bits.New(32)
	if err := full.SetSlice(0, parsed); err != nil {
		L.ArgError(n, err.Error())
	}
	return full
}
