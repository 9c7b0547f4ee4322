package vm_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayton-lang/kayton/pkg/bytecode"
	"github.com/kayton-lang/kayton/pkg/vm"
)

// A type error three frames deep should report the whole call chain,
// innermost first.
func TestRuntimeErrorCarriesStackTrace(t *testing.T) {
	h := newTestHost(t)
	m := bytecode.NewModule()
	notABool := m.AddConstant(bytecode.IntConstant(1))

	inner := m.AddFunction(bytecode.Function{
		Name: "inner",
		Instructions: []bytecode.Instruction{
			bytecode.LoadConst(notABool),
			bytecode.Not,
			bytecode.Return,
		},
	})
	middle := m.AddFunction(bytecode.Function{
		Name: "middle",
		Instructions: []bytecode.Instruction{
			bytecode.CallFn(inner, 0),
			bytecode.Return,
		},
	})
	m.AddFunction(bytecode.Function{
		Name: "main",
		Instructions: []bytecode.Instruction{
			bytecode.CallFn(middle, 0),
			bytecode.Return,
		},
	})

	_, err := vm.RunModule(m, "main", h.APICtx())
	require.Error(t, err)

	var runtimeErr *vm.RuntimeError
	require.ErrorAs(t, err, &runtimeErr)
	require.Len(t, runtimeErr.StackTrace, 3)
	assert.Equal(t, "inner", runtimeErr.StackTrace[0].Function)
	assert.Equal(t, "middle", runtimeErr.StackTrace[1].Function)
	assert.Equal(t, "main", runtimeErr.StackTrace[2].Function)
	assert.Contains(t, runtimeErr.Error(), "stack trace")
	assert.True(t, strings.Contains(runtimeErr.Error(), "inner"))
}
